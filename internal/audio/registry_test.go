package audio

import (
	"sync"
	"testing"
	"time"
)

const testSampleRate = 48000

func secondsOfAudio(sec float64, value float32) []float32 {
	n := int(sec * testSampleRate)
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = value
	}
	return samples
}

func TestAppendThenDrain_PreservesOrder(t *testing.T) {
	r := NewRegistry(testSampleRate, 0.01)
	r.Watch("chan", "alice")

	now := time.Now()
	first := []float32{0.1, 0.2, 0.3}
	second := []float32{0.4, 0.5}
	r.Append("chan", "alice", first, now)
	r.Append("chan", "alice", second, now.Add(20*time.Millisecond))

	d := r.DrainForFlush("chan", "alice", now.Add(time.Second))
	if d == nil {
		t.Fatal("expected drain result")
	}
	want := append(append([]float32{}, first...), second...)
	if len(d.Samples) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(d.Samples))
	}
	for i := range want {
		if d.Samples[i] != want[i] {
			t.Fatalf("sample %d: expected %f, got %f", i, want[i], d.Samples[i])
		}
	}
	if !d.StartedAt.Equal(now) {
		t.Fatalf("expected start timestamp %v, got %v", now, d.StartedAt)
	}
}

func TestAppend_DroppedForUnwatchedSpeaker(t *testing.T) {
	r := NewRegistry(testSampleRate, 0.01)
	r.Append("chan", "ghost", []float32{0.5}, time.Now())
	if d := r.DrainForFlush("chan", "ghost", time.Now()); d != nil {
		t.Fatal("expected no buffer for unwatched speaker")
	}

	r.Watch("chan", "alice")
	r.Append("chan", "alice", []float32{0.5}, time.Now())
	r.Unwatch("chan", "alice")
	r.Append("chan", "alice", []float32{0.6}, time.Now())

	d := r.DrainForFlush("chan", "alice", time.Now())
	if d == nil {
		t.Fatal("expected drain of pre-leave audio")
	}
	if len(d.Samples) != 1 {
		t.Fatalf("expected only pre-leave sample, got %d", len(d.Samples))
	}
}

func TestDrainForFlush_EmptyBufferIsNoop(t *testing.T) {
	r := NewRegistry(testSampleRate, 0.01)
	r.Watch("chan", "alice")
	r.Append("chan", "alice", []float32{0.5}, time.Now())

	if d := r.DrainForFlush("chan", "alice", time.Now()); d == nil {
		t.Fatal("expected first drain to return samples")
	}
	r.Release("chan", "alice")
	if d := r.DrainForFlush("chan", "alice", time.Now()); d != nil {
		t.Fatal("expected drain of empty buffer to be a no-op")
	}
}

func TestDrainForFlush_ConcurrentSingleWinner(t *testing.T) {
	r := NewRegistry(testSampleRate, 0.01)
	r.Watch("chan", "alice")
	r.Append("chan", "alice", secondsOfAudio(1, 0.2), time.Now())

	const attempts = 16
	var wg sync.WaitGroup
	results := make([]*Drain, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.DrainForFlush("chan", "alice", time.Now())
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, d := range results {
		if d != nil {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one drain winner, got %d", winners)
	}
}

func TestDrainForFlush_BusyUntilReleased(t *testing.T) {
	r := NewRegistry(testSampleRate, 0.01)
	r.Watch("chan", "alice")
	now := time.Now()
	r.Append("chan", "alice", []float32{0.5}, now)

	if d := r.DrainForFlush("chan", "alice", now); d == nil {
		t.Fatal("expected drain result")
	}
	// New audio arrives while the job is in flight.
	r.Append("chan", "alice", []float32{0.7}, now.Add(time.Second))
	if d := r.DrainForFlush("chan", "alice", now.Add(2*time.Second)); d != nil {
		t.Fatal("expected drain to be refused while busy")
	}
	r.Release("chan", "alice")
	d := r.DrainForFlush("chan", "alice", now.Add(3*time.Second))
	if d == nil {
		t.Fatal("expected drain after release")
	}
	if d.Seq != 1 {
		t.Fatalf("expected second utterance seq 1, got %d", d.Seq)
	}
}

func TestAppendDuringDrain_NoSampleLoss(t *testing.T) {
	r := NewRegistry(testSampleRate, 0.01)
	r.Watch("chan", "alice")
	now := time.Now()

	total := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			r.Append("chan", "alice", []float32{float32(i)}, now)
		}
	}()

	for i := 0; i < 50; i++ {
		if d := r.DrainForFlush("chan", "alice", now); d != nil {
			total += len(d.Samples)
			r.Release("chan", "alice")
		}
	}
	<-done
	if d := r.DrainForFlush("chan", "alice", now); d != nil {
		total += len(d.Samples)
		r.Release("chan", "alice")
	}
	if total != 200 {
		t.Fatalf("expected 200 samples across drains, got %d", total)
	}
}

func TestDestroy_BypassesBusyAndRemovesIdentity(t *testing.T) {
	r := NewRegistry(testSampleRate, 0.01)
	r.Watch("chan", "alice")
	now := time.Now()
	r.Append("chan", "alice", []float32{0.5}, now)

	if d := r.DrainForFlush("chan", "alice", now); d == nil {
		t.Fatal("expected drain result")
	}
	r.Append("chan", "alice", []float32{0.9}, now.Add(time.Second))

	d := r.Destroy("chan", "alice", now.Add(2*time.Second))
	if d == nil || len(d.Samples) != 1 {
		t.Fatalf("expected destroy to return trailing audio, got %+v", d)
	}
	if _, _, ok := r.PeekDuration("chan", "alice"); ok {
		t.Fatal("expected buffer identity to be gone after destroy")
	}
	r.Append("chan", "alice", []float32{0.1}, now.Add(3*time.Second))
	if d := r.DrainForFlush("chan", "alice", now.Add(4*time.Second)); d != nil {
		t.Fatal("expected appends after destroy to be dropped")
	}
}

func TestPeekDuration_ReportsAccumulation(t *testing.T) {
	r := NewRegistry(testSampleRate, 0.01)
	r.Watch("chan", "alice")
	now := time.Now()
	r.Append("chan", "alice", secondsOfAudio(1, 0.2), now)

	dur, lastSpeech, ok := r.PeekDuration("chan", "alice")
	if !ok {
		t.Fatal("expected buffer to exist")
	}
	if dur != time.Second {
		t.Fatalf("expected 1s accumulated, got %s", dur)
	}
	if !lastSpeech.Equal(now) {
		t.Fatalf("expected last speech at %v, got %v", now, lastSpeech)
	}
}

func TestVoiceActivity_SilentFramesDoNotAdvanceSpeechClock(t *testing.T) {
	r := NewRegistry(testSampleRate, 0.01)
	r.Watch("chan", "alice")
	now := time.Now()
	r.Append("chan", "alice", secondsOfAudio(1, 0.2), now)
	// Near-silent frame later must not reset the silence window.
	r.Append("chan", "alice", secondsOfAudio(0.5, 0.0001), now.Add(2*time.Second))

	dur, lastSpeech, _ := r.PeekDuration("chan", "alice")
	if dur != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s accumulated, got %s", dur)
	}
	if !lastSpeech.Equal(now) {
		t.Fatalf("expected speech clock to stay at %v, got %v", now, lastSpeech)
	}
}

func TestDrainChannel_KeepsIdentities(t *testing.T) {
	r := NewRegistry(testSampleRate, 0.01)
	r.Watch("chan", "alice")
	r.Watch("chan", "bob")
	r.Watch("other", "carol")
	now := time.Now()
	r.Append("chan", "alice", []float32{0.5}, now)
	r.Append("chan", "bob", []float32{0.6}, now)
	r.Append("other", "carol", []float32{0.7}, now)

	drains := r.DrainChannel("chan", now.Add(time.Second))
	if len(drains) != 2 {
		t.Fatalf("expected 2 drains, got %d", len(drains))
	}
	if _, _, ok := r.PeekDuration("chan", "alice"); !ok {
		t.Fatal("expected alice's buffer to survive a channel drain")
	}
	if dur, _, _ := r.PeekDuration("other", "carol"); dur == 0 {
		t.Fatal("expected carol's audio to be untouched")
	}
}

func TestDrainAll_SkipsBusyBuffers(t *testing.T) {
	r := NewRegistry(testSampleRate, 0.01)
	r.Watch("chan", "alice")
	r.Watch("chan", "bob")
	now := time.Now()
	r.Append("chan", "alice", []float32{0.5}, now)
	r.Append("chan", "bob", []float32{0.6}, now)

	// Alice's buffer is held by an outstanding flush; new audio for her
	// must not be handed out until that flush releases.
	if d := r.DrainForFlush("chan", "alice", now); d == nil {
		t.Fatal("expected alice's drain")
	}
	r.Append("chan", "alice", []float32{0.7}, now.Add(time.Second))

	drains := r.DrainAll(now.Add(2 * time.Second))
	if len(drains) != 1 || drains[0].SpeakerID != "bob" {
		t.Fatalf("expected only bob's buffer drained, got %+v", drains)
	}

	r.Release("chan", "alice")
	drains = r.DrainAll(now.Add(3 * time.Second))
	if len(drains) != 1 || drains[0].SpeakerID != "alice" {
		t.Fatalf("expected alice's leftover after release, got %+v", drains)
	}
	// The drain holds the busy flag until released.
	if d := r.DrainForFlush("chan", "alice", now.Add(4*time.Second)); d != nil {
		t.Fatal("expected alice busy while her swap drain is outstanding")
	}
}
