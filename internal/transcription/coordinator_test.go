package transcription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ottergrove/voicegrain/internal/audio"
	"github.com/ottergrove/voicegrain/internal/repository"
)

const testSampleRate = 48000

type mockUtteranceRepo struct {
	mu        sync.Mutex
	inserts   []repository.InsertUtteranceInput
	insertErr error
	failOnce  bool
}

func (m *mockUtteranceRepo) InsertUtterance(_ context.Context, input repository.InsertUtteranceInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		err := m.insertErr
		if m.failOnce {
			m.insertErr = nil
		}
		return err
	}
	m.inserts = append(m.inserts, input)
	return nil
}

func (m *mockUtteranceRepo) ListUtterancesBySessionID(_ context.Context, _ string) ([]repository.Utterance, error) {
	return nil, nil
}

func (m *mockUtteranceRepo) recorded() []repository.InsertUtteranceInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]repository.InsertUtteranceInput, len(m.inserts))
	copy(out, m.inserts)
	return out
}

type mockProvider struct {
	name  string
	mu    sync.Mutex
	calls int
	fn    func(samples []float32) (Result, error)
}

func (p *mockProvider) Name() string { return p.name }

func (p *mockProvider) Transcribe(_ context.Context, samples []float32, _ int) (Result, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.fn != nil {
		return p.fn(samples)
	}
	return Result{Text: p.name + " says hi", Confidence: 0.9}, nil
}

func (p *mockProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type staticResolver map[string]string

func (r staticResolver) ActiveSession(channelID string) (string, bool) {
	id, ok := r[channelID]
	return id, ok
}

func speech(sec float64) []float32 {
	n := int(sec * testSampleRate)
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = 0.25
	}
	return samples
}

func newTestCoordinator(repo repository.UtteranceRepository, p Provider) (*Coordinator, *audio.Registry) {
	registry := audio.NewRegistry(testSampleRate, 0.01)
	c := NewCoordinator(repo, registry, p, testSampleRate, 500*time.Millisecond)
	c.SetSessionResolver(staticResolver{"chan": "session-1"})
	return c, registry
}

func drainFor(registry *audio.Registry, speakerID string, sec float64) *audio.Drain {
	registry.Watch("chan", speakerID)
	registry.Append("chan", speakerID, speech(sec), time.Now())
	return registry.DrainForFlush("chan", speakerID, time.Now())
}

func TestSubmit_CommitsUtterance(t *testing.T) {
	repo := &mockUtteranceRepo{}
	p := &mockProvider{name: "google"}
	c, registry := newTestCoordinator(repo, p)

	c.Submit(context.Background(), drainFor(registry, "alice", 1))

	inserts := repo.recorded()
	if len(inserts) != 1 {
		t.Fatalf("expected one utterance, got %d", len(inserts))
	}
	got := inserts[0]
	if got.SessionID != "session-1" || got.SpeakerID != "alice" || got.SequenceNum != 0 || got.Provider != "google" {
		t.Fatalf("unexpected utterance: %+v", got)
	}
	if got.AudioDuration != time.Second {
		t.Fatalf("expected 1s audio duration, got %s", got.AudioDuration)
	}
	if c.UtteranceCount("session-1") != 1 {
		t.Fatalf("expected utterance count 1, got %d", c.UtteranceCount("session-1"))
	}
}

func TestSubmit_SkipsShortAudio(t *testing.T) {
	repo := &mockUtteranceRepo{}
	p := &mockProvider{name: "google"}
	c, registry := newTestCoordinator(repo, p)

	c.Submit(context.Background(), drainFor(registry, "alice", 0.2))

	if p.callCount() != 0 {
		t.Fatal("expected provider not to be called for short audio")
	}
	// The busy flag must still be released.
	registry.Append("chan", "alice", speech(1), time.Now())
	if d := registry.DrainForFlush("chan", "alice", time.Now()); d == nil {
		t.Fatal("expected buffer to be drainable after a skipped job")
	}
}

func TestSubmit_SkipsEmptyTranscript(t *testing.T) {
	repo := &mockUtteranceRepo{}
	p := &mockProvider{name: "google", fn: func([]float32) (Result, error) {
		return Result{Text: "   "}, nil
	}}
	c, registry := newTestCoordinator(repo, p)

	c.Submit(context.Background(), drainFor(registry, "alice", 1))

	if len(repo.recorded()) != 0 {
		t.Fatal("expected blank transcript not to be committed")
	}
}

func TestSubmit_NoSessionDropsAudio(t *testing.T) {
	repo := &mockUtteranceRepo{}
	p := &mockProvider{name: "google"}
	c, registry := newTestCoordinator(repo, p)
	c.SetSessionResolver(staticResolver{})

	c.Submit(context.Background(), drainFor(registry, "alice", 1))

	if p.callCount() != 0 {
		t.Fatal("expected no provider call without an active session")
	}
}

func TestSubmit_ProviderFailureReportsError(t *testing.T) {
	repo := &mockUtteranceRepo{}
	wantErr := errors.New("backend unavailable")
	p := &mockProvider{name: "google", fn: func([]float32) (Result, error) {
		return Result{}, wantErr
	}}
	c, registry := newTestCoordinator(repo, p)

	c.Submit(context.Background(), drainFor(registry, "alice", 1))

	select {
	case je := <-c.Errors():
		if !errors.Is(je.Err, wantErr) || je.SpeakerID != "alice" || je.Provider != "google" {
			t.Fatalf("unexpected job error: %+v", je)
		}
	default:
		t.Fatal("expected a job error report")
	}
	if len(repo.recorded()) != 0 {
		t.Fatal("expected no utterance after provider failure")
	}
}

func TestCommit_SequenceAdvancesPastRepositoryFailure(t *testing.T) {
	repo := &mockUtteranceRepo{insertErr: errors.New("connection reset"), failOnce: true}
	p := &mockProvider{name: "google"}
	c, registry := newTestCoordinator(repo, p)

	c.Submit(context.Background(), drainFor(registry, "alice", 1))
	registry.Release("chan", "alice")
	registry.Append("chan", "alice", speech(1), time.Now())
	c.Submit(context.Background(), registry.DrainForFlush("chan", "alice", time.Now()))

	inserts := repo.recorded()
	if len(inserts) != 1 {
		t.Fatalf("expected one persisted utterance, got %d", len(inserts))
	}
	if inserts[0].SequenceNum != 1 {
		t.Fatalf("expected sequence to advance past failed write, got %d", inserts[0].SequenceNum)
	}
}

func TestCommit_CompletionOrderAcrossSpeakers(t *testing.T) {
	repo := &mockUtteranceRepo{}
	bobDone := make(chan struct{})
	p := &mockProvider{name: "google"}
	p.fn = func(samples []float32) (Result, error) {
		// Alice's job (2s of audio) stalls until Bob's commits.
		if len(samples) == 2*testSampleRate {
			<-bobDone
			return Result{Text: "alice text", Confidence: 0.8}, nil
		}
		return Result{Text: "bob text", Confidence: 0.8}, nil
	}
	c, registry := newTestCoordinator(repo, p)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.Submit(context.Background(), drainFor(registry, "alice", 2))
	}()
	go func() {
		defer wg.Done()
		c.Submit(context.Background(), drainFor(registry, "bob", 1))
		close(bobDone)
	}()
	wg.Wait()

	inserts := repo.recorded()
	if len(inserts) != 2 {
		t.Fatalf("expected two utterances, got %d", len(inserts))
	}
	if inserts[0].SpeakerID != "bob" || inserts[0].SequenceNum != 0 {
		t.Fatalf("expected bob to commit first with seq 0, got %+v", inserts[0])
	}
	if inserts[1].SpeakerID != "alice" || inserts[1].SequenceNum != 1 {
		t.Fatalf("expected alice to commit second with seq 1, got %+v", inserts[1])
	}
}

func TestSwapProvider_ForceFlushesThroughOldProvider(t *testing.T) {
	repo := &mockUtteranceRepo{}
	oldP := &mockProvider{name: "google"}
	newP := &mockProvider{name: "deepgram"}
	c, registry := newTestCoordinator(repo, oldP)

	// Two speakers with buffered audio under the chunk threshold.
	registry.Watch("chan", "alice")
	registry.Watch("chan", "bob")
	registry.Append("chan", "alice", speech(1), time.Now())
	registry.Append("chan", "bob", speech(1.5), time.Now())

	stats, err := c.SwapProvider(context.Background(), newP)
	if err != nil {
		t.Fatalf("expected swap to succeed, got %v", err)
	}
	if stats.BuffersFlushed != 2 {
		t.Fatalf("expected 2 buffers flushed, got %d", stats.BuffersFlushed)
	}
	if stats.OldProvider != "google" || stats.NewProvider != "deepgram" {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if oldP.callCount() != 2 {
		t.Fatalf("expected both forced flushes on the old provider, got %d", oldP.callCount())
	}
	if newP.callCount() != 0 {
		t.Fatal("expected no calls on the new provider during the swap")
	}
	for _, u := range repo.recorded() {
		if u.Provider != "google" {
			t.Fatalf("forced flush attributed to wrong provider: %+v", u)
		}
	}

	// Audio arriving after the swap goes to the new provider.
	registry.Append("chan", "alice", speech(1), time.Now())
	c.Submit(context.Background(), registry.DrainForFlush("chan", "alice", time.Now()))
	if newP.callCount() != 1 {
		t.Fatalf("expected post-swap drain on new provider, got %d calls", newP.callCount())
	}
	if got := c.ActiveProviderName(); got != "deepgram" {
		t.Fatalf("expected active provider deepgram, got %s", got)
	}
}

func TestSwapProvider_PreservesSpeakerOrder(t *testing.T) {
	repo := &mockUtteranceRepo{}
	releaseFirst := make(chan struct{})
	oldP := &mockProvider{name: "google"}
	oldP.fn = func(samples []float32) (Result, error) {
		// Alice's scheduled job (1s of audio) stalls; her leftover 1.5s
		// arrives while it is still running.
		if len(samples) == testSampleRate {
			<-releaseFirst
			return Result{Text: "earlier audio", Confidence: 0.9}, nil
		}
		return Result{Text: "later audio", Confidence: 0.9}, nil
	}
	c, registry := newTestCoordinator(repo, oldP)

	d := drainFor(registry, "alice", 1)
	submitDone := make(chan struct{})
	go func() {
		c.Submit(context.Background(), d)
		close(submitDone)
	}()
	deadline := time.Now().Add(time.Second)
	for oldP.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if oldP.callCount() != 1 {
		t.Fatal("expected alice's scheduled job to reach the provider")
	}

	registry.Append("chan", "alice", speech(1.5), time.Now())
	swapDone := make(chan SwapStats, 1)
	go func() {
		stats, err := c.SwapProvider(context.Background(), &mockProvider{name: "deepgram"})
		if err != nil {
			t.Errorf("expected swap to succeed, got %v", err)
		}
		swapDone <- stats
	}()

	// The swap must not submit alice's leftover audio while her job is
	// still outstanding.
	time.Sleep(50 * time.Millisecond)
	if got := oldP.callCount(); got != 1 {
		t.Fatalf("leftover audio submitted alongside the outstanding job: %d provider calls", got)
	}

	close(releaseFirst)
	<-submitDone
	stats := <-swapDone

	inserts := repo.recorded()
	if len(inserts) != 2 {
		t.Fatalf("expected two utterances, got %d", len(inserts))
	}
	if inserts[0].Text != "earlier audio" || inserts[0].SequenceNum != 0 {
		t.Fatalf("expected earlier audio to commit with seq 0, got %+v", inserts[0])
	}
	if inserts[1].Text != "later audio" || inserts[1].SequenceNum != 1 {
		t.Fatalf("expected later audio to commit with seq 1, got %+v", inserts[1])
	}
	if inserts[1].Provider != "google" {
		t.Fatalf("leftover audio attributed to wrong provider: %+v", inserts[1])
	}
	if stats.BuffersFlushed != 1 {
		t.Fatalf("expected one buffer flushed, got %d", stats.BuffersFlushed)
	}
}

func TestSwapProvider_StatsExcludeSkippedLeftovers(t *testing.T) {
	repo := &mockUtteranceRepo{}
	oldP := &mockProvider{name: "google"}
	c, registry := newTestCoordinator(repo, oldP)

	// Below the 500ms minimum, so the drain is discarded, not transcribed.
	registry.Watch("chan", "alice")
	registry.Append("chan", "alice", speech(0.2), time.Now())

	stats, err := c.SwapProvider(context.Background(), &mockProvider{name: "deepgram"})
	if err != nil {
		t.Fatalf("expected swap to succeed, got %v", err)
	}
	if stats.BuffersFlushed != 1 {
		t.Fatalf("expected one buffer flushed, got %d", stats.BuffersFlushed)
	}
	if stats.JobsDrained != 0 {
		t.Fatalf("expected no jobs drained for a skipped leftover, got %d", stats.JobsDrained)
	}
	if oldP.callCount() != 0 {
		t.Fatalf("expected no provider calls, got %d", oldP.callCount())
	}
	if len(repo.recorded()) != 0 {
		t.Fatal("expected no utterances for audio under the minimum duration")
	}
}

func TestSwapProvider_RejectsConcurrentSwap(t *testing.T) {
	repo := &mockUtteranceRepo{}
	inSwap := make(chan struct{})
	releaseSwap := make(chan struct{})
	oldP := &mockProvider{name: "google"}
	oldP.fn = func([]float32) (Result, error) {
		close(inSwap)
		<-releaseSwap
		return Result{Text: "slow"}, nil
	}
	c, registry := newTestCoordinator(repo, oldP)
	registry.Watch("chan", "alice")
	registry.Append("chan", "alice", speech(1), time.Now())

	firstDone := make(chan error, 1)
	go func() {
		_, err := c.SwapProvider(context.Background(), &mockProvider{name: "deepgram"})
		firstDone <- err
	}()
	<-inSwap

	if _, err := c.SwapProvider(context.Background(), &mockProvider{name: "vosk"}); !errors.Is(err, ErrSwapInProgress) {
		t.Fatalf("expected ErrSwapInProgress, got %v", err)
	}
	close(releaseSwap)
	if err := <-firstDone; err != nil {
		t.Fatalf("expected first swap to complete, got %v", err)
	}
}

func TestSwapProvider_SameProviderRejected(t *testing.T) {
	repo := &mockUtteranceRepo{}
	p := &mockProvider{name: "google"}
	c, _ := newTestCoordinator(repo, p)

	if _, err := c.SwapProvider(context.Background(), &mockProvider{name: "google"}); !errors.Is(err, ErrProviderUnchanged) {
		t.Fatalf("expected ErrProviderUnchanged, got %v", err)
	}
}

func TestSubmit_WaitsOutSwap(t *testing.T) {
	repo := &mockUtteranceRepo{}
	inSwap := make(chan struct{})
	releaseSwap := make(chan struct{})
	oldP := &mockProvider{name: "google"}
	oldP.fn = func([]float32) (Result, error) {
		close(inSwap)
		<-releaseSwap
		return Result{Text: "old text"}, nil
	}
	newP := &mockProvider{name: "deepgram"}
	c, registry := newTestCoordinator(repo, oldP)
	registry.Watch("chan", "alice")
	registry.Watch("chan", "bob")
	registry.Append("chan", "alice", speech(1), time.Now())

	go func() {
		_, _ = c.SwapProvider(context.Background(), newP)
	}()
	<-inSwap

	// A drain submitted mid-swap must wait and then hit the new provider.
	registry.Append("chan", "bob", speech(1), time.Now())
	d := registry.DrainForFlush("chan", "bob", time.Now())
	done := make(chan struct{})
	go func() {
		c.Submit(context.Background(), d)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("expected submission to block while swap is draining")
	case <-time.After(50 * time.Millisecond):
	}
	close(releaseSwap)
	<-done

	if newP.callCount() != 1 {
		t.Fatalf("expected deferred job on new provider, got %d calls", newP.callCount())
	}
}
