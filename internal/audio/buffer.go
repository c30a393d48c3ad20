package audio

import (
	"math"
	"sync"
	"time"
)

// Buffer accumulates mono float32 samples for one speaker in one channel
// until the flush scheduler drains it for transcription.
type Buffer struct {
	channelID string
	speakerID string

	mu           sync.Mutex
	samples      []float32
	startedAt    time.Time
	lastSpeechAt time.Time
	draining     bool
	nextSeq      uint64

	sampleRate int
	vadRMS     float64
}

// Drain is the atomic result of emptying a buffer. Samples are owned by the
// caller; the buffer has already been reset when a Drain is returned.
type Drain struct {
	ChannelID string
	SpeakerID string
	Samples   []float32
	StartedAt time.Time
	EndedAt   time.Time
	Seq       uint64
}

func (d *Drain) Duration(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(len(d.Samples)) * time.Second / time.Duration(sampleRate)
}

func newBuffer(channelID, speakerID string, sampleRate int, vadRMS float64) *Buffer {
	return &Buffer{
		channelID:  channelID,
		speakerID:  speakerID,
		sampleRate: sampleRate,
		vadRMS:     vadRMS,
	}
}

// append adds samples in arrival order. The silence clock (lastSpeechAt) only
// advances when the frame's RMS exceeds the voice-activity threshold, so
// trailing comfort noise does not keep an utterance alive.
func (b *Buffer) append(samples []float32, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.samples) == 0 {
		b.startedAt = at
	}
	b.samples = append(b.samples, samples...)
	if frameRMS(samples) > b.vadRMS {
		b.lastSpeechAt = at
	}
}

func (b *Buffer) peek() (time.Duration, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.durationLocked(), b.lastSpeechAt
}

func (b *Buffer) durationLocked() time.Duration {
	return time.Duration(len(b.samples)) * time.Second / time.Duration(b.sampleRate)
}

// drain atomically takes all accumulated samples and marks the buffer busy.
// It returns nil while a prior drain is still outstanding or the buffer is
// empty. The busy flag stays set until release is called, which is what keeps
// at most one transcription job in flight per speaker.
func (b *Buffer) drain(at time.Time) *Drain {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.draining || len(b.samples) == 0 {
		return nil
	}
	b.draining = true
	return b.takeLocked(at)
}

// forceDrain takes accumulated samples even when a prior job is outstanding.
// Used on teardown, where losing the tail of an utterance is worse than
// briefly having two jobs for a departing speaker.
func (b *Buffer) forceDrain(at time.Time) *Drain {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.samples) == 0 {
		return nil
	}
	return b.takeLocked(at)
}

func (b *Buffer) takeLocked(at time.Time) *Drain {
	d := &Drain{
		ChannelID: b.channelID,
		SpeakerID: b.speakerID,
		Samples:   b.samples,
		StartedAt: b.startedAt,
		EndedAt:   at,
		Seq:       b.nextSeq,
	}
	b.nextSeq++
	b.samples = nil
	b.startedAt = time.Time{}
	b.lastSpeechAt = time.Time{}
	return d
}

func (b *Buffer) release() {
	b.mu.Lock()
	b.draining = false
	b.mu.Unlock()
}

func frameRMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
