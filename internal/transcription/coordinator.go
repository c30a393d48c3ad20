package transcription

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ottergrove/voicegrain/internal/audio"
	"github.com/ottergrove/voicegrain/internal/repository"
)

var (
	ErrSwapInProgress    = errors.New("provider swap already in progress")
	ErrProviderUnchanged = errors.New("provider is already active")
)

// BufferDrainer is the slice of the buffer registry the coordinator needs for
// the hot-swap flush and for releasing per-speaker busy flags.
type BufferDrainer interface {
	DrainAll(at time.Time) []*audio.Drain
	Release(channelID, speakerID string)
}

// SessionResolver maps a channel to its active session, if any. Implemented
// by the session manager; audio drained after a session ended is dropped.
type SessionResolver interface {
	ActiveSession(channelID string) (string, bool)
}

// JobError surfaces a failed transcription job. The audio is gone; consumers
// can only report it.
type JobError struct {
	SessionID string
	SpeakerID string
	Provider  string
	Err       error
}

// SwapStats reports what a provider hot swap drained on its way out.
type SwapStats struct {
	OldProvider    string
	NewProvider    string
	BuffersFlushed int
	JobsDrained    int
}

// Coordinator drains flushed audio through the active provider and commits
// attributed utterances. Sequence numbers are assigned per session at
// commit time, in completion order, under a per-session lock: transcription
// latency varies per speaker, so jobs routinely finish out of submission
// order, and commit order is what external readers observe.
type Coordinator struct {
	repo       repository.UtteranceRepository
	buffers    BufferDrainer
	sampleRate int
	minDur     time.Duration
	now        func() time.Time

	resolver SessionResolver

	mu       sync.Mutex
	cond     *sync.Cond
	provider Provider
	swapping bool
	inflight sync.WaitGroup
	active   int

	ordMu  sync.Mutex
	orders map[string]*sessionOrder

	errs chan JobError
}

type sessionOrder struct {
	mu   sync.Mutex
	next int64
}

func NewCoordinator(repo repository.UtteranceRepository, buffers BufferDrainer, provider Provider, sampleRate int, minDur time.Duration) *Coordinator {
	c := &Coordinator{
		repo:       repo,
		buffers:    buffers,
		sampleRate: sampleRate,
		minDur:     minDur,
		now:        time.Now,
		provider:   provider,
		orders:     make(map[string]*sessionOrder),
		errs:       make(chan JobError, 32),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// SetSessionResolver wires the session manager in after construction; the
// manager also depends on the coordinator, so one side is set late.
func (c *Coordinator) SetSessionResolver(resolver SessionResolver) {
	c.resolver = resolver
}

// Errors exposes failed jobs to observers. The channel is never closed and
// sends are non-blocking; a slow consumer loses reports, not audio.
func (c *Coordinator) Errors() <-chan JobError {
	return c.errs
}

// ActiveProviderName reports the provider new drains are routed to.
func (c *Coordinator) ActiveProviderName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.provider == nil {
		return ""
	}
	return c.provider.Name()
}

// UtteranceCount reports how many utterances have been committed for a
// session, counting commits whose repository write failed: the sequence
// still advanced.
func (c *Coordinator) UtteranceCount(sessionID string) int64 {
	c.ordMu.Lock()
	ord := c.orders[sessionID]
	c.ordMu.Unlock()
	if ord == nil {
		return 0
	}
	ord.mu.Lock()
	defer ord.mu.Unlock()
	return ord.next
}

// ForgetSession drops per-session ordering state once a session is finalized.
func (c *Coordinator) ForgetSession(sessionID string) {
	c.ordMu.Lock()
	delete(c.orders, sessionID)
	c.ordMu.Unlock()
}

// Submit transcribes one drained chunk and commits the resulting utterance.
// It blocks for the duration of the provider call, so callers dispatch each
// submission on its own goroutine. The drain's busy flag is released when the
// job settles, success or not.
func (c *Coordinator) Submit(ctx context.Context, d *audio.Drain) {
	dur := d.Duration(c.sampleRate)
	sessionID, ok := c.resolveSession(d.ChannelID)
	switch {
	case dur < c.minDur:
		slog.Debug("skipping short audio clip", "channel_id", d.ChannelID, "speaker_id", d.SpeakerID, "duration", dur)
	case !ok:
		slog.Warn("no active session for drained audio; dropping", "channel_id", d.ChannelID, "speaker_id", d.SpeakerID)
	default:
		if p := c.acquireProvider(); p != nil {
			c.runJob(ctx, p, sessionID, d, dur)
			return
		}
		slog.Error("no transcription provider configured; dropping audio", "channel_id", d.ChannelID, "speaker_id", d.SpeakerID)
	}
	c.buffers.Release(d.ChannelID, d.SpeakerID)
}

func (c *Coordinator) resolveSession(channelID string) (string, bool) {
	if c.resolver == nil {
		return "", false
	}
	return c.resolver.ActiveSession(channelID)
}

// acquireProvider returns the active provider, registering the job as in
// flight. While a swap is draining the old provider, new jobs wait here and
// resume against the new one.
func (c *Coordinator) acquireProvider() Provider {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.swapping {
		c.cond.Wait()
	}
	if c.provider == nil {
		return nil
	}
	c.inflight.Add(1)
	c.active++
	return c.provider
}

// runJob owns the drain once called: it releases the speaker's busy flag
// before leaving the in-flight count, so a waiter on inflight always
// observes the buffer released.
func (c *Coordinator) runJob(ctx context.Context, p Provider, sessionID string, d *audio.Drain, dur time.Duration) {
	defer func() {
		c.buffers.Release(d.ChannelID, d.SpeakerID)
		c.mu.Lock()
		c.active--
		c.mu.Unlock()
		c.inflight.Done()
	}()

	res, err := p.Transcribe(ctx, d.Samples, c.sampleRate)
	if err != nil {
		slog.Error("transcription failed; audio lost", "error", err, "session_id", sessionID, "speaker_id", d.SpeakerID, "provider", p.Name(), "duration", dur)
		c.reportError(JobError{SessionID: sessionID, SpeakerID: d.SpeakerID, Provider: p.Name(), Err: err})
		return
	}
	if strings.TrimSpace(res.Text) == "" {
		slog.Debug("empty transcription result", "session_id", sessionID, "speaker_id", d.SpeakerID, "provider", p.Name())
		return
	}
	c.commit(ctx, p.Name(), sessionID, d, dur, res)
}

// commit assigns the session sequence number and writes the utterance. The
// repository write happens under the session's commit lock so persisted rows
// land in sequence order. A failed write is logged and the number is not
// reused: stalling every later speaker to preserve one row is worse than a
// gap.
func (c *Coordinator) commit(ctx context.Context, providerName, sessionID string, d *audio.Drain, dur time.Duration, res Result) {
	ord := c.order(sessionID)
	ord.mu.Lock()
	seq := ord.next
	ord.next++
	err := c.repo.InsertUtterance(ctx, repository.InsertUtteranceInput{
		SessionID:     sessionID,
		SpeakerID:     d.SpeakerID,
		Text:          res.Text,
		Confidence:    res.Confidence,
		StartedAt:     d.StartedAt,
		EndedAt:       d.EndedAt,
		SequenceNum:   seq,
		Provider:      providerName,
		AudioDuration: dur,
	})
	ord.mu.Unlock()
	if err != nil {
		slog.Error("failed to store utterance", "error", err, "session_id", sessionID, "speaker_id", d.SpeakerID, "sequence_num", seq)
		return
	}
	slog.Info("utterance committed", "session_id", sessionID, "speaker_id", d.SpeakerID, "sequence_num", seq, "provider", providerName, "confidence", res.Confidence, "duration", dur)
}

func (c *Coordinator) order(sessionID string) *sessionOrder {
	c.ordMu.Lock()
	defer c.ordMu.Unlock()
	ord, ok := c.orders[sessionID]
	if !ok {
		ord = &sessionOrder{}
		c.orders[sessionID] = ord
	}
	return ord
}

func (c *Coordinator) reportError(je JobError) {
	select {
	case c.errs <- je:
	default:
		slog.Warn("job error channel full; dropping report", "session_id", je.SessionID, "speaker_id", je.SpeakerID)
	}
}

// SwapProvider replaces the active provider without losing or misattributing
// in-flight audio: new submissions are held, outstanding jobs commit under
// the outgoing provider, then every live buffer is flushed through it, and
// only then does the new provider take over. Leftover audio for a speaker is
// never submitted while that speaker's scheduled job is still running, so
// within-speaker sequence order survives the swap. A swap requested while one
// is running is rejected, never interleaved.
func (c *Coordinator) SwapProvider(ctx context.Context, next Provider) (SwapStats, error) {
	c.mu.Lock()
	if c.swapping {
		c.mu.Unlock()
		return SwapStats{}, ErrSwapInProgress
	}
	old := c.provider
	if old != nil && old.Name() == next.Name() {
		c.mu.Unlock()
		return SwapStats{OldProvider: old.Name(), NewProvider: next.Name()}, ErrProviderUnchanged
	}
	c.swapping = true
	stats := SwapStats{NewProvider: next.Name(), JobsDrained: c.active}
	if old != nil {
		stats.OldProvider = old.Name()
	}
	c.mu.Unlock()

	slog.Info("provider swap started", "old_provider", stats.OldProvider, "new_provider", stats.NewProvider, "inflight_jobs", stats.JobsDrained)

	// Scheduled jobs settle first and release their speakers' busy flags.
	// Only then is leftover buffered audio drained, so a forced flush for a
	// speaker always sequences after that speaker's outstanding job.
	c.inflight.Wait()

	drains := c.buffers.DrainAll(c.now())
	stats.BuffersFlushed = len(drains)
	forcedRan := 0
	var forced sync.WaitGroup
	for _, d := range drains {
		forced.Add(1)
		go func(d *audio.Drain) {
			defer forced.Done()
			dur := d.Duration(c.sampleRate)
			sessionID, ok := c.resolveSession(d.ChannelID)
			if !ok || dur < c.minDur {
				c.buffers.Release(d.ChannelID, d.SpeakerID)
				return
			}
			c.mu.Lock()
			c.inflight.Add(1)
			c.active++
			forcedRan++
			c.mu.Unlock()
			c.runJob(ctx, old, sessionID, d, dur)
		}(d)
	}
	forced.Wait()
	stats.JobsDrained += forcedRan

	c.mu.Lock()
	c.provider = next
	c.swapping = false
	c.cond.Broadcast()
	c.mu.Unlock()

	slog.Info("provider swap complete", "old_provider", stats.OldProvider, "new_provider", stats.NewProvider, "buffers_flushed", stats.BuffersFlushed, "jobs_drained", stats.JobsDrained)
	return stats, nil
}
