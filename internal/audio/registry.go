package audio

import (
	"log/slog"
	"sync"
	"time"
)

type speakerKey struct {
	channelID string
	speakerID string
}

// Registry owns the live buffers, keyed by (channel, speaker). Appends for
// speakers without an active participant record are dropped so stale packets
// arriving after a leave cannot resurrect a buffer.
//
// The registry mutex only guards the maps; per-buffer state has its own lock,
// so a slow drain for one speaker never blocks appends for another.
type Registry struct {
	sampleRate int
	vadRMS     float64

	mu      sync.RWMutex
	buffers map[speakerKey]*Buffer
	watched map[speakerKey]struct{}
}

func NewRegistry(sampleRate int, vadRMS float64) *Registry {
	return &Registry{
		sampleRate: sampleRate,
		vadRMS:     vadRMS,
		buffers:    make(map[speakerKey]*Buffer),
		watched:    make(map[speakerKey]struct{}),
	}
}

// Watch admits a speaker for audio ingestion. Buffers themselves are created
// lazily on the first frame so silent participants never allocate one.
func (r *Registry) Watch(channelID, speakerID string) {
	r.mu.Lock()
	r.watched[speakerKey{channelID, speakerID}] = struct{}{}
	r.mu.Unlock()
}

// Unwatch stops admitting audio for a speaker. The buffer, if any, survives
// until Destroy so a final flush can still pick it up.
func (r *Registry) Unwatch(channelID, speakerID string) {
	r.mu.Lock()
	delete(r.watched, speakerKey{channelID, speakerID})
	r.mu.Unlock()
}

// Append adds samples to the speaker's buffer, creating it on first use.
// Frames for unwatched speakers are dropped and logged.
func (r *Registry) Append(channelID, speakerID string, samples []float32, at time.Time) {
	if len(samples) == 0 {
		return
	}
	key := speakerKey{channelID, speakerID}

	r.mu.RLock()
	_, ok := r.watched[key]
	buf := r.buffers[key]
	r.mu.RUnlock()
	if !ok {
		slog.Debug("dropping audio for speaker without active participant", "channel_id", channelID, "speaker_id", speakerID, "samples", len(samples))
		return
	}
	if buf == nil {
		buf = r.getOrCreate(key)
		if buf == nil {
			return
		}
	}
	buf.append(samples, at)
}

func (r *Registry) getOrCreate(key speakerKey) *Buffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.watched[key]; !ok {
		// Lost the race with an Unwatch.
		return nil
	}
	buf, ok := r.buffers[key]
	if !ok {
		buf = newBuffer(key.channelID, key.speakerID, r.sampleRate, r.vadRMS)
		r.buffers[key] = buf
		slog.Debug("created audio buffer", "channel_id", key.channelID, "speaker_id", key.speakerID)
	}
	return buf
}

// PeekDuration reports accumulated duration and the last voice-activity
// timestamp without contending with an in-flight drain.
func (r *Registry) PeekDuration(channelID, speakerID string) (time.Duration, time.Time, bool) {
	r.mu.RLock()
	buf := r.buffers[speakerKey{channelID, speakerID}]
	r.mu.RUnlock()
	if buf == nil {
		return 0, time.Time{}, false
	}
	dur, last := buf.peek()
	return dur, last, true
}

// Speakers returns a snapshot of all live buffer identities.
func (r *Registry) Speakers() [][2]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([][2]string, 0, len(r.buffers))
	for key := range r.buffers {
		keys = append(keys, [2]string{key.channelID, key.speakerID})
	}
	return keys
}

// DrainForFlush atomically removes and returns all accumulated samples,
// or nil when the buffer is empty, unknown, or another drain for the same
// speaker is still outstanding. A non-nil result must be paired with a
// Release call once the transcription job settles.
func (r *Registry) DrainForFlush(channelID, speakerID string, at time.Time) *Drain {
	r.mu.RLock()
	buf := r.buffers[speakerKey{channelID, speakerID}]
	r.mu.RUnlock()
	if buf == nil {
		return nil
	}
	return buf.drain(at)
}

// Release clears the per-speaker busy flag set by DrainForFlush.
func (r *Registry) Release(channelID, speakerID string) {
	r.mu.RLock()
	buf := r.buffers[speakerKey{channelID, speakerID}]
	r.mu.RUnlock()
	if buf != nil {
		buf.release()
	}
}

// Destroy removes the buffer identity and returns any remaining samples,
// bypassing the busy flag: on teardown the tail must not be stranded behind
// an in-flight job.
func (r *Registry) Destroy(channelID, speakerID string, at time.Time) *Drain {
	key := speakerKey{channelID, speakerID}
	r.mu.Lock()
	buf := r.buffers[key]
	delete(r.buffers, key)
	delete(r.watched, key)
	r.mu.Unlock()
	if buf == nil {
		return nil
	}
	return buf.forceDrain(at)
}

// DrainChannel force-drains every buffer in one channel, busy or not.
// Buffer identities survive; used when a session must flush everything
// without tearing down.
func (r *Registry) DrainChannel(channelID string, at time.Time) []*Drain {
	return r.forceDrainWhere(func(key speakerKey) bool { return key.channelID == channelID }, at)
}

// DrainAll drains every live buffer so the swapping provider sees no
// leftover audio. Each drain holds the speaker's busy flag until Release,
// and buffers still busy with an outstanding flush are skipped; the caller
// must settle in-flight jobs first if it needs those speakers included.
func (r *Registry) DrainAll(at time.Time) []*Drain {
	r.mu.RLock()
	bufs := make([]*Buffer, 0, len(r.buffers))
	for _, buf := range r.buffers {
		bufs = append(bufs, buf)
	}
	r.mu.RUnlock()

	drains := make([]*Drain, 0, len(bufs))
	for _, buf := range bufs {
		if d := buf.drain(at); d != nil {
			drains = append(drains, d)
		}
	}
	return drains
}

func (r *Registry) forceDrainWhere(match func(speakerKey) bool, at time.Time) []*Drain {
	r.mu.RLock()
	bufs := make([]*Buffer, 0, len(r.buffers))
	for key, buf := range r.buffers {
		if match(key) {
			bufs = append(bufs, buf)
		}
	}
	r.mu.RUnlock()

	drains := make([]*Drain, 0, len(bufs))
	for _, buf := range bufs {
		if d := buf.forceDrain(at); d != nil {
			drains = append(drains, d)
		}
	}
	return drains
}

// DestroyChannel tears down every buffer for a channel and returns their
// remaining audio. Used on session end.
func (r *Registry) DestroyChannel(channelID string, at time.Time) []*Drain {
	r.mu.Lock()
	bufs := make([]*Buffer, 0)
	for key, buf := range r.buffers {
		if key.channelID != channelID {
			continue
		}
		delete(r.buffers, key)
		delete(r.watched, key)
		bufs = append(bufs, buf)
	}
	r.mu.Unlock()

	drains := make([]*Drain, 0, len(bufs))
	for _, buf := range bufs {
		if d := buf.forceDrain(at); d != nil {
			drains = append(drains, d)
		}
	}
	return drains
}
