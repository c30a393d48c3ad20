package transcription

import (
	"context"
	"sort"
)

// Result is a provider's transcript for one drained chunk of audio.
type Result struct {
	Text       string
	Confidence float64
}

// Provider is a speech-to-text backend. A failing call loses the audio:
// drained samples are not retained for retry.
type Provider interface {
	Name() string
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (Result, error)
}

// Catalog holds every provider the process has credentials for, keyed by
// name. Swap commands pick from it at runtime.
type Catalog map[string]Provider

func (c Catalog) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
