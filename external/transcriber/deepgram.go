package transcriber

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	listenv1rest "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/ottergrove/voicegrain/internal/transcription"
)

type DeepgramConfig struct {
	APIKey   string
	Model    string
	Language string
}

// DeepgramProvider recognizes drained chunks through the prerecorded REST
// API. Chunks are wrapped in a WAV container so the service detects the
// format itself.
type DeepgramProvider struct {
	dg       *listenv1rest.Client
	model    string
	language string
}

func NewDeepgramProvider(cfg DeepgramConfig) *DeepgramProvider {
	c := client.NewREST(cfg.APIKey, &interfaces.ClientOptions{})
	return &DeepgramProvider{
		dg:       listenv1rest.New(c),
		model:    cfg.Model,
		language: cfg.Language,
	}
}

func (p *DeepgramProvider) Name() string {
	return "deepgram"
}

func (p *DeepgramProvider) Transcribe(ctx context.Context, samples []float32, sampleRate int) (transcription.Result, error) {
	body := wavEncode(pcmEncode(samples), sampleRate)
	res, err := p.dg.FromStream(ctx, bytes.NewReader(body), &interfaces.PreRecordedTranscriptionOptions{
		Model:       p.model,
		Language:    p.language,
		SmartFormat: true,
		Punctuate:   true,
	})
	if err != nil {
		return transcription.Result{}, fmt.Errorf("deepgram transcribe: %w", err)
	}
	if res == nil || res.Results == nil || len(res.Results.Channels) == 0 {
		return transcription.Result{}, nil
	}
	alts := res.Results.Channels[0].Alternatives
	if len(alts) == 0 {
		return transcription.Result{}, nil
	}
	return transcription.Result{
		Text:       strings.TrimSpace(alts[0].Transcript),
		Confidence: alts[0].Confidence,
	}, nil
}
