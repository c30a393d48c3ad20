package transcriber

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"cloud.google.com/go/auth/credentials"
	speech "cloud.google.com/go/speech/apiv2"
	speechpb "cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/ottergrove/voicegrain/internal/transcription"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const speechAPIEndpointPort = 443

type CloudSpeechConfig struct {
	ProjectID       string
	CredentialsJSON string
	Language        string
	Location        string
	Model           string
}

// CloudSpeechProvider recognizes one drained chunk per call against the
// Cloud Speech v2 batch API. The underlying gRPC client is created on first
// use and shared across calls.
type CloudSpeechProvider struct {
	projectID       string
	credentialsJSON string
	language        string
	location        string
	model           string

	initOnce sync.Once
	initErr  error
	client   *speech.Client
}

func NewCloudSpeechProvider(cfg CloudSpeechConfig) *CloudSpeechProvider {
	return &CloudSpeechProvider{
		projectID:       cfg.ProjectID,
		credentialsJSON: cfg.CredentialsJSON,
		language:        cfg.Language,
		location:        strings.TrimSpace(cfg.Location),
		model:           strings.TrimSpace(cfg.Model),
	}
}

func (p *CloudSpeechProvider) Name() string {
	return "google"
}

func (p *CloudSpeechProvider) Transcribe(ctx context.Context, samples []float32, sampleRate int) (transcription.Result, error) {
	client, err := p.getClient(ctx)
	if err != nil {
		return transcription.Result{}, fmt.Errorf("cloud speech client: %w", err)
	}

	resp, err := client.Recognize(ctx, &speechpb.RecognizeRequest{
		Recognizer: fmt.Sprintf("projects/%s/locations/%s/recognizers/_", p.projectID, p.location),
		Config: &speechpb.RecognitionConfig{
			Model:         p.model,
			LanguageCodes: []string{p.language},
			DecodingConfig: &speechpb.RecognitionConfig_ExplicitDecodingConfig{
				ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
					Encoding:          speechpb.ExplicitDecodingConfig_LINEAR16,
					SampleRateHertz:   int32(sampleRate),
					AudioChannelCount: 1,
				},
			},
			Features: &speechpb.RecognitionFeatures{},
		},
		AudioSource: &speechpb.RecognizeRequest_Content{Content: pcmEncode(samples)},
	})
	if err != nil {
		if st, ok := status.FromError(err); ok && (st.Code() == codes.Unavailable || st.Code() == codes.DeadlineExceeded) {
			slog.Warn("cloud speech temporarily unavailable", "code", st.Code().String())
		}
		return transcription.Result{}, fmt.Errorf("cloud speech recognize: %w", err)
	}

	var texts []string
	var confidence float64
	for _, result := range resp.GetResults() {
		alts := result.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		text := strings.TrimSpace(alts[0].GetTranscript())
		if text == "" {
			continue
		}
		texts = append(texts, text)
		if c := float64(alts[0].GetConfidence()); c > confidence {
			confidence = c
		}
	}
	return transcription.Result{
		Text:       strings.Join(texts, " "),
		Confidence: confidence,
	}, nil
}

func (p *CloudSpeechProvider) getClient(ctx context.Context) (*speech.Client, error) {
	p.initOnce.Do(func() {
		creds, err := credentials.DetectDefault(&credentials.DetectOptions{
			CredentialsJSON: []byte(p.credentialsJSON),
			Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
		})
		if err != nil {
			p.initErr = fmt.Errorf("detect credentials: %w", err)
			return
		}
		opts := []option.ClientOption{
			option.WithAuthCredentials(creds),
		}
		if p.location != "global" {
			opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-speech.googleapis.com:%d", p.location, speechAPIEndpointPort)))
		}
		p.client, p.initErr = speech.NewClient(ctx, opts...)
	})
	return p.client, p.initErr
}

func (p *CloudSpeechProvider) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}
