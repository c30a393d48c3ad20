package transcriber

import (
	"fmt"

	"github.com/ottergrove/voicegrain/internal/audio"
	"github.com/ottergrove/voicegrain/internal/config"
	"github.com/ottergrove/voicegrain/internal/repository"
	"github.com/ottergrove/voicegrain/internal/transcription"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (transcription.Catalog, error) {
		c := do.MustInvoke[*config.Config](i)
		catalog := transcription.Catalog{}
		if c.GoogleCloudProjectID != "" && c.GoogleCloudCredentialsJSON != "" {
			catalog["google"] = NewCloudSpeechProvider(CloudSpeechConfig{
				ProjectID:       c.GoogleCloudProjectID,
				CredentialsJSON: c.GoogleCloudCredentialsJSON,
				Language:        c.DefaultTranscribeLanguage,
				Location:        c.GoogleCloudSpeechLocation,
				Model:           c.GoogleCloudSpeechModel,
			})
		}
		if c.DeepgramAPIKey != "" {
			catalog["deepgram"] = NewDeepgramProvider(DeepgramConfig{
				APIKey:   c.DeepgramAPIKey,
				Model:    c.DeepgramModel,
				Language: c.DefaultTranscribeLanguage,
			})
		}
		return catalog, nil
	})

	do.Provide(injector, func(i do.Injector) (*transcription.Coordinator, error) {
		c := do.MustInvoke[*config.Config](i)
		repo := do.MustInvoke[repository.Repository](i)
		registry := do.MustInvoke[*audio.Registry](i)
		catalog := do.MustInvoke[transcription.Catalog](i)

		active, ok := catalog[c.TranscribeProvider]
		if !ok {
			return nil, fmt.Errorf("transcribe provider %q is not configured", c.TranscribeProvider)
		}
		return transcription.NewCoordinator(repo, registry, active, c.SampleRate, c.MinUtteranceDuration), nil
	})
}
