package session

import (
	"github.com/ottergrove/voicegrain/internal/audio"
	"github.com/ottergrove/voicegrain/internal/config"
	"github.com/ottergrove/voicegrain/internal/discord"
	"github.com/ottergrove/voicegrain/internal/repository"
	"github.com/ottergrove/voicegrain/internal/transcription"
	"github.com/ottergrove/voicegrain/internal/webhook"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Manager, error) {
		cfg := do.MustInvoke[*config.Config](i)
		repo := do.MustInvoke[repository.Repository](i)
		dc := do.MustInvoke[discord.Client](i)
		registry := do.MustInvoke[*audio.Registry](i)
		coord := do.MustInvoke[*transcription.Coordinator](i)
		wh := do.MustInvoke[webhook.Sender](i)
		providers := do.MustInvoke[transcription.Catalog](i)
		decoder := do.MustInvoke[audio.DecoderFactory](i)
		manager := NewManager(cfg, repo, dc, registry, coord, wh, providers, decoder)
		coord.SetSessionResolver(manager)
		return manager, nil
	})
}
