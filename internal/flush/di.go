package flush

import (
	"context"

	"github.com/ottergrove/voicegrain/internal/audio"
	"github.com/ottergrove/voicegrain/internal/config"
	"github.com/ottergrove/voicegrain/internal/transcription"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Scheduler, error) {
		cfg := do.MustInvoke[*config.Config](i)
		registry := do.MustInvoke[*audio.Registry](i)
		coord := do.MustInvoke[*transcription.Coordinator](i)

		// Submit blocks until the transcription job settles, so each flush
		// runs on its own goroutine and the scan loop keeps ticking.
		dispatch := DispatcherFunc(func(ctx context.Context, d *audio.Drain) {
			go coord.Submit(ctx, d)
		})
		return NewScheduler(registry, dispatch, Config{
			Tick:             cfg.FlushTick,
			ChunkDuration:    cfg.ChunkDuration,
			SilenceThreshold: cfg.SilenceThreshold,
			MinDuration:      cfg.MinUtteranceDuration,
		}), nil
	})
}
