package audio

import (
	"github.com/ottergrove/voicegrain/internal/audio"
	"github.com/ottergrove/voicegrain/internal/config"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*audio.Registry, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return audio.NewRegistry(cfg.SampleRate, cfg.VoiceActivityRMS), nil
	})
	do.ProvideValue(injector, audio.DecoderFactory(func(sink audio.FrameSink) audio.PacketDecoder {
		return NewOpusDecoder(sink)
	}))
}
