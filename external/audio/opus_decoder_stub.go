//go:build !opus

package audio

import "github.com/ottergrove/voicegrain/internal/audio"

type noopDecoder struct{}

func NewOpusDecoder(_ audio.FrameSink) audio.PacketDecoder {
	return &noopDecoder{}
}

func (d *noopDecoder) WritePacket(_ string, _ []byte) {}

func (d *noopDecoder) Close() {}
