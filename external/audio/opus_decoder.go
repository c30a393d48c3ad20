//go:build opus

package audio

import (
	"sync"

	"github.com/hraban/opus"
	"github.com/ottergrove/voicegrain/internal/audio"
)

const (
	sampleRate      = 48000
	channels        = 2
	frameSizeMs     = 20
	samplesPerFrame = sampleRate * frameSizeMs * channels / 1000
)

// OpusDecoder decodes each speaker's opus stream independently and downmixes
// to mono so one speaker's frames never blend into another's buffer.
type OpusDecoder struct {
	mu       sync.Mutex
	sink     audio.FrameSink
	decoders map[string]*opus.Decoder
	closed   bool
}

func NewOpusDecoder(sink audio.FrameSink) audio.PacketDecoder {
	return &OpusDecoder{
		sink:     sink,
		decoders: make(map[string]*opus.Decoder),
	}
}

func (d *OpusDecoder) WritePacket(speakerID string, packet []byte) {
	if len(packet) == 0 {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	dec, ok := d.decoders[speakerID]
	if !ok {
		var err error
		dec, err = opus.NewDecoder(sampleRate, channels)
		if err != nil {
			d.mu.Unlock()
			return
		}
		d.decoders[speakerID] = dec
	}
	pcm := make([]int16, samplesPerFrame)
	n, err := dec.Decode(packet, pcm)
	d.mu.Unlock()
	if err != nil || n == 0 {
		return
	}

	mono := make([]float32, n)
	for i := 0; i < n; i++ {
		left := float32(pcm[i*channels])
		right := float32(pcm[i*channels+1])
		mono[i] = (left + right) / 2 / 32768
	}
	d.sink(speakerID, mono)
}

func (d *OpusDecoder) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.decoders = make(map[string]*opus.Decoder)
}
