package audio

// FrameSink receives decoded mono float32 frames for one speaker.
type FrameSink func(speakerID string, samples []float32)

// PacketDecoder turns per-speaker opus packets from the voice gateway into
// mono float32 frames and hands them to the sink.
type PacketDecoder interface {
	WritePacket(speakerID string, packet []byte)
	Close()
}

// DecoderFactory builds a decoder bound to a sink; one decoder per session.
type DecoderFactory func(sink FrameSink) PacketDecoder
