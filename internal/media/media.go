package media

import (
	"context"
	"errors"
	"image"
)

var (
	ErrInterrupted       = errors.New("media: operation interrupted")
	ErrUnsupportedFormat = errors.New("media: unsupported format")
	ErrNoStream          = errors.New("media: no playable stream")
	ErrDeviceUnavailable = errors.New("media: audio device unavailable")
	ErrClosed            = errors.New("media: closed")
)

type Kind int

const (
	KindVideo Kind = iota
	KindAudio
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// AudioFormat describes interleaved little-endian PCM. BitDepth 16 is signed
// integer, 32 is IEEE float, 8 is unsigned integer.
type AudioFormat struct {
	SampleRate int
	BitDepth   int
	Channels   int
}

func (f AudioFormat) BytesPerFrame() int {
	return f.Channels * f.BitDepth / 8
}

type AudioBuffer struct {
	Format AudioFormat
	Data   []byte
}

// Unit is a decoded payload tagged with its presentation timestamp in
// microseconds. Exactly one of Frame and Audio is set, according to Kind.
type Unit struct {
	Timestamp int64
	Kind      Kind
	Frame     image.Image
	Audio     AudioBuffer
}

func VideoUnit(ts int64, img image.Image) Unit {
	return Unit{Timestamp: ts, Kind: KindVideo, Frame: img}
}

func AudioUnit(ts int64, b AudioBuffer) Unit {
	return Unit{Timestamp: ts, Kind: KindAudio, Audio: b}
}

type StreamInfo struct {
	Index int
	Kind  Kind
}

// Packet is a compressed unit read from a Source. It is only valid until the
// next ReadPacket call.
type Packet interface {
	StreamIndex() int
	Size() int
}

// Picture is a decoded video picture awaiting pixel conversion.
type Picture interface {
	Timestamp() int64
	Width() int
	Height() int
}

type PixelConverter interface {
	Convert(p Picture) (image.Image, error)
	Close()
}

// VideoDecoder decodes pkt starting at offset. It reports how many bytes of
// the packet were consumed and, once complete, the decoded picture.
type VideoDecoder interface {
	Decode(pkt Packet, offset int) (int, Picture, error)
	Width() int
	Height() int
	Close()
}

// AudioDecoder decodes pkt starting at offset into interleaved PCM of
// Format(). The returned timestamp is in microseconds.
type AudioDecoder interface {
	Decode(pkt Packet, offset int) (int, *AudioBuffer, int64, error)
	Format() AudioFormat
	Close()
}

// Source is an opened container. ReadPacket returns ErrInterrupted when ctx is
// cancelled while blocked, and io.EOF at the end of the stream.
type Source interface {
	Streams() []StreamInfo
	OpenVideoDecoder(index int) (VideoDecoder, error)
	OpenAudioDecoder(index int) (AudioDecoder, error)
	NewPixelConverter(dec VideoDecoder) (PixelConverter, error)
	ReadPacket(ctx context.Context) (Packet, error)
	SeekToStart() error
	Close()
}

type Opener interface {
	Open(path string) (Source, error)
}

// AudioDevice is an audio output line. Write blocks until the device accepted
// the whole buffer.
type AudioDevice interface {
	Open(f AudioFormat) error
	Write(b []byte) error
	Flush()
	Drain()
	Close()
}

// FindStream returns the first stream of kind k.
func FindStream(streams []StreamInfo, k Kind) (StreamInfo, bool) {
	for _, s := range streams {
		if s.Kind == k {
			return s, true
		}
	}
	return StreamInfo{}, false
}
