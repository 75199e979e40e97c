package decoder

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/GoldenFealla/SyncPlayerGo/internal/decoder/pump"
	"github.com/GoldenFealla/SyncPlayerGo/internal/media"
	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
)

var (
	ErrInputContextNil = errors.New("decoder: input format context is nil")
	ErrNoVideo         = errors.New("decoder: no video stream")
	ErrNoAudio         = errors.New("decoder: no audio stream")
)

var microseconds = astiav.NewRational(1, 1_000_000)

func toMicroseconds(ts int64, tb astiav.Rational) int64 {
	return astiav.RescaleQ(ts, tb, microseconds)
}

// Opener opens containers with FFmpeg.
type Opener struct{}

func (Opener) Open(input string) (media.Source, error) {
	return Open(input)
}

// Source is an opened FFmpeg container. It is not safe for concurrent use,
// except for the interruption of a blocked ReadPacket through its context.
type Source struct {
	closer *astikit.Closer

	inputFormatCtx *astiav.FormatContext
	interrupter    *astiav.IOInterrupter
	pkt            *astiav.Packet
}

func Open(input string) (*Source, error) {
	s := &Source{closer: astikit.NewCloser()}

	if s.inputFormatCtx = astiav.AllocFormatContext(); s.inputFormatCtx == nil {
		return nil, ErrInputContextNil
	}
	s.closer.Add(s.inputFormatCtx.Free)

	s.interrupter = astiav.NewIOInterrupter()
	s.closer.Add(s.interrupter.Free)
	s.inputFormatCtx.SetIOInterrupter(s.interrupter)

	if err := s.inputFormatCtx.OpenInput(input, nil, nil); err != nil {
		s.Close()
		return nil, fmt.Errorf("decoder: opening input failed: %w: %w", media.ErrUnsupportedFormat, err)
	}
	s.closer.Add(s.inputFormatCtx.CloseInput)

	if err := s.inputFormatCtx.FindStreamInfo(nil); err != nil {
		s.Close()
		return nil, fmt.Errorf("decoder: finding stream info failed: %w: %w", media.ErrUnsupportedFormat, err)
	}

	s.pkt = astiav.AllocPacket()
	s.closer.Add(s.pkt.Free)

	return s, nil
}

func (s *Source) Streams() []media.StreamInfo {
	var infos []media.StreamInfo
	for _, is := range s.inputFormatCtx.Streams() {
		switch is.CodecParameters().MediaType() {
		case astiav.MediaTypeVideo:
			infos = append(infos, media.StreamInfo{Index: is.Index(), Kind: media.KindVideo})
		case astiav.MediaTypeAudio:
			infos = append(infos, media.StreamInfo{Index: is.Index(), Kind: media.KindAudio})
		}
	}
	return infos
}

func (s *Source) stream(index int, t astiav.MediaType) (*astiav.Stream, error) {
	for _, is := range s.inputFormatCtx.Streams() {
		if is.Index() == index && is.CodecParameters().MediaType() == t {
			return is, nil
		}
	}
	if t == astiav.MediaTypeVideo {
		return nil, ErrNoVideo
	}
	return nil, ErrNoAudio
}

type framePump = pump.Pump[*astiav.Packet, *astiav.Frame]

func newFramePump(cc *astiav.CodecContext) *framePump {
	return pump.New[*astiav.Packet, *astiav.Frame](cc, func(err error) bool {
		return errors.Is(err, astiav.ErrEof) || errors.Is(err, astiav.ErrEagain)
	}, (*astiav.Frame).Unref)
}

// openCodec allocates and opens a decoder for is. The returned context is
// owned by the caller.
func openCodec(is *astiav.Stream) (*astiav.CodecContext, error) {
	codec := astiav.FindDecoder(is.CodecParameters().CodecID())
	if codec == nil {
		return nil, fmt.Errorf("finding codec: codec is nil: %w", media.ErrUnsupportedFormat)
	}

	cc := astiav.AllocCodecContext(codec)
	if cc == nil {
		return nil, errors.New("finding codec: codec context is nil")
	}

	if err := is.CodecParameters().ToCodecContext(cc); err != nil {
		cc.Free()
		return nil, fmt.Errorf("finding codec: updating codec context failed: %w", err)
	}

	if err := cc.Open(codec, nil); err != nil {
		cc.Free()
		return nil, fmt.Errorf("finding codec: opening codec context failed: %w: %w", media.ErrUnsupportedFormat, err)
	}

	return cc, nil
}

func (s *Source) OpenVideoDecoder(index int) (media.VideoDecoder, error) {
	is, err := s.stream(index, astiav.MediaTypeVideo)
	if err != nil {
		return nil, err
	}
	return newVideoDecoder(is)
}

func (s *Source) OpenAudioDecoder(index int) (media.AudioDecoder, error) {
	is, err := s.stream(index, astiav.MediaTypeAudio)
	if err != nil {
		return nil, err
	}
	return newAudioDecoder(is)
}

func (s *Source) NewPixelConverter(dec media.VideoDecoder) (media.PixelConverter, error) {
	vd, ok := dec.(*VideoDecoder)
	if !ok {
		return nil, fmt.Errorf("decoder: pixel converter for %T: %w", dec, media.ErrUnsupportedFormat)
	}
	return newPixelConverter(vd.cc.Width(), vd.cc.Height(), vd.cc.PixelFormat())
}

// ReadPacket reads the next packet. The returned packet is reused by the next
// call.
func (s *Source) ReadPacket(ctx context.Context) (media.Packet, error) {
	s.pkt.Unref()

	s.interrupter.Resume()
	stop := context.AfterFunc(ctx, s.interrupter.Interrupt)
	defer stop()

	if err := s.inputFormatCtx.ReadFrame(s.pkt); err != nil {
		if ctx.Err() != nil {
			return nil, media.ErrInterrupted
		}
		if errors.Is(err, astiav.ErrEof) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("decoder: reading packet failed: %w", err)
	}

	return s.pkt, nil
}

// SeekToStart seeks backward to the key frame at or before the start.
func (s *Source) SeekToStart() error {
	s.pkt.Unref()
	s.interrupter.Resume()

	if err := s.inputFormatCtx.SeekFrame(-1, 0, astiav.NewSeekFlags(astiav.SeekFlagBackward)); err != nil {
		return fmt.Errorf("decoder: seeking to start failed: %w", err)
	}
	return nil
}

func (s *Source) Close() {
	if s.closer == nil {
		return
	}
	_ = s.closer.Close()
	s.closer = nil
}

var (
	_ media.Opener = Opener{}
	_ media.Source = (*Source)(nil)
)
