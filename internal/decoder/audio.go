package decoder

import (
	"fmt"

	"github.com/GoldenFealla/SyncPlayerGo/internal/media"
	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
)

// Decoded audio is resampled to interleaved 32-bit float at the source rate
// and channel layout.
var FORMAT_TYPE = astiav.SampleFormatFlt

const bitDepth = 32

type AudioDecoder struct {
	st           *astiav.Stream
	codecCtx     *astiav.CodecContext
	ResamplerCtx *astiav.SoftwareResampleContext

	decodedFrame   *astiav.Frame
	resampledFrame *astiav.Frame

	closer *astikit.Closer
	format media.AudioFormat
	pump   *framePump
}

func newAudioDecoder(is *astiav.Stream) (*AudioDecoder, error) {
	ad := &AudioDecoder{
		st:     is,
		closer: astikit.NewCloser(),
	}

	cc, err := openCodec(is)
	if err != nil {
		return nil, fmt.Errorf("audio decoder: %w", err)
	}
	ad.codecCtx = cc
	ad.closer.Add(ad.codecCtx.Free)
	ad.pump = newFramePump(cc)

	ad.decodedFrame = astiav.AllocFrame()
	ad.closer.Add(ad.decodedFrame.Free)

	ad.resampledFrame = astiav.AllocFrame()
	ad.closer.Add(ad.resampledFrame.Free)

	ad.ResamplerCtx = astiav.AllocSoftwareResampleContext()
	ad.closer.Add(ad.ResamplerCtx.Free)

	ad.format = media.AudioFormat{
		SampleRate: cc.SampleRate(),
		BitDepth:   bitDepth,
		Channels:   cc.ChannelLayout().Channels(),
	}
	if ad.format.Channels < 1 || ad.format.SampleRate <= 0 {
		ad.Close()
		return nil, fmt.Errorf("audio decoder: %d channels at %d Hz: %w",
			ad.format.Channels, ad.format.SampleRate, media.ErrUnsupportedFormat)
	}

	return ad, nil
}

func (ad *AudioDecoder) Format() media.AudioFormat {
	return ad.format
}

func (ad *AudioDecoder) Decode(pkt media.Packet, offset int) (int, *media.AudioBuffer, int64, error) {
	p, ok := pkt.(*astiav.Packet)
	if !ok {
		return pkt.Size() - offset, nil, 0, fmt.Errorf("audio decode: unexpected packet %T", pkt)
	}
	remaining := p.Size() - offset

	ok, err := ad.pump.Receive(p, ad.decodedFrame)
	if err != nil {
		return remaining, nil, 0, fmt.Errorf("audio decode: %w", err)
	}
	if !ok {
		return remaining, nil, 0, nil
	}

	defer ad.decodedFrame.Unref()

	ts := toMicroseconds(ad.decodedFrame.Pts(), ad.st.TimeBase())

	ad.resampledFrame.Unref()
	ad.resampledFrame.SetChannelLayout(ad.decodedFrame.ChannelLayout())
	ad.resampledFrame.SetSampleFormat(FORMAT_TYPE)
	ad.resampledFrame.SetSampleRate(ad.format.SampleRate)

	if err := ad.ResamplerCtx.ConvertFrame(ad.decodedFrame, ad.resampledFrame); err != nil {
		ad.skip()
		return remaining, nil, 0, fmt.Errorf("audio decode: resampling decoded frame failed: %w", err)
	}

	data, err := ad.resampledFrame.Data().Bytes(1)
	if err != nil {
		ad.skip()
		return remaining, nil, 0, fmt.Errorf("audio decode: get data failed: %w", err)
	}

	return 0, &media.AudioBuffer{
		Format: media.AudioFormat{
			SampleRate: ad.format.SampleRate,
			BitDepth:   bitDepth,
			Channels:   ad.resampledFrame.ChannelLayout().Channels(),
		},
		Data: data,
	}, ts, nil
}

// skip abandons the rest of the current packet after a bad frame.
func (ad *AudioDecoder) skip() {
	ad.decodedFrame.Unref()
	ad.pump.Skip(ad.decodedFrame)
}

func (ad *AudioDecoder) Close() {
	_ = ad.closer.Close()
}

var _ media.AudioDecoder = (*AudioDecoder)(nil)
