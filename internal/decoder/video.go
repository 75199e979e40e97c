package decoder

import (
	"errors"
	"fmt"

	"github.com/GoldenFealla/SyncPlayerGo/internal/media"
	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
)

type VideoDecoder struct {
	st *astiav.Stream
	cc *astiav.CodecContext

	df *astiav.Frame

	closer *astikit.Closer
	pump   *framePump
}

func newVideoDecoder(is *astiav.Stream) (*VideoDecoder, error) {
	vd := &VideoDecoder{
		st:     is,
		closer: astikit.NewCloser(),
	}

	cc, err := openCodec(is)
	if err != nil {
		return nil, fmt.Errorf("video decoder: %w", err)
	}
	vd.cc = cc
	vd.closer.Add(vd.cc.Free)
	vd.pump = newFramePump(cc)

	vd.df = astiav.AllocFrame()
	vd.closer.Add(vd.df.Free)

	return vd, nil
}

func (vd *VideoDecoder) Width() int  { return vd.cc.Width() }
func (vd *VideoDecoder) Height() int { return vd.cc.Height() }

func (vd *VideoDecoder) Decode(pkt media.Packet, offset int) (int, media.Picture, error) {
	p, ok := pkt.(*astiav.Packet)
	if !ok {
		return pkt.Size() - offset, nil, fmt.Errorf("video decode: unexpected packet %T", pkt)
	}
	remaining := p.Size() - offset

	ok, err := vd.pump.Receive(p, vd.df)
	if err != nil {
		return remaining, nil, fmt.Errorf("video decode: %w", err)
	}
	if !ok {
		return remaining, nil, nil
	}

	defer vd.df.Unref()

	f := vd.df.Clone()
	if f == nil {
		vd.df.Unref()
		vd.pump.Skip(vd.df)
		return remaining, nil, errors.New("video decode: cloning frame failed")
	}

	return 0, &picture{
		f:  f,
		ts: toMicroseconds(vd.df.Pts(), vd.st.TimeBase()),
	}, nil
}

func (vd *VideoDecoder) Close() {
	_ = vd.closer.Close()
}

// picture owns a cloned frame until it is converted.
type picture struct {
	f  *astiav.Frame
	ts int64
}

func (p *picture) Timestamp() int64 { return p.ts }
func (p *picture) Width() int       { return p.f.Width() }
func (p *picture) Height() int      { return p.f.Height() }

var _ media.VideoDecoder = (*VideoDecoder)(nil)
