// Package mediatest provides scripted in-memory implementations of the media
// boundary contracts.
package mediatest

import (
	"context"
	"fmt"
	"image"
	"io"
	"sync"
	"time"

	"github.com/GoldenFealla/SyncPlayerGo/internal/media"
)

// Packet is a scripted compressed unit. Chunk bytes are consumed per decode
// call; the call that exhausts Size yields the decoded unit.
type Packet struct {
	Stream    int
	Bytes     int
	Chunk     int
	Timestamp int64
	DecodeErr error
	// ReadErr is returned by ReadPacket instead of the packet.
	ReadErr error
}

func (p *Packet) StreamIndex() int { return p.Stream }
func (p *Packet) Size() int        { return p.Bytes }

type Picture struct {
	TS   int64
	W, H int
}

func (p Picture) Timestamp() int64 { return p.TS }
func (p Picture) Width() int       { return p.W }
func (p Picture) Height() int      { return p.H }

func consume(pkt media.Packet, offset int) (int, bool, error) {
	p, ok := pkt.(*Packet)
	if !ok {
		return 0, false, fmt.Errorf("mediatest: unexpected packet %T", pkt)
	}
	if p.DecodeErr != nil {
		return 0, false, p.DecodeErr
	}
	n := p.Bytes - offset
	if n <= 0 {
		return 0, false, nil
	}
	if p.Chunk > 0 && p.Chunk < n {
		n = p.Chunk
	}
	return n, offset+n >= p.Bytes, nil
}

type VideoDecoder struct {
	W, H   int
	mu     sync.Mutex
	closed bool
}

func (d *VideoDecoder) Decode(pkt media.Packet, offset int) (int, media.Picture, error) {
	n, done, err := consume(pkt, offset)
	if err != nil || !done {
		return n, nil, err
	}
	return n, Picture{TS: pkt.(*Packet).Timestamp, W: d.W, H: d.H}, nil
}

func (d *VideoDecoder) Width() int  { return d.W }
func (d *VideoDecoder) Height() int { return d.H }

func (d *VideoDecoder) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

func (d *VideoDecoder) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// AudioDecoder yields Frames sample frames of silence in Fmt per packet.
type AudioDecoder struct {
	Fmt    media.AudioFormat
	Frames int
	mu     sync.Mutex
	closed bool
}

func (d *AudioDecoder) Decode(pkt media.Packet, offset int) (int, *media.AudioBuffer, int64, error) {
	n, done, err := consume(pkt, offset)
	if err != nil || !done {
		return n, nil, 0, err
	}
	frames := d.Frames
	if frames == 0 {
		frames = 4
	}
	return n, &media.AudioBuffer{
		Format: d.Fmt,
		Data:   make([]byte, frames*d.Fmt.BytesPerFrame()),
	}, pkt.(*Packet).Timestamp, nil
}

func (d *AudioDecoder) Format() media.AudioFormat { return d.Fmt }

func (d *AudioDecoder) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

func (d *AudioDecoder) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

type Converter struct {
	Err error
}

func (c *Converter) Convert(p media.Picture) (image.Image, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	return image.NewRGBA(image.Rect(0, 0, max(p.Width(), 1), max(p.Height(), 1))), nil
}

func (c *Converter) Close() {}

// Source replays Packets. Once exhausted it returns io.EOF, or blocks until
// ctx ends when HoldAtEnd is set.
type Source struct {
	Packets   []*Packet
	Info      []media.StreamInfo
	Video     *VideoDecoder
	Audio     *AudioDecoder
	OpenErr   error
	SeekErr   error
	HoldAtEnd bool
	// OnRead runs before packet pos is returned, outside the source lock.
	OnRead func(pos int)

	mu     sync.Mutex
	pos    int
	seeks  int
	closed bool
}

func (s *Source) Streams() []media.StreamInfo { return s.Info }

func (s *Source) OpenVideoDecoder(int) (media.VideoDecoder, error) {
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	if s.Video == nil {
		s.Video = &VideoDecoder{W: 4, H: 4}
	}
	return s.Video, nil
}

func (s *Source) OpenAudioDecoder(int) (media.AudioDecoder, error) {
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	if s.Audio == nil {
		s.Audio = &AudioDecoder{Fmt: media.AudioFormat{SampleRate: 48000, BitDepth: 16, Channels: 2}}
	}
	return s.Audio, nil
}

func (s *Source) NewPixelConverter(media.VideoDecoder) (media.PixelConverter, error) {
	return &Converter{}, nil
}

func (s *Source) ReadPacket(ctx context.Context) (media.Packet, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, media.ErrClosed
	}
	if s.pos < len(s.Packets) {
		pos := s.pos
		p := s.Packets[pos]
		s.pos++
		onRead := s.OnRead
		s.mu.Unlock()
		if onRead != nil {
			onRead(pos)
		}
		if p.ReadErr != nil {
			return nil, p.ReadErr
		}
		return p, nil
	}
	hold := s.HoldAtEnd
	s.mu.Unlock()

	if !hold {
		return nil, io.EOF
	}
	<-ctx.Done()
	return nil, media.ErrInterrupted
}

func (s *Source) SeekToStart() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seeks++
	if s.SeekErr != nil {
		return s.SeekErr
	}
	s.pos = 0
	return nil
}

func (s *Source) Seeks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seeks
}

func (s *Source) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type Opener struct {
	Sources map[string]*Source
	Err     error
}

func (o *Opener) Open(path string) (media.Source, error) {
	if o.Err != nil {
		return nil, o.Err
	}
	s, ok := o.Sources[path]
	if !ok {
		return nil, fmt.Errorf("mediatest: %s: %w", path, media.ErrUnsupportedFormat)
	}
	return s, nil
}

// Device records writes. Formats with more than MaxChannels channels are
// rejected; MaxChannels 0 accepts any. Unavailable rejects everything.
type Device struct {
	MaxChannels int
	Unavailable bool
	WriteDelay  time.Duration

	mu      sync.Mutex
	format  media.AudioFormat
	writes  [][]byte
	opened  int
	flushes int
	drains  int
	closed  bool
}

func (d *Device) Open(f media.AudioFormat) error {
	if d.Unavailable {
		return fmt.Errorf("mediatest: %w", media.ErrDeviceUnavailable)
	}
	if d.MaxChannels > 0 && f.Channels > d.MaxChannels {
		return fmt.Errorf("mediatest: %d channels: %w", f.Channels, media.ErrUnsupportedFormat)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.format = f
	d.opened++
	d.closed = false
	return nil
}

func (d *Device) Write(b []byte) error {
	if d.WriteDelay > 0 {
		time.Sleep(d.WriteDelay)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes = append(d.writes, b)
	return nil
}

func (d *Device) Flush() {
	d.mu.Lock()
	d.flushes++
	d.mu.Unlock()
}

func (d *Device) Drain() {
	d.mu.Lock()
	d.drains++
	d.mu.Unlock()
}

func (d *Device) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

func (d *Device) Format() media.AudioFormat {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.format
}

func (d *Device) Writes() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.writes...)
}

func (d *Device) Counts() (flushes, drains int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flushes, d.drains
}

func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
