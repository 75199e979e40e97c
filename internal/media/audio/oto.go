package audio

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/GoldenFealla/SyncPlayerGo/internal/media"
	"github.com/ebitengine/oto/v3"
)

const (
	bufferedDuration = 100 * time.Millisecond
	drainPoll        = 5 * time.Millisecond
	drainTimeout     = 2 * time.Second
)

// oto allows a single context per process; every OtoDevice shares it.
var (
	otoContextMu   sync.Mutex
	otoContext     *oto.Context
	otoContextOpts oto.NewContextOptions
)

func otoFormat(bitDepth int) (oto.Format, error) {
	switch bitDepth {
	case 8:
		return oto.FormatUnsignedInt8, nil
	case 16:
		return oto.FormatSignedInt16LE, nil
	case 32:
		return oto.FormatFloat32LE, nil
	}
	return 0, fmt.Errorf("oto: %d bit samples: %w", bitDepth, media.ErrUnsupportedFormat)
}

func sharedContext(opts oto.NewContextOptions) (*oto.Context, error) {
	otoContextMu.Lock()
	defer otoContextMu.Unlock()

	if otoContext != nil {
		if otoContextOpts.SampleRate != opts.SampleRate ||
			otoContextOpts.ChannelCount != opts.ChannelCount ||
			otoContextOpts.Format != opts.Format {
			return nil, fmt.Errorf("oto: context already running at %d Hz, %d channels: %w",
				otoContextOpts.SampleRate, otoContextOpts.ChannelCount, media.ErrUnsupportedFormat)
		}
		return otoContext, nil
	}

	c, ready, err := oto.NewContext(&opts)
	if err != nil {
		return nil, fmt.Errorf("oto: creating context failed: %w: %w", media.ErrDeviceUnavailable, err)
	}
	<-ready

	otoContext = c
	otoContextOpts = opts
	return c, nil
}

// OtoDevice feeds an oto player from a bounded PCM buffer. Write blocks while
// the buffer holds more than bufferedDuration of audio.
type OtoDevice struct {
	player *oto.Player

	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	limit  int
	gen    uint64
	closed bool
}

func NewOtoDevice() *OtoDevice {
	d := &OtoDevice{}
	d.cond = sync.NewCond(&d.mu)
	return d
}

func (d *OtoDevice) Open(f media.AudioFormat) error {
	format, err := otoFormat(f.BitDepth)
	if err != nil {
		return err
	}
	if f.Channels < 1 || f.SampleRate <= 0 {
		return fmt.Errorf("oto: %d channels at %d Hz: %w", f.Channels, f.SampleRate, media.ErrUnsupportedFormat)
	}

	c, err := sharedContext(oto.NewContextOptions{
		SampleRate:   f.SampleRate,
		ChannelCount: f.Channels,
		Format:       format,
	})
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.buf = d.buf[:0]
	d.limit = int(int64(f.SampleRate) * int64(bufferedDuration) / int64(time.Second) * int64(f.BytesPerFrame()))
	d.closed = false
	d.mu.Unlock()

	d.player = c.NewPlayer(d)
	d.player.Play()

	return nil
}

// Read is called by the oto mixer. An empty buffer yields silence.
func (d *OtoDevice) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := copy(p, d.buf)
	d.buf = append(d.buf[:0], d.buf[n:]...)
	if n > 0 {
		d.cond.Broadcast()
	}
	return n, nil
}

// Seek discards buffered data. oto calls it from Player.Seek.
func (d *OtoDevice) Seek(offset int64, whence int) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.buf = d.buf[:0]
	d.gen++
	d.cond.Broadcast()
	return 0, nil
}

func (d *OtoDevice) Write(b []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	gen := d.gen
	for len(b) > 0 {
		for !d.closed && gen == d.gen && len(d.buf) >= d.limit {
			d.cond.Wait()
		}
		if d.closed {
			return media.ErrClosed
		}
		if gen != d.gen {
			return nil
		}

		n := min(d.limit-len(d.buf), len(b))
		d.buf = append(d.buf, b[:n]...)
		b = b[n:]
	}
	return nil
}

func (d *OtoDevice) Flush() {
	if d.player != nil {
		if _, err := d.player.Seek(0, io.SeekStart); err == nil {
			return
		}
	}
	_, _ = d.Seek(0, io.SeekStart)
}

// Drain blocks until both our buffer and the player's have been played.
func (d *OtoDevice) Drain() {
	deadline := time.Now().Add(drainTimeout)

	d.mu.Lock()
	gen := d.gen
	for !d.closed && gen == d.gen && len(d.buf) > 0 && time.Now().Before(deadline) {
		d.mu.Unlock()
		time.Sleep(drainPoll)
		d.mu.Lock()
	}
	d.mu.Unlock()

	for d.player != nil && d.player.BufferedSize() > 0 && time.Now().Before(deadline) {
		time.Sleep(drainPoll)
	}
}

func (d *OtoDevice) Close() {
	d.mu.Lock()
	d.closed = true
	d.buf = nil
	d.cond.Broadcast()
	d.mu.Unlock()

	if d.player != nil {
		_ = d.player.Close()
		d.player = nil
	}
}

var (
	_ media.AudioDevice = (*OtoDevice)(nil)
	_ io.ReadSeeker     = (*OtoDevice)(nil)
)
