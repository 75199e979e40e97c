// Package reader pulls packets from a media source, decodes them and feeds
// the resulting timestamped units downstream.
package reader

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/GoldenFealla/SyncPlayerGo/internal/media"
	"github.com/GoldenFealla/SyncPlayerGo/internal/media/task"
	"github.com/asticode/go-astikit"
	"github.com/sirupsen/logrus"
)

// Queue receives decoded units. Enqueue calls may block for backpressure
// and must give up when ctx ends.
type Queue interface {
	EnqueueVideo(ctx context.Context, u media.Unit) error
	EnqueueAudio(ctx context.Context, u media.Unit) error
}

type Config struct {
	Source media.Source

	Video      media.VideoDecoder
	VideoIndex int
	Converter  media.PixelConverter

	Audio      media.AudioDecoder
	AudioIndex int
	// Downmix converts audio to stereo before forwarding.
	Downmix bool
}

type Reader struct {
	log   *logrus.Entry
	out   Queue
	onEnd func()
	task  *task.Task

	// mu is held for a whole step, so reconfiguring waits for the step.
	mu      sync.Mutex
	cfg     Config
	closer  *astikit.Closer
	pending []media.Unit
	ended   bool
}

// New creates an idle reader. onEnd runs on the reader goroutine once the
// source is exhausted or fails.
func New(out Queue, onEnd func(), log *logrus.Entry) *Reader {
	r := &Reader{
		log:   log,
		out:   out,
		onEnd: onEnd,
	}
	r.task = task.New("reader", r.step)
	return r
}

// Init takes ownership of cfg's source, decoders and converter, releasing
// whatever was loaded before.
func (r *Reader) Init(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.release()

	r.cfg = cfg
	r.closer = astikit.NewCloser()
	if cfg.Source != nil {
		r.closer.Add(cfg.Source.Close)
	}
	if cfg.Video != nil {
		r.closer.Add(cfg.Video.Close)
	}
	if cfg.Converter != nil {
		r.closer.Add(cfg.Converter.Close)
	}
	if cfg.Audio != nil {
		r.closer.Add(cfg.Audio.Close)
	}
	r.ended = false
}

func (r *Reader) Run()    { r.task.Run() }
func (r *Reader) Pause()  { r.task.Pause() }
func (r *Reader) Resume() { r.task.Resume() }

func (r *Reader) Ended() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ended
}

func (r *Reader) step(ctx context.Context) {
	r.mu.Lock()

	if r.cfg.Source == nil || r.ended {
		r.mu.Unlock()
		<-ctx.Done()
		return
	}

	if !r.forward(ctx) {
		r.mu.Unlock()
		return
	}

	pkt, err := r.cfg.Source.ReadPacket(ctx)
	if err != nil {
		if errors.Is(err, media.ErrInterrupted) || ctx.Err() != nil {
			r.mu.Unlock()
			return
		}

		if errors.Is(err, io.EOF) {
			r.log.Debug("end of stream")
		} else {
			r.log.WithError(err).Warn("reading packet failed, stopping")
		}
		r.ended = true
		r.mu.Unlock()

		if r.onEnd != nil {
			r.onEnd()
		}
		return
	}

	switch idx := pkt.StreamIndex(); {
	case r.cfg.Video != nil && idx == r.cfg.VideoIndex:
		r.decodeVideo(pkt)
	case r.cfg.Audio != nil && idx == r.cfg.AudioIndex:
		r.decodeAudio(pkt)
	}

	r.forward(ctx)
	r.mu.Unlock()
}

func (r *Reader) decodeVideo(pkt media.Packet) {
	for offset := 0; ; {
		n, pic, err := r.cfg.Video.Decode(pkt, offset)
		if err != nil {
			r.log.WithError(err).Warn("decoding video packet failed, skipping")
			return
		}

		if pic != nil {
			img, err := r.cfg.Converter.Convert(pic)
			if err != nil {
				r.log.WithError(err).Warn("converting picture failed, skipping")
			} else {
				r.pending = append(r.pending, media.VideoUnit(pic.Timestamp(), img))
			}
		}

		offset += n
		if pic == nil && (n <= 0 || offset >= pkt.Size()) {
			return
		}
	}
}

func (r *Reader) decodeAudio(pkt media.Packet) {
	for offset := 0; ; {
		n, buf, ts, err := r.cfg.Audio.Decode(pkt, offset)
		if err != nil {
			r.log.WithError(err).Warn("decoding audio packet failed, skipping")
			return
		}

		if buf != nil {
			b := *buf
			if r.cfg.Downmix && b.Format.Channels != 2 {
				if b, err = media.Downmix(b); err != nil {
					r.log.WithError(err).Warn("downmixing failed, skipping")
				}
			}
			if err == nil {
				r.pending = append(r.pending, media.AudioUnit(ts, b))
			}
		}

		offset += n
		if buf == nil && (n <= 0 || offset >= pkt.Size()) {
			return
		}
	}
}

// forward pushes pending units downstream. Units refused because ctx ended
// are kept for the next step.
func (r *Reader) forward(ctx context.Context) bool {
	for len(r.pending) > 0 {
		u := r.pending[0]

		var err error
		if u.Kind == media.KindVideo {
			err = r.out.EnqueueVideo(ctx, u)
		} else {
			err = r.out.EnqueueAudio(ctx, u)
		}
		if err != nil {
			return false
		}

		r.pending[0] = media.Unit{}
		r.pending = r.pending[1:]
	}
	r.pending = r.pending[:0]
	return true
}

// SeekToStart rewinds the source for looping and drops undelivered units.
// It reports whether the seek succeeded.
func (r *Reader) SeekToStart() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cfg.Source == nil {
		return false
	}

	r.pending = nil
	if err := r.cfg.Source.SeekToStart(); err != nil {
		r.log.WithError(err).Warn("seeking to start failed")
		return false
	}
	r.ended = false
	return true
}

// Shutdown stops the reader loop and releases the source. Idempotent.
func (r *Reader) Shutdown() {
	r.task.Stop()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.release()
}

// release must be called with mu held.
func (r *Reader) release() {
	if r.closer != nil {
		if err := r.closer.Close(); err != nil {
			r.log.WithError(err).Warn("releasing media failed")
		}
		r.closer = nil
	}
	r.cfg = Config{}
	r.pending = nil
}
