// Package player exposes the playback state machine driving a reader, a
// synchronizer and an audio renderer for one media file at a time.
package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/GoldenFealla/SyncPlayerGo/internal/media"
	"github.com/GoldenFealla/SyncPlayerGo/internal/media/audio"
	"github.com/GoldenFealla/SyncPlayerGo/internal/media/clock"
	"github.com/GoldenFealla/SyncPlayerGo/internal/media/reader"
	"github.com/GoldenFealla/SyncPlayerGo/internal/media/synchronizer"
	"github.com/asticode/go-astikit"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var ErrInvalidState = errors.New("player: invalid state")

type State int32

const (
	Stopped State = iota
	Playing
	Paused
	Ended
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Ended:
		return "ended"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// VideoListener receives every dispatched video frame in dispatch order.
type VideoListener interface {
	OnVideoFrame(u media.Unit)
}

type Config struct {
	// Loop restarts playback from the beginning at end of stream.
	Loop bool
	Sync synchronizer.Config
}

type Stats struct {
	State       State
	Video       int
	Audio       int
	QueuedAudio int
	Dispatched  uint64
	Downmix     bool
	Loop        bool
	HasDevice   bool
	// Silence tells a missing device from one that refused the format.
	Silence audio.Silence
}

type Controller struct {
	id     uuid.UUID
	log    *logrus.Entry
	cfg    Config
	opener media.Opener

	clock    *clock.Clock
	sync     *synchronizer.Synchronizer
	renderer *audio.Renderer
	reader   *reader.Reader

	group  errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	// mu serializes lifecycle transitions. state is also read lock-free.
	mu      sync.Mutex
	state   atomic.Int32
	loaded  bool
	downmix atomic.Bool

	release sync.Once

	listenersMu sync.RWMutex
	listeners   []VideoListener
}

// New starts the worker loops parked. device may be nil to play without
// sound.
func New(opener media.Opener, device media.AudioDevice, cfg Config, log *logrus.Entry) *Controller {
	id := uuid.New()
	c := &Controller{
		id:     id,
		log:    log.WithField("player", id.String()),
		cfg:    cfg,
		opener: opener,
		clock:  clock.New(),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.sync = synchronizer.New(cfg.Sync, c.clock, c, c.log.WithField("component", "synchronizer"))
	c.renderer = audio.NewRenderer(device, c.log.WithField("component", "audio"))
	c.reader = reader.New(c.sync, c.onEnd, c.log.WithField("component", "reader"))

	c.group.Go(func() error { c.renderer.Run(); return nil })
	c.group.Go(func() error { c.sync.Run(); return nil })
	c.group.Go(func() error { c.reader.Run(); return nil })

	return c
}

func (c *Controller) ID() uuid.UUID { return c.id }

func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) IsPlaying() bool { return c.State() == Playing }
func (c *Controller) IsPaused() bool  { return c.State() == Paused }
func (c *Controller) IsStopped() bool { return c.State() == Stopped }

func (c *Controller) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev != s {
		c.log.WithFields(logrus.Fields{"from": prev, "to": s}).Debug("state changed")
	}
}

// Load opens path and prepares every component for it. Every stream found
// must be decodable. A missing or unusable audio device is not an error.
func (c *Controller) Load(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() != Stopped {
		return fmt.Errorf("player: load in %s: %w", c.State(), ErrInvalidState)
	}

	src, err := c.opener.Open(path)
	if err != nil {
		return fmt.Errorf("player: opening %s failed: %w", path, err)
	}

	closer := astikit.NewCloser()
	closer.Add(src.Close)
	fail := func(err error) error {
		if cerr := closer.Close(); cerr != nil {
			c.log.WithError(cerr).Warn("releasing partially loaded media failed")
		}
		return err
	}

	streams := src.Streams()
	vs, hasVideo := media.FindStream(streams, media.KindVideo)
	as, hasAudio := media.FindStream(streams, media.KindAudio)
	if !hasVideo && !hasAudio {
		return fail(fmt.Errorf("player: %s: %w", path, media.ErrNoStream))
	}

	cfg := reader.Config{Source: src}

	if hasVideo {
		vd, err := src.OpenVideoDecoder(vs.Index)
		if err != nil {
			return fail(fmt.Errorf("player: opening video decoder failed: %w", err))
		}
		closer.Add(vd.Close)

		conv, err := src.NewPixelConverter(vd)
		if err != nil {
			return fail(fmt.Errorf("player: creating pixel converter failed: %w", err))
		}
		closer.Add(conv.Close)

		cfg.Video, cfg.VideoIndex, cfg.Converter = vd, vs.Index, conv
	}

	downmix := false
	if hasAudio {
		ad, err := src.OpenAudioDecoder(as.Index)
		if err != nil {
			return fail(fmt.Errorf("player: opening audio decoder failed: %w", err))
		}
		closer.Add(ad.Close)

		if downmix, err = c.renderer.Initialize(ad.Format()); err != nil {
			c.log.WithError(err).WithField("reason", c.renderer.Silence()).Warn("playing without sound")
		}
		cfg.Audio, cfg.AudioIndex, cfg.Downmix = ad, as.Index, downmix
	}

	c.sync.Init(hasVideo, hasAudio)
	c.reader.Init(cfg)
	c.loaded = true
	c.downmix.Store(downmix)

	c.log.WithFields(logrus.Fields{
		"path":    path,
		"video":   hasVideo,
		"audio":   hasAudio,
		"downmix": downmix,
	}).Info("media loaded")

	return nil
}

func (c *Controller) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() != Stopped || !c.loaded {
		return fmt.Errorf("player: play in %s: %w", c.State(), ErrInvalidState)
	}
	c.play()
	return nil
}

// play must be called with mu held.
func (c *Controller) play() {
	c.clock.Start()
	c.setState(Playing)
	c.resumeAll()
}

// Pause parks every worker. Pausing while paused does nothing.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.State() {
	case Paused:
		return nil
	case Playing:
		c.pauseAll()
		c.setState(Paused)
		return nil
	}
	return fmt.Errorf("player: pause in %s: %w", c.State(), ErrInvalidState)
}

// Resume continues from a pause with a fresh clock reference. Resuming while
// playing does nothing.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.State() {
	case Playing:
		return nil
	case Paused:
		c.clock.Reset()
		c.setState(Playing)
		c.resumeAll()
		return nil
	}
	return fmt.Errorf("player: resume in %s: %w", c.State(), ErrInvalidState)
}

func (c *Controller) TogglePause() error {
	if c.IsPaused() {
		return c.Resume()
	}
	return c.Pause()
}

// Stop rewinds to the start. With drain, buffered content is played out
// before returning; otherwise it is discarded.
func (c *Controller) Stop(drain bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.State() {
	case Playing, Paused:
		c.stop(drain)
		return nil
	}
	return fmt.Errorf("player: stop in %s: %w", c.State(), ErrInvalidState)
}

// stop must be called with mu held. It reports whether the rewind succeeded.
func (c *Controller) stop(drain bool) bool {
	wasPaused := c.State() == Paused

	c.reader.Pause()
	rewound := c.reader.SeekToStart()

	if drain {
		if wasPaused {
			c.clock.Reset()
		}
		c.renderer.Resume()
		c.sync.Resume()
		if err := c.sync.Drain(c.ctx); err != nil {
			c.log.WithError(err).Debug("drain abandoned")
		}
		c.renderer.Drain()
	}

	c.sync.Pause()
	c.renderer.Pause()
	if !drain {
		c.sync.Flush()
		c.renderer.Flush()
	}

	c.setState(Stopped)
	return rewound
}

// onEnd runs on the reader goroutine, which loop has to pause, so the
// transition happens on its own goroutine.
func (c *Controller) onEnd() {
	if c.State() == Ended {
		return
	}
	c.group.Go(func() error {
		c.loop()
		return nil
	})
}

func (c *Controller) loop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.State() {
	case Playing, Paused:
	default:
		return
	}

	rewound := c.stop(true)
	if c.cfg.Loop && rewound {
		c.log.Debug("looping")
		c.play()
		return
	}
	c.log.Info("end of media")
}

// Release shuts every component down and ends the controller for good.
func (c *Controller) Release() {
	c.release.Do(func() {
		c.cancel()

		c.mu.Lock()
		c.setState(Ended)
		c.loaded = false
		c.mu.Unlock()

		c.reader.Shutdown()
		c.sync.Shutdown()
		c.renderer.Shutdown()

		if err := c.group.Wait(); err != nil {
			c.log.WithError(err).Warn("worker failed")
		}
		c.log.Debug("released")
	})
}

func (c *Controller) pauseAll() {
	c.reader.Pause()
	c.sync.Pause()
	c.renderer.Pause()
}

func (c *Controller) resumeAll() {
	c.renderer.Resume()
	c.sync.Resume()
	c.reader.Resume()
}

func (c *Controller) Stats() Stats {
	s := c.sync.Stats()

	return Stats{
		State:       c.State(),
		Video:       s.Video,
		Audio:       s.Audio,
		QueuedAudio: c.renderer.Queued(),
		Dispatched:  s.Dispatched,
		Downmix:     c.downmix.Load(),
		Loop:        c.cfg.Loop,
		HasDevice:   c.renderer.HasDevice(),
		Silence:     c.renderer.Silence(),
	}
}

func (c *Controller) AddListener(l VideoListener) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, l)
}

func (c *Controller) RemoveListener(l VideoListener) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = lo.Without(c.listeners, l)
}

func (c *Controller) OnVideoFrame(u media.Unit) {
	c.listenersMu.RLock()
	listeners := c.listeners
	c.listenersMu.RUnlock()

	for _, l := range listeners {
		l.OnVideoFrame(u)
	}
}

func (c *Controller) OnAudioBuffer(b media.AudioBuffer) {
	c.renderer.Enqueue(b)
}

var _ synchronizer.Sink = (*Controller)(nil)
