// Package synchronizer orders decoded units by timestamp and releases them to
// their sinks paced against a playback clock.
package synchronizer

import (
	"cmp"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/GoldenFealla/SyncPlayerGo/internal/media"
	"github.com/GoldenFealla/SyncPlayerGo/internal/media/task"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

const (
	DefaultVideoHighWater = 5
	DefaultReadyWatermark = 2

	// MaxPacedSleep bounds a single wait before dispatch so that an outlier
	// timestamp cannot leave the loop unresponsive.
	MaxPacedSleep = time.Second
)

type Config struct {
	HasVideo bool
	HasAudio bool

	// VideoHighWater blocks video producers once that many frames are
	// buffered, provided audio is absent or already buffered.
	VideoHighWater int
	// AudioHighWater blocks audio producers at that many buffers. Zero
	// never blocks.
	AudioHighWater int
	// ReadyWatermark is the per-stream count that must be exceeded before
	// dispatch starts, outside of draining.
	ReadyWatermark int
	MaxPacedSleep  time.Duration
}

func DefaultConfig() Config {
	return Config{
		VideoHighWater: DefaultVideoHighWater,
		ReadyWatermark: DefaultReadyWatermark,
		MaxPacedSleep:  MaxPacedSleep,
	}
}

type Sink interface {
	OnVideoFrame(u media.Unit)
	OnAudioBuffer(b media.AudioBuffer)
}

type Pacer interface {
	SynchronizationDelay(ts int64) time.Duration
	Reset()
}

type Stats struct {
	Video      int
	Audio      int
	Enqueued   uint64
	Dispatched uint64
	Draining   bool
}

type entry struct {
	unit media.Unit
	seq  uint64
	gen  uint64
}

func compareEntries(a, b entry) int {
	if c := cmp.Compare(a.unit.Timestamp, b.unit.Timestamp); c != 0 {
		return c
	}
	return cmp.Compare(a.seq, b.seq)
}

type Synchronizer struct {
	log   *logrus.Entry
	clock Pacer
	sink  Sink
	task  *task.Task

	mu      sync.Mutex
	notFull *sync.Cond
	ready   *sync.Cond
	drained *sync.Cond

	cfg        Config
	units      []entry
	seq        uint64
	gen        uint64
	videoCount int
	audioCount int
	draining   bool
	closed     bool

	enqueued   uint64
	dispatched uint64
}

func New(cfg Config, clock Pacer, sink Sink, log *logrus.Entry) *Synchronizer {
	if cfg.MaxPacedSleep <= 0 {
		cfg.MaxPacedSleep = MaxPacedSleep
	}

	s := &Synchronizer{
		log:   log,
		clock: clock,
		sink:  sink,
		cfg:   cfg,
	}
	s.notFull = sync.NewCond(&s.mu)
	s.ready = sync.NewCond(&s.mu)
	s.drained = sync.NewCond(&s.mu)
	s.task = task.New("synchronizer", s.step)

	return s
}

// Init records which streams are present and empties the buffer.
func (s *Synchronizer) Init(hasVideo, hasAudio bool) {
	s.mu.Lock()
	s.cfg.HasVideo = hasVideo
	s.cfg.HasAudio = hasAudio
	s.mu.Unlock()

	s.Flush()
}

func (s *Synchronizer) Run()    { s.task.Run() }
func (s *Synchronizer) Pause()  { s.task.Pause() }
func (s *Synchronizer) Resume() { s.task.Resume() }

func (s *Synchronizer) EnqueueVideo(ctx context.Context, u media.Unit) error {
	return s.enqueue(ctx, u)
}

func (s *Synchronizer) EnqueueAudio(ctx context.Context, u media.Unit) error {
	return s.enqueue(ctx, u)
}

func (s *Synchronizer) enqueue(ctx context.Context, u media.Unit) error {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.notFull.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	for !s.closed && s.full(u.Kind) {
		if ctx.Err() != nil {
			return fmt.Errorf("synchronizer: enqueue %s failed: %w", u.Kind, media.ErrInterrupted)
		}
		s.notFull.Wait()
	}
	if s.closed {
		return fmt.Errorf("synchronizer: enqueue %s failed: %w", u.Kind, media.ErrClosed)
	}

	s.seq++
	s.insert(entry{unit: u, seq: s.seq})
	s.enqueued++
	s.ready.Broadcast()

	return nil
}

func (s *Synchronizer) full(k media.Kind) bool {
	switch k {
	case media.KindVideo:
		return s.videoFull()
	case media.KindAudio:
		return s.audioFull()
	}
	return false
}

func (s *Synchronizer) videoFull() bool {
	if s.cfg.VideoHighWater <= 0 || s.videoCount < s.cfg.VideoHighWater {
		return false
	}
	return !s.cfg.HasAudio || s.audioCount > 0
}

func (s *Synchronizer) audioFull() bool {
	return s.cfg.AudioHighWater > 0 && s.audioCount >= s.cfg.AudioHighWater
}

// isReady also reports true while a producer is held back, since the
// producer cannot feed the other stream until something is dispatched.
func (s *Synchronizer) isReady() bool {
	if len(s.units) == 0 {
		return false
	}
	if s.draining || s.videoFull() || s.audioFull() {
		return true
	}
	if s.cfg.HasVideo && s.videoCount <= s.cfg.ReadyWatermark {
		return false
	}
	if s.cfg.HasAudio && s.audioCount <= s.cfg.ReadyWatermark {
		return false
	}
	return true
}

func (s *Synchronizer) insert(e entry) {
	i, _ := slices.BinarySearchFunc(s.units, e, compareEntries)
	s.units = slices.Insert(s.units, i, e)
	s.adjust(e.unit.Kind, 1)
}

func (s *Synchronizer) adjust(k media.Kind, delta int) {
	switch k {
	case media.KindVideo:
		s.videoCount += delta
	case media.KindAudio:
		s.audioCount += delta
	}
}

func (s *Synchronizer) step(ctx context.Context) {
	e, ok := s.next(ctx)
	if !ok {
		return
	}

	delay := lo.Clamp(s.clock.SynchronizationDelay(e.unit.Timestamp), 0, s.cfg.MaxPacedSleep)
	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.restore(e)
			return
		case <-timer.C:
		}
	}

	s.dispatch(e.unit)
}

// next blocks until the buffer is ready and removes the earliest unit.
func (s *Synchronizer) next(ctx context.Context) (entry, bool) {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.ready.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	for !s.isReady() {
		if s.draining && len(s.units) == 0 {
			s.draining = false
			s.drained.Broadcast()
		}
		if ctx.Err() != nil || s.closed {
			return entry{}, false
		}
		s.ready.Wait()
	}
	if ctx.Err() != nil {
		return entry{}, false
	}

	e := s.units[0]
	s.units = slices.Delete(s.units, 0, 1)
	s.adjust(e.unit.Kind, -1)
	e.gen = s.gen
	s.notFull.Broadcast()

	return e, true
}

// restore puts back a unit whose paced sleep was interrupted, unless the
// buffer was flushed in the meantime.
func (s *Synchronizer) restore(e entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.gen != s.gen || s.closed {
		return
	}
	s.insert(e)
	s.ready.Broadcast()
}

func (s *Synchronizer) dispatch(u media.Unit) {
	s.mu.Lock()
	s.dispatched++
	s.mu.Unlock()

	switch u.Kind {
	case media.KindVideo:
		s.sink.OnVideoFrame(u)
	case media.KindAudio:
		s.sink.OnAudioBuffer(u.Audio)
	}
}

// Drain lets the dispatch loop deliver everything buffered and blocks until
// the buffer is empty. The dispatch loop must be running.
func (s *Synchronizer) Drain(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.drained.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.draining = true
	s.ready.Broadcast()
	for s.draining && !s.closed {
		if ctx.Err() != nil {
			s.draining = false
			s.mu.Unlock()
			return fmt.Errorf("synchronizer: drain failed: %w", media.ErrInterrupted)
		}
		s.drained.Wait()
	}
	s.mu.Unlock()

	s.log.Debug("drained")
	s.Flush()
	return nil
}

// Flush discards every buffered unit and resets the clock.
func (s *Synchronizer) Flush() {
	s.mu.Lock()
	n := len(s.units)
	s.units = s.units[:0]
	s.videoCount = 0
	s.audioCount = 0
	s.gen++
	if s.draining {
		s.draining = false
		s.drained.Broadcast()
	}
	s.notFull.Broadcast()
	s.mu.Unlock()

	s.clock.Reset()
	if n > 0 {
		s.log.WithField("discarded", n).Debug("flushed")
	}
}

// Shutdown stops the dispatch loop and releases blocked producers.
func (s *Synchronizer) Shutdown() {
	s.task.Stop()

	s.mu.Lock()
	s.closed = true
	s.units = nil
	s.videoCount = 0
	s.audioCount = 0
	s.draining = false
	s.notFull.Broadcast()
	s.ready.Broadcast()
	s.drained.Broadcast()
	s.mu.Unlock()
}

func (s *Synchronizer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Video:      s.videoCount,
		Audio:      s.audioCount,
		Enqueued:   s.enqueued,
		Dispatched: s.dispatched,
		Draining:   s.draining,
	}
}
