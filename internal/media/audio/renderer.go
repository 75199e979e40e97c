// Package audio serializes decoded PCM buffers onto an output device.
package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/GoldenFealla/SyncPlayerGo/internal/media"
	"github.com/GoldenFealla/SyncPlayerGo/internal/media/task"
	"github.com/sirupsen/logrus"
)

// Silence tells why a renderer plays nothing.
type Silence int32

const (
	Audible Silence = iota
	// NoDevice means there is no device or it could not be started.
	NoDevice
	// FormatRejected means the device is there but refused every format
	// tried, e.g. an oto context already running at another rate.
	FormatRejected
)

func (s Silence) String() string {
	switch s {
	case Audible:
		return "audible"
	case NoDevice:
		return "no device"
	case FormatRejected:
		return "format rejected"
	}
	return fmt.Sprintf("silence(%d)", int32(s))
}

// Renderer writes queued buffers to its device in arrival order. Without an
// open device buffers are consumed and discarded.
type Renderer struct {
	log    *logrus.Entry
	device media.AudioDevice
	task   *task.Task

	mu    sync.Mutex
	cond  *sync.Cond
	queue []media.AudioBuffer

	// writeMu is held from dequeue to the end of the device write so that
	// Drain cannot overtake the render loop.
	writeMu sync.Mutex
	open    atomic.Bool
	silence atomic.Int32
	format  media.AudioFormat
}

// NewRenderer accepts a nil device, which renders in discard mode.
func NewRenderer(device media.AudioDevice, log *logrus.Entry) *Renderer {
	r := &Renderer{
		log:    log,
		device: device,
	}
	r.cond = sync.NewCond(&r.mu)
	r.task = task.New("audio", r.step)
	return r
}

// Initialize opens the device for f. When the device rejects f, stereo is
// tried and downmix reports that the caller has to convert. If nothing can
// be opened the renderer discards its input and ErrDeviceUnavailable is
// returned; playback may go on without sound.
func (r *Renderer) Initialize(f media.AudioFormat) (downmix bool, err error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.closeDevice()

	if r.device == nil {
		r.silence.Store(int32(NoDevice))
		return false, fmt.Errorf("audio: no output device: %w", media.ErrDeviceUnavailable)
	}

	err = r.device.Open(f)
	if err == nil {
		r.format = f
		r.open.Store(true)
		r.silence.Store(int32(Audible))
		return false, nil
	}

	if f.Channels != 2 {
		stereo := f
		stereo.Channels = 2

		r.log.WithError(err).WithField("channels", f.Channels).Warn("output line rejected, retrying in stereo")
		if err2 := r.device.Open(stereo); err2 == nil {
			r.format = stereo
			r.open.Store(true)
			r.silence.Store(int32(Audible))
			return true, nil
		} else {
			err = errors.Join(err, err2)
		}
	}

	silence := FormatRejected
	if errors.Is(err, media.ErrDeviceUnavailable) {
		silence = NoDevice
	}
	r.silence.Store(int32(silence))

	r.log.WithError(err).WithField("reason", silence).Warn("no usable output line, audio will be discarded")
	return false, fmt.Errorf("audio: opening output line failed: %w: %w", media.ErrDeviceUnavailable, err)
}

func (r *Renderer) HasDevice() bool {
	return r.open.Load()
}

// Silence reports why the last Initialize left the renderer without sound.
func (r *Renderer) Silence() Silence {
	return Silence(r.silence.Load())
}

func (r *Renderer) Format() media.AudioFormat {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.format
}

func (r *Renderer) Run()    { r.task.Run() }
func (r *Renderer) Pause()  { r.task.Pause() }
func (r *Renderer) Resume() { r.task.Resume() }

// Enqueue never blocks.
func (r *Renderer) Enqueue(b media.AudioBuffer) {
	r.mu.Lock()
	r.queue = append(r.queue, b)
	r.cond.Signal()
	r.mu.Unlock()
}

func (r *Renderer) Queued() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

func (r *Renderer) step(ctx context.Context) {
	if !r.wait(ctx) {
		return
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	if len(r.queue) == 0 {
		r.mu.Unlock()
		return
	}
	b := r.queue[0]
	r.queue[0] = media.AudioBuffer{}
	r.queue = r.queue[1:]
	r.mu.Unlock()

	r.write(b)
}

func (r *Renderer) wait(ctx context.Context) bool {
	stop := context.AfterFunc(ctx, func() {
		r.mu.Lock()
		r.cond.Broadcast()
		r.mu.Unlock()
	})
	defer stop()

	r.mu.Lock()
	defer r.mu.Unlock()

	for len(r.queue) == 0 {
		if ctx.Err() != nil {
			return false
		}
		r.cond.Wait()
	}
	return ctx.Err() == nil
}

// write must be called with writeMu held.
func (r *Renderer) write(b media.AudioBuffer) {
	if !r.open.Load() {
		return
	}
	if err := r.device.Write(b.Data); err != nil {
		r.log.WithError(err).Warn("writing audio buffer failed")
	}
}

// Drain writes every queued buffer in order and waits for the device to play
// them. Without a device it is equivalent to Flush.
func (r *Renderer) Drain() {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	pending := r.queue
	r.queue = nil
	r.mu.Unlock()

	if !r.open.Load() {
		return
	}

	for _, b := range pending {
		r.write(b)
	}
	r.device.Drain()
}

// Flush discards queued buffers and anything the device has not played yet.
func (r *Renderer) Flush() {
	r.mu.Lock()
	r.queue = nil
	r.mu.Unlock()

	if r.open.Load() {
		r.device.Flush()
	}
}

func (r *Renderer) Shutdown() {
	r.task.Stop()
	r.Flush()

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.closeDevice()
}

// closeDevice must be called with writeMu held.
func (r *Renderer) closeDevice() {
	if r.open.Swap(false) {
		r.device.Close()
	}
}
