package widget

import (
	"image"
	"sync/atomic"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"github.com/GoldenFealla/SyncPlayerGo/internal/media"
)

// VideoFrame shows the most recent dispatched frame.
type VideoFrame struct {
	Image *canvas.Image

	shown atomic.Uint64
	last  atomic.Int64
}

func NewVideoFrame() *VideoFrame {
	img := canvas.NewImageFromImage(image.NewRGBA(image.Rect(0, 0, 1, 1)))
	img.FillMode = canvas.ImageFillContain
	img.ScaleMode = canvas.ImageScaleFastest

	return &VideoFrame{Image: img}
}

// OnVideoFrame is called from the dispatch goroutine; the canvas is only
// touched on the fyne goroutine.
func (v *VideoFrame) OnVideoFrame(u media.Unit) {
	if u.Frame == nil {
		return
	}
	v.shown.Add(1)
	v.last.Store(u.Timestamp)

	fyne.Do(func() {
		v.Image.Image = u.Frame
		v.Image.Refresh()
	})
}

func (v *VideoFrame) Shown() uint64 { return v.shown.Load() }

// Timestamp of the last frame shown, in microseconds.
func (v *VideoFrame) Timestamp() int64 { return v.last.Load() }
