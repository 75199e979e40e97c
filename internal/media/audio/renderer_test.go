package audio

import (
	"errors"
	"testing"
	"time"

	"github.com/GoldenFealla/SyncPlayerGo/internal/media"
	"github.com/GoldenFealla/SyncPlayerGo/internal/media/mediatest"
	"github.com/sirupsen/logrus"
	. "github.com/smartystreets/goconvey/convey"
)

var surround = media.AudioFormat{SampleRate: 48000, BitDepth: 16, Channels: 6}

func buffer(tag byte) media.AudioBuffer {
	return media.AudioBuffer{Format: surround, Data: []byte{tag}}
}

func TestRenderer(t *testing.T) {
	Convey("Renderer", t, func() {
		log := logrus.NewEntry(logrus.New())
		dev := &mediatest.Device{}
		r := NewRenderer(dev, log)

		done := make(chan struct{})
		go func() {
			r.Run()
			close(done)
		}()

		Reset(func() {
			r.Shutdown()
			<-done
		})

		Convey("Initialize", func() {
			Convey("Should open the source format when supported", func() {
				downmix, err := r.Initialize(surround)
				So(err, ShouldBeNil)
				So(downmix, ShouldBeFalse)
				So(r.HasDevice(), ShouldBeTrue)
				So(r.Silence(), ShouldEqual, Audible)
				So(dev.Format(), ShouldResemble, surround)
			})

			Convey("Should fall back to stereo and request a downmix", func() {
				dev.MaxChannels = 2
				downmix, err := r.Initialize(surround)
				So(err, ShouldBeNil)
				So(downmix, ShouldBeTrue)
				So(dev.Format().Channels, ShouldEqual, 2)
			})

			Convey("Should degrade to discard mode without a device", func() {
				dev.Unavailable = true
				downmix, err := r.Initialize(surround)
				So(errors.Is(err, media.ErrDeviceUnavailable), ShouldBeTrue)
				So(downmix, ShouldBeFalse)
				So(r.HasDevice(), ShouldBeFalse)
				So(r.Silence(), ShouldEqual, NoDevice)

				r.Enqueue(buffer(1))
				r.Resume()
				time.Sleep(10 * time.Millisecond)
				So(r.Queued(), ShouldEqual, 0)
				So(dev.Writes(), ShouldBeEmpty)
			})

			Convey("Should tell a rejected format from a missing device", func() {
				dev.MaxChannels = 1
				downmix, err := r.Initialize(surround)
				So(errors.Is(err, media.ErrDeviceUnavailable), ShouldBeTrue)
				So(errors.Is(err, media.ErrUnsupportedFormat), ShouldBeTrue)
				So(downmix, ShouldBeFalse)
				So(r.HasDevice(), ShouldBeFalse)
				So(r.Silence(), ShouldEqual, FormatRejected)
				So(r.Silence().String(), ShouldEqual, "format rejected")

				dev.MaxChannels = 0
				_, err = r.Initialize(surround)
				So(err, ShouldBeNil)
				So(r.Silence(), ShouldEqual, Audible)
			})

			Convey("Should accept a nil device", func() {
				nr := NewRenderer(nil, log)
				_, err := nr.Initialize(surround)
				So(errors.Is(err, media.ErrDeviceUnavailable), ShouldBeTrue)
				So(nr.Silence(), ShouldEqual, NoDevice)
				nr.Drain()
				nr.Shutdown()
			})
		})

		Convey("Should write buffers in enqueue order", func() {
			_, err := r.Initialize(surround)
			So(err, ShouldBeNil)

			for i := byte(0); i < 10; i++ {
				r.Enqueue(buffer(i))
			}
			r.Resume()

			deadline := time.Now().Add(2 * time.Second)
			for len(dev.Writes()) < 10 && time.Now().Before(deadline) {
				time.Sleep(time.Millisecond)
			}

			writes := dev.Writes()
			So(len(writes), ShouldEqual, 10)
			for i, w := range writes {
				So(w[0], ShouldEqual, byte(i))
			}
		})

		Convey("Enqueue should not block while paused", func() {
			for i := byte(0); i < 100; i++ {
				r.Enqueue(buffer(i))
			}
			So(r.Queued(), ShouldEqual, 100)
		})

		Convey("Drain should write everything and empty the queue", func() {
			_, err := r.Initialize(surround)
			So(err, ShouldBeNil)

			for i := byte(0); i < 5; i++ {
				r.Enqueue(buffer(i))
			}
			r.Drain()

			So(r.Queued(), ShouldEqual, 0)
			So(len(dev.Writes()), ShouldEqual, 5)
			_, drains := dev.Counts()
			So(drains, ShouldEqual, 1)
		})

		Convey("Drain while running should preserve order", func() {
			dev.WriteDelay = time.Millisecond
			_, err := r.Initialize(surround)
			So(err, ShouldBeNil)

			r.Resume()
			for i := byte(0); i < 20; i++ {
				r.Enqueue(buffer(i))
			}
			r.Drain()

			writes := dev.Writes()
			So(len(writes), ShouldEqual, 20)
			for i, w := range writes {
				So(w[0], ShouldEqual, byte(i))
			}
		})

		Convey("Flush should discard queued buffers", func() {
			_, err := r.Initialize(surround)
			So(err, ShouldBeNil)

			r.Enqueue(buffer(1))
			r.Enqueue(buffer(2))
			r.Flush()

			So(r.Queued(), ShouldEqual, 0)
			flushes, _ := dev.Counts()
			So(flushes, ShouldEqual, 1)

			r.Resume()
			time.Sleep(10 * time.Millisecond)
			So(dev.Writes(), ShouldBeEmpty)
		})

		Convey("Shutdown should close the device", func() {
			_, err := r.Initialize(surround)
			So(err, ShouldBeNil)
			r.Shutdown()
			So(dev.Closed(), ShouldBeTrue)
			So(r.HasDevice(), ShouldBeFalse)
		})
	})
}
