package player

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/GoldenFealla/SyncPlayerGo/internal/media"
	"github.com/GoldenFealla/SyncPlayerGo/internal/media/audio"
	"github.com/GoldenFealla/SyncPlayerGo/internal/media/mediatest"
	"github.com/GoldenFealla/SyncPlayerGo/internal/media/synchronizer"
	"github.com/sirupsen/logrus"
	. "github.com/smartystreets/goconvey/convey"
)

const (
	videoIdx = 0
	audioIdx = 1
)

var bothStreams = []media.StreamInfo{
	{Index: videoIdx, Kind: media.KindVideo},
	{Index: audioIdx, Kind: media.KindAudio},
}

var videoOnly = []media.StreamInfo{{Index: videoIdx, Kind: media.KindVideo}}

type frames struct {
	mu sync.Mutex
	ts []int64
}

func (f *frames) OnVideoFrame(u media.Unit) {
	f.mu.Lock()
	f.ts = append(f.ts, u.Timestamp)
	f.mu.Unlock()
}

func (f *frames) snapshot() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.ts...)
}

func (f *frames) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ts)
}

func videoPacket(ts int64) *mediatest.Packet {
	return &mediatest.Packet{Stream: videoIdx, Bytes: 8, Timestamp: ts}
}

func audioPacket(ts int64) *mediatest.Packet {
	return &mediatest.Packet{Stream: audioIdx, Bytes: 8, Timestamp: ts}
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func TestController(t *testing.T) {
	Convey("Controller", t, func() {
		log := logrus.NewEntry(logrus.New())
		dev := &mediatest.Device{}
		sources := map[string]*mediatest.Source{}
		opener := &mediatest.Opener{Sources: sources}
		cfg := Config{Sync: synchronizer.DefaultConfig()}

		newController := func() (*Controller, *frames) {
			c := New(opener, dev, cfg, log)
			f := &frames{}
			c.AddListener(f)
			return c, f
		}

		Convey("Should start stopped and refuse to play before a load", func() {
			c, _ := newController()
			defer c.Release()

			So(c.IsStopped(), ShouldBeTrue)
			So(errors.Is(c.Play(), ErrInvalidState), ShouldBeTrue)
			So(errors.Is(c.Pause(), ErrInvalidState), ShouldBeTrue)
			So(errors.Is(c.Stop(false), ErrInvalidState), ShouldBeTrue)
		})

		Convey("Should walk the playback states", func() {
			sources["clip.mp4"] = &mediatest.Source{
				Info:      bothStreams,
				Packets:   []*mediatest.Packet{videoPacket(0), audioPacket(0)},
				HoldAtEnd: true,
			}
			c, _ := newController()
			defer c.Release()

			So(c.Load("clip.mp4"), ShouldBeNil)
			So(c.Play(), ShouldBeNil)
			So(c.IsPlaying(), ShouldBeTrue)
			So(errors.Is(c.Load("clip.mp4"), ErrInvalidState), ShouldBeTrue)

			So(c.Pause(), ShouldBeNil)
			So(c.Pause(), ShouldBeNil)
			So(c.IsPaused(), ShouldBeTrue)

			So(c.Resume(), ShouldBeNil)
			So(c.Resume(), ShouldBeNil)
			So(c.IsPlaying(), ShouldBeTrue)

			So(c.TogglePause(), ShouldBeNil)
			So(c.IsPaused(), ShouldBeTrue)
			So(c.TogglePause(), ShouldBeNil)
			So(c.IsPlaying(), ShouldBeTrue)

			So(c.Stop(false), ShouldBeNil)
			So(c.IsStopped(), ShouldBeTrue)
			So(errors.Is(c.Stop(false), ErrInvalidState), ShouldBeTrue)

			c.Release()
			c.Release()
			So(c.State(), ShouldEqual, Ended)
			So(errors.Is(c.Play(), ErrInvalidState), ShouldBeTrue)
			So(errors.Is(c.Resume(), ErrInvalidState), ShouldBeTrue)
			So(errors.Is(c.Load("clip.mp4"), ErrInvalidState), ShouldBeTrue)
			So(sources["clip.mp4"].Closed(), ShouldBeTrue)
		})

		Convey("Should discard buffered units when stopping without drain", func() {
			src := &mediatest.Source{
				Info: bothStreams,
				Packets: []*mediatest.Packet{
					videoPacket(0), videoPacket(1000), videoPacket(2000),
					audioPacket(0), audioPacket(1000),
				},
				HoldAtEnd: true,
			}
			sources["clip.mp4"] = src
			c, f := newController()
			defer c.Release()

			So(c.Load("clip.mp4"), ShouldBeNil)
			So(c.Play(), ShouldBeNil)
			So(waitFor(func() bool {
				s := c.Stats()
				return s.Video == 3 && s.Audio == 2
			}), ShouldBeTrue)

			So(c.Stop(false), ShouldBeNil)

			s := c.Stats()
			So(s.Video, ShouldEqual, 0)
			So(s.Audio, ShouldEqual, 0)
			So(s.QueuedAudio, ShouldEqual, 0)
			So(src.Seeks(), ShouldEqual, 1)

			time.Sleep(20 * time.Millisecond)
			So(f.len(), ShouldEqual, 0)
			So(dev.Writes(), ShouldBeEmpty)
		})

		Convey("Should play out buffered units when stopping with drain", func() {
			src := &mediatest.Source{
				Info:      bothStreams,
				Packets:   []*mediatest.Packet{videoPacket(0), audioPacket(0), videoPacket(1000), audioPacket(1000)},
				HoldAtEnd: true,
			}
			sources["clip.mp4"] = src
			c, f := newController()
			defer c.Release()

			So(c.Load("clip.mp4"), ShouldBeNil)
			So(c.Play(), ShouldBeNil)
			So(waitFor(func() bool {
				s := c.Stats()
				return s.Video == 2 && s.Audio == 2
			}), ShouldBeTrue)
			So(c.Pause(), ShouldBeNil)

			So(c.Stop(true), ShouldBeNil)
			So(c.IsStopped(), ShouldBeTrue)
			So(f.snapshot(), ShouldResemble, []int64{0, 1000})
			So(len(dev.Writes()), ShouldEqual, 2)

			_, drains := dev.Counts()
			So(drains, ShouldEqual, 1)

			s := c.Stats()
			So(s.Video, ShouldEqual, 0)
			So(s.Audio, ShouldEqual, 0)
			So(s.QueuedAudio, ShouldEqual, 0)
		})

		Convey("Should restart from the beginning at end of stream when looping", func() {
			cfg.Loop = true
			src := &mediatest.Source{
				Info:    videoOnly,
				Packets: []*mediatest.Packet{videoPacket(0), videoPacket(1000), videoPacket(2000), videoPacket(3000)},
			}
			sources["clip.mp4"] = src
			c, f := newController()
			defer c.Release()

			var restarts []Stats
			var restartsMu sync.Mutex
			src.OnRead = func(pos int) {
				if pos != 0 || src.Seeks() == 0 {
					return
				}
				restartsMu.Lock()
				restarts = append(restarts, c.Stats())
				restartsMu.Unlock()
			}

			So(c.Load("clip.mp4"), ShouldBeNil)
			So(c.Play(), ShouldBeNil)

			So(waitFor(func() bool { return f.len() >= 8 }), ShouldBeTrue)

			restartsMu.Lock()
			So(restarts, ShouldNotBeEmpty)
			So(restarts[0].State, ShouldEqual, Playing)
			So(restarts[0].Video, ShouldEqual, 0)
			So(restarts[0].Audio, ShouldEqual, 0)
			restartsMu.Unlock()

			So(src.Seeks(), ShouldBeGreaterThanOrEqualTo, 1)
			So(waitFor(c.IsPlaying), ShouldBeTrue)
			So(c.Stats().Loop, ShouldBeTrue)

			ts := f.snapshot()
			So(ts[:8], ShouldResemble, []int64{0, 1000, 2000, 3000, 0, 1000, 2000, 3000})
		})

		Convey("Should stay stopped when the rewind fails while looping", func() {
			cfg.Loop = true
			src := &mediatest.Source{
				Info:    videoOnly,
				Packets: []*mediatest.Packet{videoPacket(0), videoPacket(1000), videoPacket(2000), videoPacket(3000)},
				SeekErr: errors.New("seek unsupported"),
			}
			sources["clip.mp4"] = src
			c, f := newController()
			defer c.Release()

			So(c.Load("clip.mp4"), ShouldBeNil)
			So(c.Play(), ShouldBeNil)

			So(waitFor(c.IsStopped), ShouldBeTrue)
			So(src.Seeks(), ShouldEqual, 1)

			time.Sleep(20 * time.Millisecond)
			So(c.IsStopped(), ShouldBeTrue)
			So(c.IsPlaying(), ShouldBeFalse)
			So(f.snapshot(), ShouldResemble, []int64{0, 1000, 2000, 3000})

			s := c.Stats()
			So(s.Video, ShouldEqual, 0)
			So(s.Audio, ShouldEqual, 0)
		})

		Convey("Should stay stopped at end of stream without looping", func() {
			src := &mediatest.Source{
				Info:    videoOnly,
				Packets: []*mediatest.Packet{videoPacket(0), videoPacket(1000), videoPacket(2000), videoPacket(3000)},
			}
			sources["clip.mp4"] = src
			c, f := newController()
			defer c.Release()

			So(c.Load("clip.mp4"), ShouldBeNil)
			So(c.Play(), ShouldBeNil)

			So(waitFor(c.IsStopped), ShouldBeTrue)
			So(f.snapshot(), ShouldResemble, []int64{0, 1000, 2000, 3000})

			s := c.Stats()
			So(s.Video, ShouldEqual, 0)
			So(s.Audio, ShouldEqual, 0)
		})

		Convey("Should stop delivering to removed listeners", func() {
			src := &mediatest.Source{
				Info:    videoOnly,
				Packets: []*mediatest.Packet{videoPacket(0), videoPacket(1000), videoPacket(2000), videoPacket(3000)},
			}
			sources["clip.mp4"] = src
			c, f := newController()
			defer c.Release()

			other := &frames{}
			c.AddListener(other)
			c.RemoveListener(f)

			So(c.Load("clip.mp4"), ShouldBeNil)
			So(c.Play(), ShouldBeNil)
			So(waitFor(c.IsStopped), ShouldBeTrue)

			So(f.len(), ShouldEqual, 0)
			So(other.len(), ShouldEqual, 4)
		})

		Convey("Load", func() {
			c, _ := newController()
			defer c.Release()

			Convey("Should fail on an unknown container", func() {
				err := c.Load("missing.mp4")
				So(errors.Is(err, media.ErrUnsupportedFormat), ShouldBeTrue)
				So(c.IsStopped(), ShouldBeTrue)
				So(errors.Is(c.Play(), ErrInvalidState), ShouldBeTrue)
			})

			Convey("Should fail without playable streams and close the source", func() {
				src := &mediatest.Source{}
				sources["empty.mp4"] = src

				err := c.Load("empty.mp4")
				So(errors.Is(err, media.ErrNoStream), ShouldBeTrue)
				So(src.Closed(), ShouldBeTrue)
			})

			Convey("Should fail when a decoder cannot be opened", func() {
				src := &mediatest.Source{Info: bothStreams, OpenErr: media.ErrUnsupportedFormat}
				sources["broken.mp4"] = src

				err := c.Load("broken.mp4")
				So(errors.Is(err, media.ErrUnsupportedFormat), ShouldBeTrue)
				So(src.Closed(), ShouldBeTrue)
				So(c.IsStopped(), ShouldBeTrue)
			})

			Convey("Should request downmix when the device only takes stereo", func() {
				dev.MaxChannels = 2
				sources["surround.mp4"] = &mediatest.Source{
					Info: bothStreams,
					Audio: &mediatest.AudioDecoder{
						Fmt: media.AudioFormat{SampleRate: 48000, BitDepth: 16, Channels: 6},
					},
				}

				So(c.Load("surround.mp4"), ShouldBeNil)
				s := c.Stats()
				So(s.Downmix, ShouldBeTrue)
				So(s.HasDevice, ShouldBeTrue)
				So(dev.Format().Channels, ShouldEqual, 2)
			})

			Convey("Should load without a usable device", func() {
				dev.Unavailable = true
				sources["clip.mp4"] = &mediatest.Source{Info: bothStreams}

				So(c.Load("clip.mp4"), ShouldBeNil)
				So(c.Stats().HasDevice, ShouldBeFalse)
				So(c.Stats().Silence, ShouldEqual, audio.NoDevice)
				So(c.Play(), ShouldBeNil)
			})

			Convey("Should report a device that refuses the stream format", func() {
				dev.MaxChannels = 1
				sources["surround.mp4"] = &mediatest.Source{
					Info: bothStreams,
					Audio: &mediatest.AudioDecoder{
						Fmt: media.AudioFormat{SampleRate: 48000, BitDepth: 16, Channels: 6},
					},
				}

				So(c.Load("surround.mp4"), ShouldBeNil)
				s := c.Stats()
				So(s.HasDevice, ShouldBeFalse)
				So(s.Downmix, ShouldBeFalse)
				So(s.Silence, ShouldEqual, audio.FormatRejected)
			})
		})
	})
}
