package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestTask(t *testing.T) {
	Convey("Task", t, func() {
		var steps atomic.Int64
		var interrupted atomic.Int64

		tk := New("test", func(ctx context.Context) {
			select {
			case <-ctx.Done():
				interrupted.Add(1)
			case <-time.After(time.Millisecond):
				steps.Add(1)
			}
		})

		done := make(chan struct{})
		go func() {
			tk.Run()
			close(done)
		}()

		Reset(func() {
			tk.Stop()
			<-done
		})

		Convey("Should start paused", func() {
			So(tk.State(), ShouldEqual, Paused)
			time.Sleep(10 * time.Millisecond)
			So(steps.Load(), ShouldEqual, 0)
		})

		Convey("Should run steps once resumed", func() {
			tk.Resume()
			So(tk.State(), ShouldEqual, Running)
			time.Sleep(30 * time.Millisecond)
			So(steps.Load(), ShouldBeGreaterThan, 0)
		})

		Convey("Pause should park the loop", func() {
			tk.Resume()
			time.Sleep(10 * time.Millisecond)
			tk.Pause()
			So(tk.State(), ShouldEqual, Paused)

			n := steps.Load()
			time.Sleep(20 * time.Millisecond)
			So(steps.Load(), ShouldEqual, n)
		})

		Convey("Pause and resume should be idempotent", func() {
			tk.Resume()
			tk.Resume()
			So(tk.State(), ShouldEqual, Running)
			tk.Pause()
			tk.Pause()
			So(tk.State(), ShouldEqual, Paused)
		})

		Convey("Pause should interrupt a blocked step", func() {
			blocked := New("blocked", func(ctx context.Context) {
				<-ctx.Done()
				interrupted.Add(1)
			})
			go blocked.Run()
			blocked.Resume()
			time.Sleep(5 * time.Millisecond)
			blocked.Pause()
			So(interrupted.Load(), ShouldBeGreaterThanOrEqualTo, 1)
			blocked.Stop()
		})

		Convey("Stop should end Run and be terminal", func() {
			tk.Resume()
			tk.Stop()
			<-done
			So(tk.State(), ShouldEqual, Stopped)
			tk.Resume()
			So(tk.State(), ShouldEqual, Stopped)
		})
	})
}
