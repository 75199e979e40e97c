package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	fwidget "fyne.io/fyne/v2/widget"
	"github.com/GoldenFealla/SyncPlayerGo/internal/config"
	"github.com/GoldenFealla/SyncPlayerGo/internal/decoder"
	"github.com/GoldenFealla/SyncPlayerGo/internal/log"
	"github.com/GoldenFealla/SyncPlayerGo/internal/media"
	"github.com/GoldenFealla/SyncPlayerGo/internal/media/audio"
	"github.com/GoldenFealla/SyncPlayerGo/internal/player"
	"github.com/GoldenFealla/SyncPlayerGo/internal/widget"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	WIDTH  float32 = 800
	HEIGHT float32 = 450
)

func init() {
	rootCmd.Flags().BoolP("loop", "l", false, "Restart from the beginning at end of media")
	lo.Must0(viper.BindPFlag(config.PlayerLoop, rootCmd.Flags().Lookup("loop")))

	rootCmd.Flags().BoolP("drain", "d", false, "Play out buffered content when stopping")
	lo.Must0(viper.BindPFlag(config.PlayerDrainOnStop, rootCmd.Flags().Lookup("drain")))

	rootCmd.Flags().Bool("audio", true, "Open the audio output device")
	lo.Must0(viper.BindPFlag(config.AudioEnabled, rootCmd.Flags().Lookup("audio")))

	rootCmd.Flags().String("log-level", "info", "Log level (panic, fatal, error, warn, info, debug, trace)")
	lo.Must0(viper.BindPFlag(config.LogsLevel, rootCmd.Flags().Lookup("log-level")))

	rootCmd.Flags().Bool("log-json", false, "Use json format for logs")
	lo.Must0(viper.BindPFlag(config.LogsJson, rootCmd.Flags().Lookup("log-json")))
}

var rootCmd = &cobra.Command{
	Use:          config.Name + " <file>",
	Short:        "Play a media file with synchronized audio and video",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(args[0])
	},
}

func run(input string) error {
	cfg := config.Load()
	log.Setup(cfg.LogsLevel, cfg.LogsJson)

	var device media.AudioDevice
	if cfg.Audio {
		device = audio.NewOtoDevice()
	}

	p := player.New(decoder.Opener{}, device, cfg.Player, log.For("player"))
	defer p.Release()

	if err := p.Load(input); err != nil {
		return err
	}

	a := app.New()
	w := a.NewWindow("Sync player")

	frame := widget.NewVideoFrame()
	p.AddListener(frame)
	defer p.RemoveListener(frame)

	status := fwidget.NewLabel("")
	w.SetContent(container.NewBorder(nil, status, nil, nil, frame.Image))
	w.Resize(fyne.NewSize(WIDTH, HEIGHT))

	w.Canvas().SetOnTypedKey(func(k *fyne.KeyEvent) {
		switch k.Name {
		case fyne.KeySpace:
			go togglePlayback(p)
		case fyne.KeyS:
			go func() {
				if err := p.Stop(cfg.DrainOnStop); err != nil {
					log.For("ui").WithError(err).Debug("stop ignored")
				}
			}()
		case fyne.KeyEscape:
			w.Close()
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.SetOnClosed(cancel)
	go showStatus(ctx, p, frame, status)

	if err := p.Play(); err != nil {
		return err
	}

	w.ShowAndRun()
	return nil
}

func togglePlayback(p *player.Controller) {
	var err error
	if p.IsStopped() {
		err = p.Play()
	} else {
		err = p.TogglePause()
	}
	if err != nil {
		log.For("ui").WithError(err).Debug("toggle ignored")
	}
}

func showStatus(ctx context.Context, p *player.Controller, frame *widget.VideoFrame, label *fwidget.Label) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s := p.Stats()
		pos := time.Duration(frame.Timestamp()) * time.Microsecond
		text := fmt.Sprintf("%s  %s  video %d  audio %d  queued %d%s",
			s.State, pos.Truncate(time.Second), s.Video, s.Audio, s.QueuedAudio,
			lo.Ternary(s.HasDevice, "", fmt.Sprintf("  (no sound: %s)", s.Silence)))

		fyne.Do(func() {
			label.SetText(text)
		})
	}
}

func main() {
	lo.Must0(config.Setup())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
