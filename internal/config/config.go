// Package config registers the player settings with viper and assembles
// them into typed configuration.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/GoldenFealla/SyncPlayerGo/internal/media/synchronizer"
	"github.com/GoldenFealla/SyncPlayerGo/internal/player"
	"github.com/spf13/viper"
)

const Name = "syncplayer"

const (
	PlayerLoop        = "player.loop"
	PlayerDrainOnStop = "player.drain_on_stop"

	SyncVideoHighWater = "sync.video_high_water"
	SyncAudioHighWater = "sync.audio_high_water"
	SyncReadyWatermark = "sync.ready_watermark"
	SyncMaxPacedSleep  = "sync.max_paced_sleep"

	AudioEnabled = "audio.enabled"

	LogsLevel = "logs.level"
	LogsJson  = "logs.json"
)

type Field struct {
	Key         string
	Value       any
	Description string
}

// Env returns the environment variable overriding the field.
func (f Field) Env() string {
	return strings.ToUpper(Name + "_" + EnvKeyReplacer.Replace(f.Key))
}

var Default = make(map[string]Field)

var EnvKeyReplacer = strings.NewReplacer(".", "_")

func init() {
	register := func(k string, v any, desc string) {
		if _, exists := Default[k]; exists {
			panic("duplicate config key: " + k)
		}
		Default[k] = Field{Key: k, Value: v, Description: desc}
	}

	register(PlayerLoop, false, "Restart from the beginning at end of media")
	register(PlayerDrainOnStop, false, "Play out buffered content when stopping")
	register(SyncVideoHighWater, synchronizer.DefaultVideoHighWater, "Buffered video frames that block the reader")
	register(SyncAudioHighWater, 0, "Buffered audio blocks that block the reader, 0 never blocks")
	register(SyncReadyWatermark, synchronizer.DefaultReadyWatermark, "Per stream count to exceed before dispatch starts")
	register(SyncMaxPacedSleep, synchronizer.MaxPacedSleep, "Longest single wait before releasing a unit")
	register(AudioEnabled, true, "Open the audio output device")
	register(LogsLevel, "info", "Available options are: (from less to most verbose)\npanic, fatal, error, warn, info, debug, trace")
	register(LogsJson, false, "Use json format for logs")
}

// Setup registers defaults and environment bindings and reads an optional
// syncplayer.toml from the working directory.
func Setup() error {
	viper.SetConfigName(Name)
	viper.SetConfigType("toml")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix(Name)
	viper.SetEnvKeyReplacer(EnvKeyReplacer)
	for k := range Default {
		viper.MustBindEnv(k)
	}

	viper.SetTypeByDefaultValue(true)
	for name, field := range Default {
		viper.SetDefault(name, field.Value)
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}

	return nil
}

type Config struct {
	Player      player.Config
	DrainOnStop bool
	Audio       bool
	LogsLevel   string
	LogsJson    bool
}

// Load reads the current settings. Out of range values fall back to their
// defaults.
func Load() Config {
	sync := synchronizer.DefaultConfig()
	if n := viper.GetInt(SyncVideoHighWater); n > 0 {
		sync.VideoHighWater = n
	}
	if n := viper.GetInt(SyncAudioHighWater); n > 0 {
		sync.AudioHighWater = n
	}
	if n := viper.GetInt(SyncReadyWatermark); n >= 0 {
		sync.ReadyWatermark = n
	}
	if d := viper.GetDuration(SyncMaxPacedSleep); d > 0 && d <= time.Minute {
		sync.MaxPacedSleep = d
	}

	return Config{
		Player: player.Config{
			Loop: viper.GetBool(PlayerLoop),
			Sync: sync,
		},
		DrainOnStop: viper.GetBool(PlayerDrainOnStop),
		Audio:       viper.GetBool(AudioEnabled),
		LogsLevel:   viper.GetString(LogsLevel),
		LogsJson:    viper.GetBool(LogsJson),
	}
}
