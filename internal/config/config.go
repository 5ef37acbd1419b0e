package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"yuzu/bargein/internal/classify"
	"yuzu/bargein/internal/floor"
)

// EnvConfigFile names an optional YAML file layered under the environment.
const EnvConfigFile = "BARGEIN_CONFIG"

type Config struct {
	Server struct {
		Port     string
		LogLevel string
		GRPCAddr string
	}
	Worker struct {
		TokenSecret   string
		TokenSkewSecs int
		TokenTTLMin   int
	}
	Floor struct {
		BackchannelWords []string
		CommandWords     []string
		ConfirmWindowMs  int
		MinWords         int
		MinInterruptMs   int
	}
	Loop struct {
		TTSTimeoutSec int
	}
	// File is the config file that was read, empty when running on env only.
	File string
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.grpc_addr", ":9090")

	v.SetDefault("worker.token_skew_secs", 30)
	v.SetDefault("worker.token_ttl_min", 60)

	v.SetDefault("floor.backchannel_words", classify.DefaultBackchannelWords())
	v.SetDefault("floor.command_words", classify.DefaultCommandWords())
	v.SetDefault("floor.confirm_window_ms", 1500)
	v.SetDefault("floor.min_words", 1)
	v.SetDefault("floor.min_interrupt_ms", 0)

	v.SetDefault("loop.tts_timeout_sec", 120)

	// Map envs
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.log_level", "LOG_LEVEL")
	v.BindEnv("server.grpc_addr", "GRPC_ADDR")

	v.BindEnv("worker.token_secret", "WORKER_TOKEN_SECRET")
	v.BindEnv("worker.token_skew_secs", "WORKER_TOKEN_SKEW_SECS")
	v.BindEnv("worker.token_ttl_min", "WORKER_TOKEN_TTL_MIN")

	v.BindEnv("floor.backchannel_words", "FLOOR_BACKCHANNEL_WORDS")
	v.BindEnv("floor.command_words", "FLOOR_COMMAND_WORDS")
	v.BindEnv("floor.confirm_window_ms", "FLOOR_CONFIRM_WINDOW_MS")
	v.BindEnv("floor.min_words", "FLOOR_MIN_WORDS")
	v.BindEnv("floor.min_interrupt_ms", "FLOOR_MIN_INTERRUPT_MS")

	v.BindEnv("loop.tts_timeout_sec", "TTS_TIMEOUT_SEC")

	if path := os.Getenv(EnvConfigFile); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			log.Printf("[config] read %s: %v (continuing with env and defaults)", path, err)
		}
	}
	return v
}

func Load() Config {
	c := decode(newViper())
	log.Printf("[config] loaded: port=%s grpc=%s confirm_window_ms=%d min_words=%d file=%q",
		c.Server.Port, c.Server.GRPCAddr, c.Floor.ConfirmWindowMs, c.Floor.MinWords, c.File)
	return c
}

func decode(v *viper.Viper) Config {
	var c Config
	c.Server.Port = toString(v.Get("server.port"))
	c.Server.LogLevel = v.GetString("server.log_level")
	c.Server.GRPCAddr = v.GetString("server.grpc_addr")

	c.Worker.TokenSecret = v.GetString("worker.token_secret")
	c.Worker.TokenSkewSecs = v.GetInt("worker.token_skew_secs")
	c.Worker.TokenTTLMin = v.GetInt("worker.token_ttl_min")

	c.Floor.BackchannelWords = wordList(v.Get("floor.backchannel_words"))
	c.Floor.CommandWords = wordList(v.Get("floor.command_words"))
	c.Floor.ConfirmWindowMs = v.GetInt("floor.confirm_window_ms")
	c.Floor.MinWords = v.GetInt("floor.min_words")
	c.Floor.MinInterruptMs = v.GetInt("floor.min_interrupt_ms")

	c.Loop.TTSTimeoutSec = v.GetInt("loop.tts_timeout_sec")

	c.File = v.ConfigFileUsed()
	return c
}

// FloorSnapshot turns the floor section into an engine snapshot. Invalid
// values are reported, never corrected.
func (c Config) FloorSnapshot() (*floor.Snapshot, error) {
	return floor.NewSnapshot(floor.SnapshotOptions{
		BackchannelWords:     c.Floor.BackchannelWords,
		CommandWords:         c.Floor.CommandWords,
		ConfirmWindow:        time.Duration(c.Floor.ConfirmWindowMs) * time.Millisecond,
		MinWords:             c.Floor.MinWords,
		MinInterruptDuration: time.Duration(c.Floor.MinInterruptMs) * time.Millisecond,
	})
}

// Watch reloads the config file on change and hands the result to onChange.
// It returns false when no config file is in use.
func Watch(onChange func(Config)) bool {
	v := newViper()
	if v.ConfigFileUsed() == "" {
		return false
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Printf("[config] %s changed (%s), reloading", e.Name, e.Op)
		onChange(decode(v))
	})
	v.WatchConfig()
	return true
}

// wordList accepts a YAML list or a comma-separated env string. Phrases keep
// their inner spaces.
func wordList(raw any) []string {
	var items []string
	if s, ok := raw.(string); ok {
		items = strings.Split(s, ",")
	} else {
		items = cast.ToStringSlice(raw)
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}

func toString(v any) string { return fmt.Sprint(v) }
