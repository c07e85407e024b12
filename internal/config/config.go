// ABOUTME: Command line and environment configuration for the player
// ABOUTME: Flags override MUSICTHING_* variables, which may come from a .env file
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/musicthing/musicthing/pkg/playback"
	"github.com/rs/zerolog"
)

const envPrefix = "MUSICTHING_"

// Config holds the player settings
type Config struct {
	// File to play on startup; empty starts idle
	File string

	Host         string
	Device       string
	BufferFrames int
	LogFile      string
	LogLevel     zerolog.Level
	NoTUI        bool
	Resample     bool
	PauseOnSeek  bool
	DeviceSwitch playback.DeviceSwitchPolicy
	ListDevices  bool
}

// LoadEnvFile loads variables from path into the environment without
// overriding ones already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Parse builds a Config from the environment and args (without the program
// name). Usage output goes to usage.
func Parse(args []string, usage io.Writer) (Config, error) {
	flags := flag.NewFlagSet("musicthing", flag.ContinueOnError)
	flags.SetOutput(usage)

	var (
		cfg          Config
		logLevel     string
		deviceSwitch string
	)

	flags.StringVar(&cfg.Host, "host", envString("HOST", "malgo"), "Audio backend (malgo, oto, portaudio)")
	flags.StringVar(&cfg.Device, "device", envString("DEVICE", ""), "Output device ID or name substring (default: system default)")
	flags.IntVar(&cfg.BufferFrames, "buffer-frames", envInt("BUFFER_FRAMES", 1024), "Device buffer size in frames")
	flags.StringVar(&cfg.LogFile, "log-file", envString("LOG_FILE", "musicthing.log"), "Log file path")
	flags.StringVar(&logLevel, "log-level", envString("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	flags.BoolVar(&cfg.NoTUI, "no-tui", envBool("NO_TUI", false), "Disable TUI, use streaming logs instead")
	flags.BoolVar(&cfg.Resample, "resample", envBool("RESAMPLE", false), "Resample tracks to the device rate")
	flags.BoolVar(&cfg.PauseOnSeek, "pause-on-seek", envBool("PAUSE_ON_SEEK", true), "Pause the device stream briefly on seek")
	flags.StringVar(&deviceSwitch, "device-switch", envString("DEVICE_SWITCH", "restart"), "Device switch policy (restart, preserve)")
	flags.BoolVar(&cfg.ListDevices, "list-devices", false, "List output devices and exit")

	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}

	if flags.NArg() > 1 {
		return Config{}, fmt.Errorf("expected at most one file, got %d", flags.NArg())
	}
	cfg.File = flags.Arg(0)

	if cfg.BufferFrames <= 0 {
		return Config{}, fmt.Errorf("buffer-frames must be positive, got %d", cfg.BufferFrames)
	}

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		return Config{}, fmt.Errorf("invalid log level: %w", err)
	}
	cfg.LogLevel = level

	policy, err := playback.ParseDeviceSwitchPolicy(deviceSwitch)
	if err != nil {
		return Config{}, err
	}
	cfg.DeviceSwitch = policy

	return cfg, nil
}

func envString(name, def string) string {
	if v, ok := os.LookupEnv(envPrefix + name); ok {
		return v
	}
	return def
}

// envInt and envBool fall back to def on unparsable values
func envInt(name string, def int) int {
	if v, ok := os.LookupEnv(envPrefix + name); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(name string, def bool) bool {
	if v, ok := os.LookupEnv(envPrefix + name); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
