// ABOUTME: Entry point for the musicthing audio player
// ABOUTME: Parses configuration, opens the audio host and runs the TUI or log mode
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/musicthing/musicthing/internal/config"
	"github.com/musicthing/musicthing/internal/ui"
	"github.com/musicthing/musicthing/internal/version"
	"github.com/musicthing/musicthing/pkg/audio/output"
	"github.com/musicthing/musicthing/pkg/playback"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "musicthing: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if err := config.LoadEnvFile(".env"); err != nil {
		return fmt.Errorf("loading .env: %w", err)
	}

	cfg, err := config.Parse(args, os.Stderr)
	if err != nil {
		return err
	}

	useTUI := !cfg.NoTUI && !cfg.ListDevices

	// Set up logging
	f, err := os.OpenFile(cfg.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return fmt.Errorf("error opening log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var sink io.Writer = f
	if !useTUI {
		// Streaming logs mode: log to both stdout and file
		sink = zerolog.MultiLevelWriter(f, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})
	}
	logger := zerolog.New(sink).Level(cfg.LogLevel).With().Timestamp().Logger()

	logger.Info().
		Str("host", cfg.Host).
		Msgf("Starting %s", version.Banner())

	host, err := output.NewHost(cfg.Host, logger)
	if err != nil {
		return err
	}
	defer host.Close()

	if cfg.ListDevices {
		return listDevices(host, os.Stdout)
	}

	dev, err := output.FindDevice(host, cfg.Device)
	if err != nil {
		return err
	}

	engineCfg := playback.DefaultConfig(host)
	engineCfg.Device = dev
	engineCfg.DeviceSwitch = cfg.DeviceSwitch
	engineCfg.Resample = cfg.Resample
	engineCfg.PauseOnSeek = cfg.PauseOnSeek
	engineCfg.BufferFrames = cfg.BufferFrames
	engineCfg.Logger = logger

	engine, err := playback.NewEngine(engineCfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	// Registered before the first Open so faults in the first callbacks reach the UI
	streamErrs := make(chan error, 4)
	engine.OnStreamError(func(err error) {
		logger.Error().Err(err).Msg("Stream error")
		select {
		case streamErrs <- err:
		default:
		}
	})

	var openErr error
	if cfg.File != "" {
		meta, err := engine.Open(cfg.File)
		if err != nil {
			openErr = err
		} else {
			logger.Info().Str("file", cfg.File).Dur("length", meta.Length()).Msg("Track opened")
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if !useTUI {
		if openErr != nil {
			return openErr
		}
		return followPlayback(engine, logger, streamErrs, sigChan)
	}

	prog, err := ui.Run(engine, cfg.File)
	if err != nil {
		return fmt.Errorf("failed to start TUI: %w", err)
	}
	go func() {
		if openErr != nil {
			ui.ReportError(prog, openErr)
		}
		for err := range streamErrs {
			ui.ReportError(prog, err)
		}
	}()

	done := make(chan error, 1)
	go func() {
		_, err := prog.Run()
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-sigChan:
		logger.Info().Msg("Shutdown signal received")
		prog.Send(tea.Quit())
		return <-done
	}
}

// followPlayback logs progress until the track ends, fails or a signal arrives
func followPlayback(engine *playback.Engine, logger zerolog.Logger, failed <-chan error, sigChan <-chan os.Signal) error {
	if engine.State() != playback.StatePlaying {
		select {
		case err := <-failed:
			return err
		default:
		}
		logger.Info().Msg("Nothing to play")
		return nil
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sigChan:
			logger.Info().Msg("Shutdown signal received")
			return nil
		case err := <-failed:
			return err
		case <-ticker.C:
			if engine.Ended() {
				logger.Info().Msg("Playback finished")
				return nil
			}
			if _, meta, ok := engine.Track(); ok {
				logger.Debug().
					Dur("position", meta.TimeBase.Duration(engine.CurrentPosition())).
					Dur("length", meta.Length()).
					Msg("Progress")
			}
		}
	}
}

// listDevices prints every output device and the configurations it accepts
func listDevices(host output.Host, w io.Writer) error {
	devices, err := host.Devices()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s devices:\n", host.Name())
	for _, d := range devices {
		fmt.Fprintf(w, "  %s  [%s]\n", d, d.ID)

		configs, err := host.SupportedConfigs(d)
		if err != nil {
			fmt.Fprintf(w, "    (configurations unavailable: %v)\n", err)
			continue
		}
		for _, c := range configs {
			fmt.Fprintf(w, "    %s\n", c)
		}
	}
	return nil
}
