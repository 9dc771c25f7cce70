// Yui - terminal realtime voice client.
// Bridges the local microphone and speaker to the OpenAI Realtime API for
// a live speech-to-speech conversation.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rhino88/yui/internal/config"
	"github.com/rhino88/yui/internal/log"
	"github.com/rhino88/yui/pkg/audioio"
	"github.com/rhino88/yui/pkg/playback"
	"github.com/rhino88/yui/pkg/realtime"
	"github.com/rhino88/yui/pkg/session"
)

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.LogLevel)

	// Credential check happens before any audio device is touched.
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

// parseFlags parses command line flags and returns configuration.
func parseFlags() (config.Config, error) {
	cfg := config.Default()

	voice := flag.String("voice", cfg.Voice, "Assistant voice identifier")
	prompt := flag.String("system-prompt", "", "System prompt text")
	audio := flag.Bool("audio", cfg.AudioEnabled, "Enable audio output (false = text-only transcript)")
	configFile := flag.String("config", "", "Optional YAML config file")
	debug := flag.Bool("debug", false, "Enable verbose debug logging")

	flag.Usage = usage
	flag.Parse()

	if *configFile != "" {
		if err := cfg.LoadFile(*configFile); err != nil {
			return cfg, err
		}
	}

	// Flags win over the config file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "voice":
			cfg.Voice = *voice
		case "system-prompt":
			cfg.SystemPrompt = *prompt
		case "audio":
			cfg.AudioEnabled = *audio
		}
	})
	if *debug {
		cfg.LogLevel = "debug"
	}

	cfg.LoadEnv()
	return cfg, nil
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `🎤 Yui - Realtime voice client

Usage: yui [--system-prompt PROMPT] [--voice VOICE_NAME] [--audio=false] [--config FILE]

Environment:
  OPENAI_API_KEY          Required

Behavior:
  - Streams microphone audio to the Realtime API and plays responses
  - Ctrl-C shuts down gracefully
`)
	flag.PrintDefaults()
}

// run assembles the pipeline and drives the session until ctx cancels.
func run(ctx context.Context, cfg config.Config) error {
	logger := log.L()

	client := realtime.NewClient(cfg.APIKey, realtime.WithLogger(logger))
	client.RegisterTool(realtime.WeatherTool())

	var (
		source audioio.Source
		sink   audioio.Sink
		buffer *playback.Buffer
		err    error
	)

	if cfg.AudioEnabled {
		source, err = audioio.NewSource(cfg.Audio, logger)
		if err != nil {
			return fmt.Errorf("audio input: %w", err)
		}
		defer source.Close()
		sink, err = audioio.NewSink(cfg.Audio, logger)
		if err != nil {
			return fmt.Errorf("audio output: %w", err)
		}
		defer sink.Close()
		buffer = playback.New(cfg.Playback, sink, logger)
	} else {
		logger.Info("audio output disabled, running in text-only mode")
	}

	bridge := session.NewBridge(client, buffer, os.Stdout, logger)
	ctrl := session.NewController(session.Config{
		APIKey:       cfg.APIKey,
		Voice:        cfg.Voice,
		Instructions: cfg.SystemPrompt,
		DrainTimeout: cfg.DrainTimeout,
	}, client, source, sink, buffer, bridge, logger)

	return ctrl.Run(ctx)
}
