package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	modeAgent  = "agent"
	modeDirect = "direct"

	// Replies printed at once don't need pacing, the typing still counts
	// against the timeout.
	oneShotTypingInterval = time.Microsecond
)

var ErrInvalidConfig = errors.New("invalid config")

// envKeyReplacer maps nested keys to env names, e.g. llama_stack.url to
// EMA_CHAT_LLAMA_STACK_URL.
var envKeyReplacer = strings.NewReplacer(".", "_")

type config struct {
	LlamaStackURL string
	Mode          string
	Model         string
	Agent         string

	Timeout        time.Duration
	TypingInterval time.Duration
	Cursor         string

	LogLevel slog.Level
	LogFile  string

	RelayAddr string

	Prompt   string
	Headless bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llama_stack.url", "http://localhost:8321")
	v.SetDefault("mode", modeAgent)
	v.SetDefault("model", "")
	v.SetDefault("agent", "")

	v.SetDefault("timeout", "30s")
	v.SetDefault("typing_interval", "10ms")
	v.SetDefault("cursor", "▌")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")

	v.SetDefault("relay.addr", "")
}

func loadConfig(v *viper.Viper) (config, error) {
	cfg := config{
		LlamaStackURL:  strings.TrimRight(strings.TrimSpace(v.GetString("llama_stack.url")), "/"),
		Mode:           strings.ToLower(strings.TrimSpace(v.GetString("mode"))),
		Model:          strings.TrimSpace(v.GetString("model")),
		Agent:          strings.TrimSpace(v.GetString("agent")),
		Timeout:        v.GetDuration("timeout"),
		TypingInterval: v.GetDuration("typing_interval"),
		Cursor:         v.GetString("cursor"),
		LogFile:        strings.TrimSpace(v.GetString("logging.file")),
		RelayAddr:      strings.TrimSpace(v.GetString("relay.addr")),
		Prompt:         v.GetString("prompt"),
		Headless:       v.GetBool("headless"),
	}

	if cfg.LlamaStackURL == "" {
		return config{}, fmt.Errorf("%w: llama_stack.url is required", ErrInvalidConfig)
	}
	if cfg.Mode != modeAgent && cfg.Mode != modeDirect {
		return config{}, fmt.Errorf("%w: mode must be %q or %q, got %q", ErrInvalidConfig, modeAgent, modeDirect, cfg.Mode)
	}
	if cfg.Timeout <= 0 {
		return config{}, fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	}
	if cfg.TypingInterval <= 0 {
		return config{}, fmt.Errorf("%w: typing_interval must be positive", ErrInvalidConfig)
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString("logging.level"))); err != nil {
		return config{}, fmt.Errorf("%w: logging.level: %w", ErrInvalidConfig, err)
	}
	if cfg.Headless && strings.TrimSpace(cfg.Prompt) == "" {
		return config{}, fmt.Errorf("%w: headless mode requires --prompt", ErrInvalidConfig)
	}

	return cfg, nil
}

// oneShot reports whether a single prompt is answered without the TUI.
func (c config) oneShot() bool {
	return c.Headless || strings.TrimSpace(c.Prompt) != ""
}

func (c config) typingInterval() time.Duration {
	if c.oneShot() {
		return oneShotTypingInterval
	}
	return c.TypingInterval
}

// newLogger writes to the configured log file. Without one, headless runs log
// to stderr and the TUI discards logs so they do not corrupt the screen.
func newLogger(cfg config) (*slog.Logger, func() error, error) {
	var (
		out     io.Writer = io.Discard
		closeFn           = func() error { return nil }
	)

	switch {
	case cfg.LogFile != "":
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out, closeFn = f, f.Close
	case cfg.Headless:
		out = os.Stderr
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: cfg.LogLevel})
	return slog.New(handler), closeFn, nil
}
