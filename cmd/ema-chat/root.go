package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	orchestration "github.com/koscakluka/ema-chat/core"
	"github.com/koscakluka/ema-chat/core/llms/llamastack"
	"github.com/koscakluka/ema-chat/core/relay"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "ema-chat",
	Short: "Chat with Llama Stack agents and models",
	Long: `Chat with a Llama Stack agent or directly with a model. Replies are
streamed into the transcript as they arrive, with the documents an agent
looked up listed as sources.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(viper.GetViper())
		if err != nil {
			return err
		}
		return run(cmd.Context(), cfg)
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is .ema-chat/settings.yaml)")

	rootCmd.PersistentFlags().String("url", "", "Llama Stack server URL")
	viper.BindPFlag("llama_stack.url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level")
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.PersistentFlags().String("log-file", "", "write logs to this file")
	viper.BindPFlag("logging.file", rootCmd.PersistentFlags().Lookup("log-file"))

	rootCmd.Flags().StringP("mode", "m", modeAgent, "chat mode, agent or direct")
	viper.BindPFlag("mode", rootCmd.Flags().Lookup("mode"))

	rootCmd.Flags().String("model", "", "model for direct chat (default is the first llm)")
	viper.BindPFlag("model", rootCmd.Flags().Lookup("model"))

	rootCmd.Flags().StringP("agent", "a", "", "agent id or name (default is the first agent)")
	viper.BindPFlag("agent", rootCmd.Flags().Lookup("agent"))

	rootCmd.Flags().Duration("timeout", 30*time.Second, "maximum time for a single reply, typing it out included")
	viper.BindPFlag("timeout", rootCmd.Flags().Lookup("timeout"))

	rootCmd.Flags().Duration("typing-interval", 10*time.Millisecond, "time between revealed characters in the TUI")
	viper.BindPFlag("typing_interval", rootCmd.Flags().Lookup("typing-interval"))

	rootCmd.Flags().String("relay", "", "serve live transcript events over websocket on this address")
	viper.BindPFlag("relay.addr", rootCmd.Flags().Lookup("relay"))

	rootCmd.Flags().StringP("prompt", "p", "", "send a prompt directly without entering the TUI")
	viper.BindPFlag("prompt", rootCmd.Flags().Lookup("prompt"))

	rootCmd.Flags().BoolP("headless", "H", false, "run without TUI (requires --prompt)")
	viper.BindPFlag("headless", rootCmd.Flags().Lookup("headless"))

	setDefaults(viper.GetViper())
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath("./.ema-chat")
		viper.SetConfigType("yaml")
		viper.SetConfigName("settings")
	}

	viper.SetEnvPrefix("EMA_CHAT")
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Warning: failed to read config: %v\n", err)
		}
	}
}

func newClient(cfg config) *llamastack.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.Timeout

	return llamastack.NewClient(cfg.LlamaStackURL,
		llamastack.WithHTTPClient(&http.Client{Transport: otelhttp.NewTransport(transport)}))
}

func run(ctx context.Context, cfg config) error {
	log, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(log)

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	backend, err := connectBackend(connectCtx, newClient(cfg), cfg)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", cfg.LlamaStackURL, err)
	}
	log.Info("connected", "mode", cfg.Mode, "assistant", backend.AssistantName())

	updates := make(chan struct{}, 1)
	opts := []orchestration.OrchestratorOption{
		orchestration.WithLogger(log),
		orchestration.WithStreamTimeout(cfg.Timeout),
		orchestration.WithTypingInterval(cfg.typingInterval()),
		orchestration.WithCursor(cfg.Cursor),
		orchestration.WithUpdateCallback(func(orchestration.Snapshot) {
			select {
			case updates <- struct{}{}:
			default:
			}
		}),
		orchestration.WithErrorCallback(func(err error) {
			log.Warn("reply failed", "error", err)
		}),
	}

	if cfg.RelayAddr != "" {
		broadcaster := relay.NewBroadcaster()
		stopRelay := serveRelay(cfg.RelayAddr, broadcaster, log)
		defer stopRelay()
		opts = append(opts, orchestration.WithEventHandler(broadcaster.Handle))
	}

	session, err := newChatSession(backend, opts...)
	if err != nil {
		return err
	}

	if cfg.oneShot() {
		return runHeadless(ctx, session, cfg.Prompt, os.Stdout)
	}
	return runTUI(ctx, session, updates)
}

func serveRelay(addr string, broadcaster *relay.Broadcaster, log *slog.Logger) (stop func()) {
	server := &http.Server{Addr: addr, Handler: broadcaster.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("serving transcript relay", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("transcript relay stopped", "error", err)
		}
	}()

	return func() {
		broadcaster.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Warn("failed to shut down transcript relay", "error", err)
		}
	}
}
