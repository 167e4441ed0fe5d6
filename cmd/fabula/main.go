// Command fabula is the interactive narrative server: it loads a game bundle,
// wires the model and speech backends, and serves the game over WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"fabula/internal/config"
	"fabula/internal/engine"
	"fabula/internal/gamedef"
	"fabula/internal/health"
	"fabula/internal/jukebox"
	"fabula/internal/messaging"
	"fabula/internal/observe"
	"fabula/internal/resilience"
	"fabula/internal/session"
	"fabula/internal/transport/ws"
	"fabula/pkg/audio"
	"fabula/pkg/provider/llm"
	"fabula/pkg/provider/llm/anyllm"
	"fabula/pkg/provider/llm/gemini"
	llmmock "fabula/pkg/provider/llm/mock"
	"fabula/pkg/provider/llm/openai"
	"fabula/pkg/provider/tts"
	"fabula/pkg/provider/tts/coqui"
	"fabula/pkg/provider/tts/elevenlabs"
)

// version is stamped by the release build.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "fabula: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "fabula: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))

	slog.Info("fabula starting",
		"version", version,
		"config", *configPath,
		"game", cfg.GameName,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Game bundle ───────────────────────────────────────────────────────────
	bundleDir := filepath.Join(cfg.MapsDirectory, cfg.GameName)
	watcher, err := gamedef.NewWatcher(bundleDir, func(*gamedef.Model, *gamedef.Config) {
		slog.Info("game bundle updated, new sessions get the new world", "dir", bundleDir)
	})
	if err != nil {
		slog.Error("failed to load game bundle", "dir", bundleDir, "err", err)
		return 1
	}
	defer watcher.Stop()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	chat, err := buildChat(cfg, reg)
	if err != nil {
		slog.Error("failed to build model backends", "err", err)
		return 1
	}

	sink := ws.NewAudioSink()
	speech, err := buildSpeech(cfg, reg, sink)
	if err != nil {
		slog.Error("failed to build speech backend", "err", err)
		return 1
	}

	// ── Sessions ──────────────────────────────────────────────────────────────
	manager, err := session.NewManager(session.ManagerConfig{
		Factory: func(sessionID string, queue messaging.Queue) (*engine.Engine, error) {
			model, gameCfg := watcher.Current()
			return engine.New(engine.Config{
				SessionID:     sessionID,
				Model:         model,
				GameConfig:    gameCfg,
				Chat:          chat,
				Speech:        speech,
				Jukebox:       jukebox.NewWeb(queue),
				Queue:         queue,
				Metrics:       metrics,
				Timeout:       time.Duration(cfg.LLM.RequestTimeoutSeconds) * time.Second,
				HistoryLength: cfg.LLM.MaxHistoryLength,
			})
		},
		Metrics:     metrics,
		IdleTimeout: time.Duration(cfg.Session.IdleTimeoutMinutes) * time.Minute,
	})
	if err != nil {
		slog.Error("failed to create session manager", "err", err)
		return 1
	}

	// ── HTTP surface ──────────────────────────────────────────────────────────
	handler, err := ws.NewHandler(manager, sink)
	if err != nil {
		slog.Error("failed to create transport", "err", err)
		return 1
	}

	mux := http.NewServeMux()
	handler.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(
		health.Probe{Name: "game_bundle", Check: func(context.Context) error {
			_, err := gamedef.LoadDir(bundleDir)
			return err
		}},
	).Register(mux)

	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("server ready — press Ctrl+C to shut down", "addr", cfg.Server.ListenAddr)

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return manager.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// openai gets the native tool-calling implementation; gemini its
	// OpenAI-compatible one with the JSON fallback contract.
	reg.RegisterLLM("openai", func(s llm.Settings) (llm.Provider, error) {
		return openai.New(s)
	})
	reg.RegisterLLM("gemini", func(s llm.Settings) (llm.Provider, error) {
		return gemini.New(s)
	})

	// Everything else runs through the universal any-llm backend.
	for _, backend := range []string{
		"anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(backend, func(s llm.Settings) (llm.Provider, error) {
			return anyllm.New(backend, s)
		})
	}

	// mock answers every turn with no_action; handy for bundle authoring
	// without an API key.
	reg.RegisterLLM("mock", func(llm.Settings) (llm.Provider, error) {
		return &llmmock.Provider{}, nil
	})

	reg.RegisterTTS("elevenlabs", func(cfg config.TTSConfig, sink audio.Sink) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if model := config.OptString(cfg.Options, "model"); model != "" {
			opts = append(opts, elevenlabs.WithModel(model))
		}
		if format := config.OptString(cfg.Options, "output_format"); format != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(format))
		}
		return elevenlabs.New(cfg.APIKey, cfg.VoiceID, sink, opts...)
	})

	reg.RegisterTTS("coqui", func(cfg config.TTSConfig, sink audio.Sink) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := config.OptString(cfg.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if speaker := config.OptString(cfg.Options, "speaker"); speaker != "" {
			opts = append(opts, coqui.WithSpeaker(speaker))
		}
		return coqui.New(cfg.BaseURL, sink, opts...)
	})
}

// buildChat instantiates the primary model backend plus any fallbacks and
// puts each behind its own circuit breaker.
func buildChat(cfg *config.Config, reg *config.Registry) (*resilience.ChatGroup, error) {
	primary, err := createLLM(cfg, reg, cfg.LLM.Provider, cfg.LLM.Settings())
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.LLM.Provider, err)
	}
	chat := resilience.NewChatGroup(primary, resilience.BreakerConfig{})
	slog.Info("provider created", "kind", "llm", "name", cfg.LLM.Provider, "model", cfg.LLM.Model)

	for _, fb := range cfg.LLM.Fallbacks {
		p, err := createLLM(cfg, reg, fb.Provider, fb.Settings(cfg.LLM))
		if err != nil {
			return nil, fmt.Errorf("create fallback provider %q: %w", fb.Provider, err)
		}
		chat.AddFallback(p)
		slog.Info("provider created", "kind", "llm-fallback", "name", fb.Provider, "model", fb.Model)
	}
	return chat, nil
}

func createLLM(cfg *config.Config, reg *config.Registry, name string, settings llm.Settings) (llm.Provider, error) {
	p, err := reg.CreateLLM(name, settings)
	if err != nil {
		return nil, err
	}
	if cfg.Debug.LLM {
		p = llm.WithDebug(p)
	}
	return p, nil
}

// buildSpeech instantiates the speech backend, or nothing when none is
// configured. All sessions share it; the sink routes audio per session.
func buildSpeech(cfg *config.Config, reg *config.Registry, sink audio.Sink) (tts.Provider, error) {
	if cfg.TTS.Provider == "" {
		return nil, nil
	}
	p, err := reg.CreateTTS(cfg.TTS, sink)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", cfg.TTS.Provider, err)
	}
	slog.Info("provider created", "kind", "tts", "name", cfg.TTS.Provider)
	return p, nil
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
