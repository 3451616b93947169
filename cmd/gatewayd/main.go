// Command gatewayd runs the personal-AI HTTP gateway: a single process that
// authenticates callers, enforces the active access level, dispatches chat
// completions to whichever model provider is configured, and runs the
// built-in server-side tools (http_fetch, code_execute) a model asks for
// along the way.
//
// Grounded on cmd/sandbox/main.go's entrypoint shape (env/flag config
// loading, signal.NotifyContext shutdown, a single http.Server with
// generous read/write timeouts) generalized from a single-purpose sidecar
// into the full gateway's composition root.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/torbolabs/torbobase/internal/access"
	"github.com/torbolabs/torbobase/internal/audit"
	"github.com/torbolabs/torbobase/internal/auth"
	"github.com/torbolabs/torbobase/internal/chatpipeline"
	"github.com/torbolabs/torbobase/internal/config"
	"github.com/torbolabs/torbobase/internal/convcontext"
	"github.com/torbolabs/torbobase/internal/eventbus"
	"github.com/torbolabs/torbobase/internal/gatewaytypes"
	"github.com/torbolabs/torbobase/internal/guardrail"
	"github.com/torbolabs/torbobase/internal/httpserver"
	"github.com/torbolabs/torbobase/internal/providerset"
	"github.com/torbolabs/torbobase/internal/ratelimit"
	"github.com/torbolabs/torbobase/internal/secrets"
	"github.com/torbolabs/torbobase/internal/store"
	"github.com/torbolabs/torbobase/internal/telemetry"
	"github.com/torbolabs/torbobase/internal/tools/sandbox"
)

func main() {
	configPath := flag.String("config", "", "path to torbobase.toml (defaults to ./torbobase.toml)")
	flag.Parse()

	var logHandler slog.Handler = slog.NewJSONHandler(os.Stdout, nil)
	if os.Getenv("TORBO_LOG_FORMAT") == "text" {
		logHandler = slog.NewTextHandler(os.Stdout, nil)
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	cfg := config.Load(*configPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("gateway exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	secretStore := secrets.New(cfg)

	db, err := store.Open(cfg.Store.DBPath)
	if err != nil {
		return err
	}
	defer db.Raw().Close()
	if err := db.Init(ctx); err != nil {
		return err
	}

	devices := store.NewFileStore[gatewaytypes.PairedDevice](cfg.Store.PairedDevicePath)

	globalLevel := gatewaytypes.LevelFull
	agents, err := loadAgentRegistry(cfg.Store.AgentConfigPath, globalLevel)
	if err != nil {
		return err
	}

	auditLog := audit.New().WithSink(db.Raw())
	if err := auditLog.Init(ctx); err != nil {
		return err
	}

	guard := access.New(globalLevel, auditLog, nil)

	var trustedCIDR *net.IPNet
	if cfg.Server.TrustedCIDR != "" {
		_, trustedCIDR, err = net.ParseCIDR(cfg.Server.TrustedCIDR)
		if err != nil {
			return err
		}
	}
	authenticator, err := auth.New(secretStore.Current().MasterToken, trustedCIDR, devices)
	if err != nil {
		return err
	}

	generalLimiter := ratelimit.New(cfg.RateLimit.RequestsPerMinute)
	defer generalLimiter.Close()
	pairLimiter := ratelimit.New(6) // pairing attempts are rare and worth a tighter ceiling
	defer pairLimiter.Close()

	bus := eventbus.New(db.PersistCriticalEvent)

	convMgr := convcontext.New(cfg.ConvCtx.MaxWindow, cfg.ConvCtx.IdleTimeout, nil, nil)
	defer convMgr.Close()

	var tracer *telemetry.Tracer
	if cfg.Telemetry.Enabled {
		t, shutdown, err := telemetry.Init(ctx, cfg.Server.ServiceName, cfg.Server.ServiceVersion)
		if err != nil {
			logger.Warn("telemetry init failed, continuing without tracing", "error", err)
			tracer = telemetry.Noop()
		} else {
			tracer = t
			defer shutdown(context.Background())
		}
	} else {
		tracer = telemetry.Noop()
	}

	ts := newToolset(sandbox.Options{
		WorkspaceRoot:  cfg.Sandbox.WorkspaceRoot,
		PythonBin:      cfg.Sandbox.PythonBin,
		NodeBin:        cfg.Sandbox.NodeBin,
		MaxConcurrent:  cfg.Sandbox.MaxConcurrent,
		MaxOutputBytes: cfg.Sandbox.MaxOutputBytes,
		DockerBackend:  cfg.Sandbox.DockerBackend,
	})
	defer ts.close()

	providerFactory := func(providerName, model string) (providerset.Provider, error) {
		snap := secretStore.Current()
		baseURLFor := func(name string) string {
			if name == "local" {
				return snap.LocalBaseURL
			}
			return ""
		}
		base, err := providerset.New(providerset.Config{
			Provider: providerName,
			APIKey:   snap.APIKeyFor(providerName),
			Model:    model,
			BaseURL:  baseURLFor(providerName),
		})
		if err != nil {
			return nil, err
		}
		retried := providerset.WithRetry(base, logger)
		if len(cfg.Providers.FallbackOrder) == 0 {
			return retried, nil
		}
		var fallbacks []providerset.Provider
		for _, name := range cfg.Providers.FallbackOrder {
			if name == providerName {
				continue
			}
			fb, err := providerset.New(providerset.Config{
				Provider: name,
				APIKey:   snap.APIKeyFor(name),
				Model:    cfg.Providers.DefaultModel,
				BaseURL:  baseURLFor(name),
			})
			if err != nil {
				logger.Warn("skipping unavailable fallback provider", "provider", name, "error", err)
				continue
			}
			fallbacks = append(fallbacks, providerset.WithRetry(fb, logger))
		}
		if len(fallbacks) == 0 {
			return retried, nil
		}
		return providerset.WithFallback(retried, logger, fallbacks...), nil
	}

	pipeline := chatpipeline.New(chatpipeline.Deps{
		Providers:            providerFactory,
		DefaultModel:         cfg.Providers.DefaultModel,
		Agents:               agents.resolve,
		Tools:                ts.catalog,
		ToolExec:             ts.exec,
		Memory:               memoryEnricher(convMgr),
		Store:                db,
		Forwarders:           []chatpipeline.ForwardFunc{recordTurn(convMgr), publishTurn(bus)},
		SettingsSystemPrompt: cfg.Server.SystemPrompt,
		Models:               listModels(secretStore, cfg),
		PreProcessors: []guardrail.PreProcessor{
			guardrail.NewInjectionGuard(),
			guardrail.NewContentGuard(guardrail.MaxInputLength(32000), guardrail.ContentLogger(logger)),
		},
		PostProcessors: []guardrail.PostProcessor{
			guardrail.NewMaxToolCallsGuard(maxToolCallsPerResponse),
		},
		Logger: logger,
	})

	router := httpserver.New(httpserver.Deps{
		Authenticator:  authenticator,
		Guard:          guard,
		GeneralLimiter: generalLimiter,
		PairLimiter:    pairLimiter,
		AgentLevels:    agents.level,
		CORSOrigins:    originValidator(cfg.CORS.AllowedOrigins),
		PairingCode:    secretStore.Current().PairingCode,
		ServiceName:    cfg.Server.ServiceName,
		ServiceVersion: cfg.Server.ServiceVersion,
		Logger:         logger,
	})

	router.Handle("POST /v1/chat/completions", gatewaytypes.LevelChat, traced(tracer, "chat.completions", pipeline.HandleChatCompletions))
	router.Handle("GET /v1/models", gatewaytypes.LevelChat, pipeline.HandleModels)
	router.Handle("POST /v1/fetch", gatewaytypes.LevelExecute, ts.handleFetch)

	addr := net.JoinHostPort(cfg.Server.BindHost, strconv.Itoa(cfg.Server.Port))
	srv := httpserver.NewServer(addr, router.Handler(), logger)

	go func() {
		logger.Info("gateway listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// maxToolCallsPerResponse trims the final response of a chat turn down to
// this many tool calls before it goes back to the client. It runs as a
// post-LLM guardrail after the tool loop, so it does not limit the server
// calls executed inside a round; toolloop.MaxRounds bounds round trips.
const maxToolCallsPerResponse = 10

func traced(tracer *telemetry.Tracer, spanName string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), spanName, telemetry.StringAttr("path", r.URL.Path))
		defer span.End()
		h(w, r.WithContext(ctx))
	}
}

// listModels builds the GET /v1/models closure: the configured default
// model always appears (owned by "local", whether or not any key is set),
// plus one entry per cloud provider whose API key is actually set.
func listModels(secretStore *secrets.Store, cfg config.Config) func() []chatpipeline.ModelInfo {
	return func() []chatpipeline.ModelInfo {
		snap := secretStore.Current()
		var out []chatpipeline.ModelInfo
		if cfg.Providers.DefaultModel != "" {
			out = append(out, chatpipeline.ModelInfo{ID: cfg.Providers.DefaultModel, OwnedBy: "local"})
		}
		if snap.AnthropicAPIKey != "" {
			out = append(out, chatpipeline.ModelInfo{ID: "claude-sonnet-4-5", OwnedBy: "anthropic"})
		}
		if snap.GeminiAPIKey != "" {
			out = append(out, chatpipeline.ModelInfo{ID: "gemini-2.5-flash", OwnedBy: "google"})
		}
		if snap.OpenAIAPIKey != "" {
			out = append(out, chatpipeline.ModelInfo{ID: "gpt-4o", OwnedBy: "openai"})
		}
		if snap.XAIAPIKey != "" {
			out = append(out, chatpipeline.ModelInfo{ID: "grok-4", OwnedBy: "xai"})
		}
		return out
	}
}

func originValidator(allowed []string) httpserver.OriginValidator {
	return func(origin string) bool {
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

