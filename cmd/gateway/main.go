// Command gateway runs the unified LLM API gateway: it loads configuration,
// wires a model.Client for every configured provider, and serves the
// OpenAI-compatible HTTP surface described in the external interfaces.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/redis/go-redis/v9"

	"goa.design/clue/log"

	"github.com/santrancisco/ai-gateway/internal/config"
	"github.com/santrancisco/ai-gateway/internal/counter"
	"github.com/santrancisco/ai-gateway/internal/gatewayhttp"
	"github.com/santrancisco/ai-gateway/internal/limit"
	"github.com/santrancisco/ai-gateway/internal/model"
	"github.com/santrancisco/ai-gateway/internal/providers/anthropic"
	"github.com/santrancisco/ai-gateway/internal/providers/bedrock"
	"github.com/santrancisco/ai-gateway/internal/providers/gemini"
	"github.com/santrancisco/ai-gateway/internal/providers/openai"
	ratelimit "github.com/santrancisco/ai-gateway/internal/ratelimit"
	"github.com/santrancisco/ai-gateway/internal/registry"
	"github.com/santrancisco/ai-gateway/internal/telemetry"
	"github.com/santrancisco/ai-gateway/internal/trace"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ctx = log.Context(ctx, log.WithFormat(log.FormatJSON))
	logger := telemetry.NewClueLogger()

	if err := run(ctx, logger); err != nil {
		logger.Error(ctx, "gateway exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger telemetry.Logger) error {
	cfgPath := os.Getenv("GATEWAY_CONFIG_FILE")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	reg := registry.New(registry.Defaults())

	clients, err := buildClients(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build provider clients: %w", err)
	}

	store := buildCounterStore(cfg)

	gate := limit.New(store, limit.Config{
		HourlyRequests: cfg.RateLimit.Hourly,
		DailyCost:      cfg.CostControl.Daily,
		MonthlyCost:    cfg.CostControl.Monthly,
		TotalCost:      cfg.CostControl.Total,
	})

	emitter := buildEmitter(cfg, logger)
	defer emitter.Close()

	router := gatewayhttp.New(reg, clients, gate, emitter, gatewayhttp.WithLogger(logger))

	handler := withCORS(cfg.CORS.Origins, router.ServeMux())

	addr := cfg.HTTP.Host + ":" + strconv.Itoa(cfg.HTTP.Port)
	if cfg.HTTP.Port == 0 {
		addr = cfg.HTTP.Host + ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "gateway listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		logger.Info(ctx, "gateway shutting down")
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// buildClients constructs the model.Client for every provider family named
// in the external interfaces. A provider without credentials configured is
// simply omitted from the map; requests routed to a model on that provider
// fail with internal_error at dispatch rather than at startup, since the
// registry's catalog is static and does not know which providers an
// operator intends to enable.
func buildClients(ctx context.Context, cfg *config.Config) (map[string]model.Client, error) {
	clients := map[string]model.Client{}

	if p, ok := cfg.Providers["openai"]; ok && p.APIKey != "" {
		c, err := openai.NewFromAPIKey(p.APIKey, p.Endpoint, "gpt-4o-mini")
		if err != nil {
			return nil, fmt.Errorf("openai: %w", err)
		}
		clients["openai"] = c
	}

	for _, name := range []string{"deepseek", "togetherai", "xai"} {
		p, ok := cfg.Providers[name]
		if !ok || p.APIKey == "" {
			continue
		}
		c, err := openai.NewFromAPIKey(p.APIKey, p.Endpoint, "")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		clients[name] = c
	}

	if p, ok := cfg.Providers["anthropic"]; ok && p.APIKey != "" {
		c, err := anthropic.NewFromAPIKey(p.APIKey, "claude-3-5-sonnet-latest")
		if err != nil {
			return nil, fmt.Errorf("anthropic: %w", err)
		}
		clients["anthropic"] = c
	}

	if p, ok := cfg.Providers["gemini"]; ok && p.APIKey != "" {
		c, err := gemini.NewFromAPIKey(ctx, p.APIKey, "gemini-2.0-flash")
		if err != nil {
			return nil, fmt.Errorf("gemini: %w", err)
		}
		clients["gemini"] = c
	}

	if _, ok := cfg.Providers["bedrock"]; ok {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("bedrock: load AWS config: %w", err)
		}
		runtime := bedrock.NewRuntimeClient(bedrockruntime.NewFromConfig(awsCfg))
		c, err := bedrock.New(bedrock.Options{
			Runtime:      runtime,
			DefaultModel: "meta.llama3-70b-instruct-v1:0",
		})
		if err != nil {
			return nil, fmt.Errorf("bedrock: %w", err)
		}
		clients["bedrock"] = c
	}

	for name, c := range clients {
		limiter := ratelimit.NewAdaptiveRateLimiter(ctx, nil, name, defaultInitialTPM, defaultMaxTPM)
		clients[name] = limiter.Middleware()(c)
	}

	return clients, nil
}

// defaultInitialTPM and defaultMaxTPM seed each provider's adaptive
// rate-limit middleware. They are deliberately conservative starting points;
// the limiter backs off on a provider 429 and probes back up on sustained
// success, so the exact seed only affects how long the coldest part of a
// connection takes to reach steady state.
const (
	defaultInitialTPM = 60_000
	defaultMaxTPM     = 600_000
)

// buildCounterStore selects a Redis-backed counter.Store when a Redis URL is
// configured via the GATEWAY_REDIS_URL environment variable, otherwise falls
// back to the in-process MemoryStore. Counter persistence across gateway restarts
// only matters once multiple gateway instances share rate/cost state, which
// is why the choice is keyed off an explicit opt-in rather than always
// defaulting to Redis.
func buildCounterStore(cfg *config.Config) counter.Store {
	redisURL := os.Getenv("GATEWAY_REDIS_URL")
	if redisURL == "" {
		return counter.NewMemoryStore()
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return counter.NewMemoryStore()
	}
	return counter.NewRedisStore(redis.NewClient(opts), 35*24*time.Hour)
}

// buildEmitter wires the trace emitter to the configured ClickHouse-fronting
// HTTP sink when clickhouse.url is set, otherwise returns an emitter over a
// sink that discards everything — tracing is opt-in per the spec's framing
// of persistent trace storage as an external collaborator.
func buildEmitter(cfg *config.Config, logger telemetry.Logger) *trace.Emitter {
	var sink trace.Sink
	if cfg.ClickHouse.URL != "" {
		sink = trace.NewHTTPSink(cfg.ClickHouse.URL, http.DefaultClient)
	} else {
		sink = discardSink{}
	}
	return trace.NewEmitter(sink, trace.WithLogger(logger))
}

type discardSink struct{}

func (discardSink) WriteBatch(context.Context, []trace.Span) error { return nil }

// withCORS applies the configured allowed-origins list to every response.
// An empty list disables CORS headers entirely, matching a same-origin-only
// deployment.
func withCORS(origins []string, next http.Handler) http.Handler {
	if len(origins) == 0 {
		return next
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowed[origin] || allowed["*"] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
