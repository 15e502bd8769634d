package main

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	_ "github.com/lib/pq"

	"github.com/Mindburn-Labs/helm/core/pkg/api"
	"github.com/Mindburn-Labs/helm/core/pkg/auth"
	"github.com/Mindburn-Labs/helm/core/pkg/authz"
	"github.com/Mindburn-Labs/helm/core/pkg/config"
	"github.com/Mindburn-Labs/helm/core/pkg/crypto"
	"github.com/Mindburn-Labs/helm/core/pkg/kernel"
	"github.com/Mindburn-Labs/helm/core/pkg/ledger"
	"github.com/Mindburn-Labs/helm/core/pkg/membrane"
	"github.com/Mindburn-Labs/helm/core/pkg/notify"
	"github.com/Mindburn-Labs/helm/core/pkg/observability"
	"github.com/Mindburn-Labs/helm/core/pkg/pact"
	"github.com/Mindburn-Labs/helm/core/pkg/permit"
	"github.com/Mindburn-Labs/helm/core/pkg/tail"
)

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests.
var startServer = runServer

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		startServer()
		return 0
	}

	switch args[1] {
	case "server", "serve":
		startServer()
		return 0
	case "health":
		return runHealthCmd(stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

const (
	ColorReset  = "\033[0m"
	ColorBold   = "\033[1m"
	ColorGreen  = "\033[32m"
	ColorCyan   = "\033[36m"
	ColorBlue   = "\033[34m"
	ColorGray   = "\033[37m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sHELM Kernel%s\n", ColorBold+ColorBlue, ColorReset)
	fmt.Fprintf(w, "%sAppend-only ledger and risk-tiered command pipeline.%s\n", ColorGray, ColorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	fmt.Fprintln(w, "  helm <command>")
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%s  server%s   Run the HELM kernel server (default)\n", ColorGreen, ColorReset)
	fmt.Fprintf(w, "%s  health%s   Check server health (HTTP)\n", ColorGreen, ColorReset)
	fmt.Fprintf(w, "%s  help%s     Show this help\n", ColorGreen, ColorReset)
	fmt.Fprintln(w, "")
}

func runHealthCmd(out, errOut io.Writer) int {
	resp, err := http.Get("http://localhost:8081/health")
	if err != nil {
		fmt.Fprintf(errOut, "Health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(errOut, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}

	fmt.Fprintln(out, "OK")
	return 0
}

// loadOrGenerateSigner reads a hex-encoded Ed25519 private key from path.
// If no key file exists there it generates a fresh signer for this process
// only; the new key is not written to path. An empty path generates an
// ephemeral signer (dev mode only).
func loadOrGenerateSigner(path string) (*crypto.Ed25519Signer, error) {
	if path == "" {
		return crypto.NewEd25519Signer("kernel-dev")
	}

	if data, err := os.ReadFile(path); err == nil {
		keyBytes, err := hex.DecodeString(string(data))
		if err != nil || len(keyBytes) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("signer: malformed key file %s", path)
		}
		return crypto.NewEd25519SignerFromKey(ed25519.PrivateKey(keyBytes), "kernel"), nil
	}

	signer, err := crypto.NewEd25519Signer("kernel")
	if err != nil {
		return nil, fmt.Errorf("signer: generate: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("signer: mkdir: %w", err)
	}
	// NewEd25519Signer does not expose the raw private key, so a freshly
	// generated signer without a readable key file runs unpersisted for
	// this process. Operators who need persistence across restarts must
	// provision SIGNING_KEY_PATH with a pre-generated key.
	return signer, err
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

//nolint:gocyclo
func runServer() {
	fmt.Fprintf(os.Stdout, "%sHELM Kernel starting...%s\n", ColorBold+ColorBlue, ColorReset)
	ctx := context.Background()
	cfg := config.Load()
	slog.SetLogLoggerLevel(parseLogLevel(cfg.LogLevel))

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceName = "helm-kernel"
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		obsCfg.OTLPEndpoint = endpoint
		obsCfg.Insecure = os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") != "false"
		log.Printf("[helm] tracing: otlp/%s", endpoint)
	} else {
		obsCfg.Enabled = false
		log.Println("[helm] tracing: disabled (OTEL_EXPORTER_OTLP_ENDPOINT not set)")
	}
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		log.Fatalf("failed to init observability: %v", err)
	}
	defer obs.Shutdown(ctx)

	signer, err := loadOrGenerateSigner(cfg.SigningKeyPath)
	if err != nil {
		log.Fatalf("failed to init signer: %v", err)
	}
	verifier, err := crypto.NewEd25519Verifier(signer.PublicKeyBytes())
	if err != nil {
		log.Fatalf("failed to init verifier: %v", err)
	}
	fmt.Fprintf(os.Stdout, "trust root: %s%s%s\n", ColorBold+ColorGreen, signer.PublicKey(), ColorReset)

	var ledgerStore ledger.Store
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		db, err := sql.Open("postgres", dbURL)
		if err != nil {
			log.Fatalf("failed to connect to db: %v", err)
		}
		if err := db.PingContext(ctx); err != nil {
			log.Fatalf("db ping failed: %v", err)
		}
		log.Println("[helm] postgres: connected")
		ledgerStore = ledger.NewPostgresStore(db)
	} else {
		log.Println("[helm] DATABASE_URL not set, using in-memory ledger store (dev mode)")
		ledgerStore = ledger.NewMemoryStore()
	}

	guard := authz.NewGuard().WithBlocklist(authz.NewEngine())
	registry := pact.NewRegistry()
	aggregator := pact.NewAggregator(registry, verifier)
	m := membrane.New(guard, verifier, aggregator)
	engine := ledger.NewEngine(ledgerStore, m)
	reads := ledger.NewReadAPI(ledgerStore)

	if auditPath := os.Getenv("AUDIT_LOG_PATH"); auditPath != "" {
		auditLog, err := crypto.NewFileAuditLog(auditPath)
		if err != nil {
			log.Fatalf("failed to open audit log: %v", err)
		}
		engine = engine.WithAuditLog(auditLog)
		log.Printf("[helm] audit log: %s", auditPath)
	} else {
		engine = engine.WithAuditLog(crypto.NewMemoryAuditLog())
		log.Println("[helm] audit log: in-memory (dev mode)")
	}

	var bus notify.Bus
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			log.Fatalf("invalid REDIS_URL: %v", err)
		}
		bus = notify.NewRedisBus(redis.NewClient(opts))
		log.Println("[helm] notify bus: redis")
	} else {
		bus = notify.NewMemoryBus()
		log.Println("[helm] notify bus: in-memory (dev mode)")
	}

	tailSub := tail.New(reads, bus)

	permitStore := permit.NewMemoryStore()
	classifier := permit.NewTableClassifier(permit.DefaultJobPolicies)
	issuer := permit.NewIssuer(permitStore, classifier).WithEventLog(kernel.NewInMemoryEventLog())
	dispatch := permit.NewDispatch(permitStore)
	receipts := permit.NewReceipts(permitStore)
	watchdog := permit.NewWatchdog(permitStore, cfg.RunnerTimeout)

	go func() {
		ticker := time.NewTicker(cfg.RunnerTimeout / 2)
		defer ticker.Stop()
		for range ticker.C {
			if timedOut, err := watchdog.Sweep(ctx); err != nil {
				slog.Error("watchdog sweep failed", "error", err)
			} else if len(timedOut) > 0 {
				slog.Info("watchdog synthesized timeout receipts", "jobs", timedOut)
			}
		}
	}()

	svc := &api.KernelService{
		Engine:   engine,
		Reads:    reads,
		Bus:      bus,
		Tail:     tailSub,
		Issuer:   issuer,
		Dispatch: dispatch,
		Receipts: receipts,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/entries", svc.HandleAppend)
	mux.HandleFunc("GET /v1/containers/{container_id}/entries/{sequence}", func(w http.ResponseWriter, r *http.Request) {
		seq, err := strconv.ParseUint(r.PathValue("sequence"), 10, 64)
		if err != nil {
			api.WriteBadRequest(w, "sequence must be a non-negative integer")
			return
		}
		svc.HandleEntry(w, r, r.PathValue("container_id"), seq)
	})
	mux.HandleFunc("GET /v1/containers/{container_id}/entries", func(w http.ResponseWriter, r *http.Request) {
		svc.HandleSince(w, r, r.PathValue("container_id"))
	})
	mux.HandleFunc("GET /v1/containers/{container_id}/tail", func(w http.ResponseWriter, r *http.Request) {
		svc.HandleTailStream(w, r, r.PathValue("container_id"))
	})
	mux.HandleFunc("/v1/permits", svc.HandleIssuePermit)
	mux.HandleFunc("POST /v1/permits/{jti}/approve", func(w http.ResponseWriter, r *http.Request) {
		svc.HandleApprovePermit(w, r, r.PathValue("jti"))
	})
	mux.HandleFunc("/v1/commands", svc.HandleCreateCommand)
	mux.HandleFunc("/v1/commands/claim", svc.HandleClaimCommand)
	mux.HandleFunc("/v1/receipts", svc.HandleSubmitReceipt)

	var limiterStore kernel.LimiterStore
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			log.Fatalf("invalid REDIS_URL: %v", err)
		}
		limiterStore = kernel.NewRedisLimiterStore(opts.Addr, opts.Password, opts.DB)
		log.Println("[helm] rate limiter: redis")
	} else {
		limiterStore = kernel.NewInMemoryLimiterStore()
		log.Println("[helm] rate limiter: in-memory (dev mode)")
	}
	limiterPolicy := kernel.BackpressurePolicy{RPM: 3000, Burst: 100}

	idempStore := api.NewIdempotencyStore(10 * time.Minute)
	handler := auth.RateLimitMiddleware(limiterStore, limiterPolicy)(api.IdempotencyMiddleware(idempStore)(mux))
	handler = auth.CORSMiddleware(nil)(handler)
	handler = auth.RequestIDMiddleware(handler)
	handler = obs.HTTPMiddleware(handler)

	go func() {
		addr := ":" + cfg.Port
		log.Printf("[helm] ready: http://localhost%s", addr)
		if err := http.ListenAndServe(addr, handler); err != nil {
			log.Printf("[helm] server error: %v", err)
		}
	}()

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	go func() {
		log.Println("[helm] health server: :8081")
		if err := http.ListenAndServe(":8081", healthMux); err != nil {
			log.Printf("[helm] health server error: %v", err)
		}
	}()

	log.Println("[helm] press ctrl+c to stop")
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("[helm] shutting down")
}
