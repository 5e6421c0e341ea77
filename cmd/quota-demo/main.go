// Command quota-demo starts the quota engine's HTTP surface and, in
// -drive mode, fires the sequential/parallel load pattern from the
// retrieved test_rate_limiting.py against it to showcase the sliding
// window under contention.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/redis/go-redis/v9"

	"github.com/vaedprasad/slidingquota/internal/config"
	"github.com/vaedprasad/slidingquota/internal/httpapi"
	"github.com/vaedprasad/slidingquota/internal/observability"
	"github.com/vaedprasad/slidingquota/internal/quota"
)

type resourceConfig struct {
	Name              string   `yaml:"name"`
	RequestsPerSecond *float64 `yaml:"requests_per_second,omitempty"`
	RequestsPerMinute *float64 `yaml:"requests_per_minute,omitempty"`
	RequestsPerHour   *float64 `yaml:"requests_per_hour,omitempty"`
	TokensPerSecond   *float64 `yaml:"tokens_per_second,omitempty"`
	TokensPerMinute   *float64 `yaml:"tokens_per_minute,omitempty"`
}

type demoConfig struct {
	Resources []resourceConfig `yaml:"resources"`
}

func main() {
	resourcesPath := flag.String("resources", "cmd/quota-demo/resources.yaml", "path to the resource configuration file")
	drive := flag.Bool("drive", false, "fire the sequential/parallel load demonstration and exit")
	flag.Parse()

	if err := config.LoadEnvFiles(); err != nil {
		log.Fatalf("failed to load env files: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger := observability.NewJSONLogger(os.Stdout, cfg.LogFilePath)
	metrics, err := observability.NewQuotaMetrics()
	if err != nil {
		log.Fatalf("failed to init metrics: %v", err)
	}

	store, variant := buildStore(cfg, metrics)
	manager := quota.NewManager(store, quota.SystemClock{})
	coordinator := quota.NewCoordinator(manager, quota.SystemClock{}, variant,
		quota.WithLogger(logger), quota.WithMetrics(metrics))

	if err := applyResourceConfig(manager, *resourcesPath); err != nil {
		log.Fatalf("failed to apply resource configuration: %v", err)
	}

	server := httpapi.NewServer(manager, coordinator, variant, metrics.Registry())

	if *drive {
		driveLoad(coordinator)
		return
	}

	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: server.Handler()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("quota-demo listening on %s (backend=%s)", cfg.HTTPAddr, variant)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("failed to shut down http server: %v", err)
	}
}

func buildStore(cfg config.Config, metrics quota.Metrics) (quota.Store, string) {
	if cfg.Backend == "redis" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		breaker := quota.NewCircuitBreaker(quota.CircuitOptions{})
		store := quota.NewBreakerStore(quota.NewRedisStore(client, cfg.BackendTimeout), breaker).WithMetrics(metrics)
		return store, "redis"
	}
	return quota.NewMemoryStore(), "memory"
}

func applyResourceConfig(manager *quota.Manager, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	var dc demoConfig
	if err := yaml.Unmarshal(data, &dc); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	for _, r := range dc.Resources {
		err := manager.Configure(r.Name, quota.ConfigureInput{
			RequestsPerSecond: r.RequestsPerSecond,
			RequestsPerMinute: r.RequestsPerMinute,
			RequestsPerHour:   r.RequestsPerHour,
			TokensPerSecond:   r.TokensPerSecond,
			TokensPerMinute:   r.TokensPerMinute,
		})
		if err != nil {
			return fmt.Errorf("configuring %s: %w", r.Name, err)
		}
	}
	return nil
}

// driveLoad reproduces the sequential-then-parallel load pattern from the
// retrieved test_rate_limiting.py: 20 sequential calls for one user (with
// a mid-run sleep to cross the per-second window), then 20 parallel
// calls for a second user, fired with an errgroup.
func driveLoad(coordinator *quota.Coordinator) {
	fmt.Println("=== sequential ===")
	for i := 1; i <= 20; i++ {
		if i == 6 {
			time.Sleep(time.Second)
		}
		outcome := coordinator.Acquire(context.Background(), "sequential_user", quota.AcquireOptions{})
		fmt.Printf("request %2d: %s\n", i, outcome.Status)
	}

	fmt.Println("=== parallel ===")
	var g errgroup.Group
	results := make([]quota.Status, 20)
	for i := 0; i < 20; i++ {
		i := i
		g.Go(func() error {
			outcome := coordinator.Acquire(context.Background(), "parallel_user", quota.AcquireOptions{})
			results[i] = outcome.Status
			return nil
		})
	}
	_ = g.Wait()
	for i, status := range results {
		fmt.Printf("request %2d: %s\n", i+1, status)
	}
}
