// README: Benchmark runner; executes HTTP/DB/Redis checks and ledger races and prints results.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"concierge/internal/config"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	results := NewRunner(cfg).RunAll(ctx)

	counts := map[string]int{}
	for _, r := range results {
		counts[r.Status]++
	}
	fmt.Println("\n== Summary ==")
	fmt.Printf("PASS=%d FAIL=%d SKIP=%d\n", counts["PASS"], counts["FAIL"], counts["SKIP"])

	if counts["FAIL"] > 0 || (cfg.Strict && counts["SKIP"] > 0) {
		os.Exit(1)
	}
}

type Config struct {
	BaseURL        string
	DSN            string
	RedisAddr      string
	MigrationPath  string
	ApplyMigration bool
	WebhookSecret  string
	Strict         bool
	Timeout        time.Duration
	Concurrency    int
	Duration       time.Duration
}

// loadConfig takes the database, Redis and webhook settings from the API's own config so the bench
// hits what the server uses. Bench knobs come from CONCIERGE_BENCH_* and can be overridden by flags.
func loadConfig() (Config, error) {
	app, err := config.Load()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("CONCIERGE_BENCH")
	v.AutomaticEnv()
	v.SetDefault("base_url", "http://localhost:8080")
	v.SetDefault("migration", "migrations/0001_init.sql")
	v.SetDefault("apply_migration", false)
	v.SetDefault("strict", false)
	v.SetDefault("timeout", time.Minute)
	v.SetDefault("concurrency", 20)
	v.SetDefault("duration", 10*time.Second)

	cfg := Config{
		DSN:           app.DB.DSN,
		RedisAddr:     app.Redis.Addr,
		WebhookSecret: app.Payment.WebhookSecret,
	}
	flag.StringVar(&cfg.BaseURL, "base-url", v.GetString("base_url"), "API base URL")
	flag.StringVar(&cfg.MigrationPath, "migration", v.GetString("migration"), "Migration SQL path")
	flag.BoolVar(&cfg.ApplyMigration, "apply-migration", v.GetBool("apply_migration"), "Apply migration SQL before tests")
	flag.BoolVar(&cfg.Strict, "strict", v.GetBool("strict"), "Fail on skipped tests")
	flag.DurationVar(&cfg.Timeout, "timeout", v.GetDuration("timeout"), "Total timeout")
	flag.IntVar(&cfg.Concurrency, "concurrency", v.GetInt("concurrency"), "Concurrency for race and perf tests")
	flag.DurationVar(&cfg.Duration, "duration", v.GetDuration("duration"), "Duration for perf tests")
	flag.Parse()

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Concurrency < 2 {
		return Config{}, fmt.Errorf("concurrency must be at least 2 for the ledger races, got %d", cfg.Concurrency)
	}
	return cfg, nil
}
