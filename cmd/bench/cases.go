// README: Benchmark cases; HTTP surface checks, Postgres ledger races and throughput runs.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"concierge/internal/modules/reservation"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client
	// run keeps provider ids unique across runs so the exclusion constraint starts empty.
	run string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name  string
	Focus string
	Run   func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
		run:   strings.ToLower(ulid.Make().String()),
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-7s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}

	return results
}

func (r *Runner) ledger() *reservation.Service {
	return reservation.NewService(reservation.NewStore(r.db), reservation.HoldPolicy{
		SameDay: 15 * time.Minute,
		Advance: time.Hour,
	}, nil)
}

// benchSlot is a slot far enough ahead that every claim uses the advance hold.
func benchSlot(offset time.Duration) time.Time {
	return time.Now().UTC().Truncate(time.Hour).Add(30*24*time.Hour + offset)
}

func (r *Runner) cases() []TestCase {
	base := r.cfg.BaseURL
	webhook := map[string]string{}
	if r.cfg.WebhookSecret != "" {
		webhook["X-Webhook-Secret"] = r.cfg.WebhookSecret
	}
	return []TestCase{
		{
			Name:  "Env: Postgres connect",
			Focus: "ledger database reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Env: Redis connect",
			Focus: "snapshot store and queue reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: "FAIL", Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Migration: apply (optional)",
			Focus: "apply migration SQL",
			Run: func(ctx context.Context, r *Runner) Result {
				if !r.cfg.ApplyMigration {
					return Result{Status: "SKIP", Note: "apply-migration=false"}
				}
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				sql, err := os.ReadFile(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				for _, s := range splitSQL(string(sql)) {
					if _, err := r.db.Exec(ctx, s); err != nil {
						return Result{Status: "FAIL", Note: err.Error()}
					}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Migration: tables exist",
			Focus: "tables from migrations/0001_init.sql",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				tables, err := extractTables(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				for _, t := range tables {
					var exists bool
					err := r.db.QueryRow(ctx,
						"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
						t,
					).Scan(&exists)
					if err != nil {
						return Result{Status: "FAIL", Note: err.Error()}
					}
					if !exists {
						return Result{Status: "FAIL", Note: "missing table: " + t}
					}
				}
				return Result{Status: "PASS"}
			},
		},

		httpCaseMethod("API: health", http.MethodGet, base+"/health", nil, nil, []int{200}),
		httpCase("Messages: first turn", base+"/api/messages", map[string]any{
			"conversation_id": "bench-" + r.run,
			"text":            "hi",
		}, nil, []int{200}),
		httpCase("Messages: missing fields -> 400", base+"/api/messages", map[string]any{}, nil, []int{400}),
		httpCaseMethod("Reservations: unknown -> 404", http.MethodGet, base+"/api/reservations/"+r.run, nil, nil, []int{404}),
		httpCase("Payments: missing reservation -> 400", base+"/api/payments/webhook", map[string]any{
			"status": "paid",
		}, webhook, []int{400}),
		httpCase("Payments: unknown reservation -> 404", base+"/api/payments/webhook", map[string]any{
			"reservation_id": r.run,
			"status":         "paid",
		}, webhook, []int{404}),

		// Ledger races
		{
			Name:  "Ledger: same slot claimed once",
			Focus: "exactly one concurrent claim wins",
			Run: func(ctx context.Context, r *Runner) Result {
				return claimRace(ctx, r, "same-"+r.run, func(int) time.Duration { return 0 })
			},
		},
		{
			Name:  "Ledger: overlapping slots claimed once",
			Focus: "overlap, not equality, is what conflicts",
			Run: func(ctx context.Context, r *Runner) Result {
				return claimRace(ctx, r, "overlap-"+r.run, func(i int) time.Duration { return time.Duration(i%3) * 10 * time.Minute })
			},
		},
		{
			Name:  "Ledger: confirm vs release",
			Focus: "one terminal status, replays are no-ops",
			Run:   confirmReleaseRace,
		},

		// Performance
		{
			Name:  "Perf: claim throughput",
			Focus: "distinct slots, no conflicts expected",
			Run:   claimLoad,
		},
		{
			Name:  "Perf: message throughput",
			Focus: "one conversation per worker",
			Run: func(ctx context.Context, r *Runner) Result {
				return perfLoad(ctx, r, base+"/api/messages")
			},
		},
	}
}

func httpCase(name, url string, body any, headers map[string]string, okStatuses []int) TestCase {
	return httpCaseMethod(name, http.MethodPost, url, body, headers, okStatuses)
}

func httpCaseMethod(name, method, url string, body any, headers map[string]string, okStatuses []int) TestCase {
	return TestCase{
		Name:  name,
		Focus: "HTTP API",
		Run: func(ctx context.Context, r *Runner) Result {
			var reader io.Reader
			if body != nil {
				b, _ := json.Marshal(body)
				reader = strings.NewReader(string(b))
			}
			req, _ := http.NewRequestWithContext(ctx, method, url, reader)
			req.Header.Set("Content-Type", "application/json")
			for k, v := range headers {
				req.Header.Set(k, v)
			}
			start := time.Now()
			resp, err := r.httpc.Do(req)
			if err != nil {
				return Result{Status: "FAIL", Note: err.Error()}
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			latency := time.Since(start)

			if contains(okStatuses, resp.StatusCode) {
				return Result{Status: "PASS", Latency: latency, Note: fmt.Sprintf("status=%d", resp.StatusCode)}
			}
			return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("status=%d", resp.StatusCode)}
		},
	}
}

func claimRace(ctx context.Context, r *Runner, provider string, offset func(i int) time.Duration) Result {
	if r.db == nil {
		return Result{Status: "SKIP", Note: "db not configured"}
	}
	ledger := r.ledger()
	slot := benchSlot(0)

	var wins, conflicts, other atomic.Int64
	var wg sync.WaitGroup
	gate := make(chan struct{})
	start := time.Now()
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-gate
			_, err := ledger.Claim(ctx, reservation.ClaimCommand{
				ProviderID:      provider,
				SlotStart:       slot.Add(offset(i)),
				DurationMinutes: 30,
				ConversationID:  fmt.Sprintf("bench-%d", i),
			})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, reservation.ErrConflict):
				conflicts.Add(1)
			default:
				other.Add(1)
			}
		}(i)
	}
	close(gate)
	wg.Wait()

	note := fmt.Sprintf("wins=%d conflicts=%d errors=%d", wins.Load(), conflicts.Load(), other.Load())
	if wins.Load() != 1 || other.Load() != 0 {
		return Result{Status: "FAIL", Latency: time.Since(start), Note: note}
	}
	return Result{Status: "PASS", Latency: time.Since(start), Note: note}
}

func confirmReleaseRace(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: "SKIP", Note: "db not configured"}
	}
	ledger := r.ledger()
	res, err := ledger.Claim(ctx, reservation.ClaimCommand{
		ProviderID:      "resolve-" + r.run,
		SlotStart:       benchSlot(0),
		DurationMinutes: 30,
		ConversationID:  "bench-resolve",
	})
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}

	var wg sync.WaitGroup
	var unexpected atomic.Int64
	gate := make(chan struct{})
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-gate
			var err error
			if i%2 == 0 {
				_, err = ledger.Confirm(ctx, res.ID)
			} else {
				_, err = ledger.Release(ctx, res.ID)
			}
			if err != nil && !errors.Is(err, reservation.ErrNotProvisional) {
				unexpected.Add(1)
			}
		}(i)
	}
	close(gate)
	wg.Wait()

	final, err := ledger.Get(ctx, res.ID)
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	note := fmt.Sprintf("final=%s unexpected=%d", final.Status, unexpected.Load())
	if unexpected.Load() != 0 || (final.Status != reservation.StatusConfirmed && final.Status != reservation.StatusExpired) {
		return Result{Status: "FAIL", Note: note}
	}
	return Result{Status: "PASS", Note: note}
}

func claimLoad(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: "SKIP", Note: "db not configured"}
	}
	ledger := r.ledger()
	first := benchSlot(0)
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount atomic.Int64
	var wg sync.WaitGroup

	for w := 0; w < r.cfg.Concurrency; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			provider := fmt.Sprintf("load-%s-%d", r.run, w)
			for n := 0; time.Now().Before(end); n++ {
				_, err := ledger.Claim(ctx, reservation.ClaimCommand{
					ProviderID:      provider,
					SlotStart:       first.Add(time.Duration(n) * 30 * time.Minute),
					DurationMinutes: 30,
					ConversationID:  provider,
				})
				if err != nil {
					errCount.Add(1)
					continue
				}
				count.Add(1)
			}
		}(w)
	}
	wg.Wait()

	if count.Load() == 0 {
		return Result{Status: "FAIL", Note: "no claims completed"}
	}
	rps := float64(count.Load()) / r.cfg.Duration.Seconds()
	status := "PASS"
	if errCount.Load() > 0 {
		status = "FAIL"
	}
	return Result{Status: status, Note: fmt.Sprintf("claims/s=%.1f errors=%d", rps, errCount.Load())}
}

func perfLoad(ctx context.Context, r *Runner, url string) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount atomic.Int64
	var wg sync.WaitGroup

	for w := 0; w < r.cfg.Concurrency; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			b, _ := json.Marshal(map[string]any{
				"conversation_id": fmt.Sprintf("bench-%s-%d", r.run, w),
				"text":            "hi",
			})
			for time.Now().Before(end) {
				req, _ := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(b)))
				req.Header.Set("Content-Type", "application/json")
				resp, err := r.httpc.Do(req)
				if err != nil {
					errCount.Add(1)
					continue
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				_ = resp.Body.Close()
				if resp.StatusCode != http.StatusOK {
					errCount.Add(1)
					continue
				}
				count.Add(1)
			}
		}(w)
	}
	wg.Wait()

	if count.Load() == 0 {
		return Result{Status: "FAIL", Note: "no requests completed"}
	}
	rps := float64(count.Load()) / r.cfg.Duration.Seconds()
	return Result{Status: "PASS", Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount.Load())}
}

func contains(list []int, v int) bool {
	for _, i := range list {
		if i == v {
			return true
		}
	}
	return false
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}

func splitSQL(sql string) []string {
	lines := strings.Split(sql, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, "--") || l == "" {
			continue
		}
		filtered = append(filtered, line)
	}
	cleaned := strings.Join(filtered, "\n")
	parts := strings.Split(cleaned, ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
