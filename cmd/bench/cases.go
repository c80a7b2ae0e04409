// README: Bench cases: environment checks, the ride lifecycle end to end, accept races and load.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"campuspool/internal/infra"
)

const (
	statusPass = "PASS"
	statusFail = "FAIL"
	statusSkip = "SKIP"
)

type Runner struct {
	cfg    Config
	httpc  *http.Client
	tokens *infra.JWTVerifier
	db     *pgxpool.Pool
	redis  *redis.Client

	riderID, driverID   string
	riderTok, driverTok string
	requestID           string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) (*Runner, error) {
	tokens, err := infra.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		return nil, err
	}
	suffix := time.Now().UTC().Format("20060102150405")
	r := &Runner{
		cfg:      cfg,
		httpc:    &http.Client{Timeout: 10 * time.Second},
		tokens:   tokens,
		riderID:  "bench-rider-" + suffix,
		driverID: "bench-driver-" + suffix,
	}
	if r.riderTok, err = tokens.Mint(r.riderID, "rider", time.Hour); err != nil {
		return nil, err
	}
	if r.driverTok, err = tokens.Mint(r.driverID, "driver", time.Hour); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
			defer db.Close()
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
		defer r.redis.Close()
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}
	return results
}

var (
	hebbal = []float64{77.5946, 13.0358}
	campus = []float64{77.5124, 13.1337}
)

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.db == nil {
				return Result{Status: statusFail, Note: "db not configured"}
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := r.db.Ping(ctx); err != nil {
				return Result{Status: statusFail, Note: err.Error()}
			}
			return Result{Status: statusPass}
		}},
		{Name: "Env: Redis connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.redis == nil {
				return Result{Status: statusFail, Note: "redis not configured"}
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := r.redis.Ping(ctx).Err(); err != nil {
				return Result{Status: statusFail, Note: err.Error()}
			}
			return Result{Status: statusPass}
		}},
		{Name: "Migration: apply (optional)", Run: func(ctx context.Context, r *Runner) Result {
			if !r.cfg.ApplyMigrations {
				return Result{Status: statusSkip, Note: "apply-migrations=false"}
			}
			if r.db == nil {
				return Result{Status: statusFail, Note: "db not configured"}
			}
			if err := infra.ApplyMigrations(ctx, r.db, r.cfg.MigrationsDir); err != nil {
				return Result{Status: statusFail, Note: err.Error()}
			}
			return Result{Status: statusPass}
		}},
		{Name: "Migration: tables exist", Run: checkTables},
		{Name: "API: health", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodGet, "/health", "", nil, http.StatusOK)
		}},

		{Name: "Profile: rider registers", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodPut, "/api/profile", r.riderTok, map[string]any{
				"name": "Bench Rider", "phone_number": "9000000001", "home_location": hebbal,
			}, http.StatusOK)
		}},
		{Name: "Profile: driver registers", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodPut, "/api/profile", r.driverTok, map[string]any{
				"name": "Bench Driver", "phone_number": "9000000002",
				"vehicle": map[string]string{"model": "Swift", "color": "White", "plate": "KA01AB1234"},
			}, http.StatusOK)
		}},
		{Name: "Availability: driver goes live", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodPost, "/api/rides/go-live", r.driverTok, map[string]any{
				"pickup_location": hebbal, "destination_location": campus,
				"pickup_address": "Hebbal", "destination_address": "Campus",
			}, http.StatusCreated)
		}},
		{Name: "Availability: second go-live -> 409", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodPost, "/api/rides/go-live", r.driverTok, map[string]any{
				"pickup_location": hebbal, "destination_location": campus,
				"pickup_address": "Hebbal", "destination_address": "Campus",
			}, http.StatusConflict)
		}},
		{Name: "Nearby: rider sees the driver", Run: func(ctx context.Context, r *Runner) Result {
			var out struct {
				Drivers []struct {
					DriverID string `json:"driver_id"`
				} `json:"drivers"`
			}
			res := r.expectInto(ctx, http.MethodPost, "/api/rides/nearby", r.riderTok, map[string]any{"location": hebbal}, http.StatusOK, &out)
			if res.Status != statusPass {
				return res
			}
			for _, d := range out.Drivers {
				if d.DriverID == r.driverID {
					return res
				}
			}
			res.Status, res.Note = statusFail, "driver missing from nearby results"
			return res
		}},
		{Name: "Ride: rider requests", Run: func(ctx context.Context, r *Runner) Result {
			var out struct {
				ID string `json:"request_id"`
			}
			res := r.expectInto(ctx, http.MethodPost, "/api/rides/request", r.riderTok, r.requestBody(), http.StatusCreated, &out)
			r.requestID = out.ID
			return res
		}},
		{Name: "Ride: duplicate active request -> 409", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodPost, "/api/rides/request", r.riderTok, r.requestBody(), http.StatusConflict)
		}},
		{Name: "Concurrency: multi accept same request", Run: concurrentAccept},
		{Name: "Ride: wrong OTP -> 400", Run: func(ctx context.Context, r *Runner) Result {
			if r.requestID == "" {
				return Result{Status: statusSkip, Note: "no request"}
			}
			return r.expect(ctx, http.MethodPost, "/api/rides/requests/"+r.requestID+"/verify-otp", r.driverTok,
				map[string]any{"otp": "abcd"}, http.StatusBadRequest)
		}},
		{Name: "Perf: location update throughput", Run: func(ctx context.Context, r *Runner) Result {
			return r.perfLoad(ctx, http.MethodPut, "/api/rides/location", r.driverTok, map[string]any{"location": hebbal})
		}},
		{Name: "Perf: nearby throughput", Run: func(ctx context.Context, r *Runner) Result {
			return r.perfLoad(ctx, http.MethodPost, "/api/rides/nearby", r.riderTok, map[string]any{"location": hebbal})
		}},
		{Name: "Ride: rider cancels accepted request", Run: func(ctx context.Context, r *Runner) Result {
			if r.requestID == "" {
				return Result{Status: statusSkip, Note: "no request"}
			}
			return r.expect(ctx, http.MethodPost, "/api/rides/requests/"+r.requestID+"/cancel", r.riderTok, nil, http.StatusOK)
		}},
		{Name: "Availability: driver goes offline", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodPost, "/api/rides/go-offline", r.driverTok, nil, http.StatusOK)
		}},
	}
}

func (r *Runner) requestBody() map[string]any {
	return map[string]any{
		"driver_id":            r.driverID,
		"pickup_location":      hebbal,
		"destination_location": campus,
		"pickup_address":       "Hebbal",
		"destination_address":  "Campus",
	}
}

func (r *Runner) do(ctx context.Context, method, path, token string, body any) (int, []byte, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, 0, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, 0, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	return resp.StatusCode, payload, time.Since(start), err
}

func (r *Runner) expect(ctx context.Context, method, path, token string, body any, want int) Result {
	return r.expectInto(ctx, method, path, token, body, want, nil)
}

func (r *Runner) expectInto(ctx context.Context, method, path, token string, body any, want int, out any) Result {
	status, payload, latency, err := r.do(ctx, method, path, token, body)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	if status != want {
		return Result{Status: statusFail, Latency: latency, Note: fmt.Sprintf("status=%d body=%s", status, truncate(payload))}
	}
	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return Result{Status: statusFail, Latency: latency, Note: err.Error()}
		}
	}
	return Result{Status: statusPass, Latency: latency, Note: fmt.Sprintf("status=%d", status)}
}

// concurrentAccept fires the same accept from many goroutines; exactly one may succeed.
func concurrentAccept(ctx context.Context, r *Runner) Result {
	if r.requestID == "" {
		return Result{Status: statusSkip, Note: "no request"}
	}
	path := "/api/rides/requests/" + r.requestID + "/respond"
	var ok, conflict atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, _, _, err := r.do(ctx, http.MethodPost, path, r.driverTok, map[string]any{"action": "accept"})
			if err != nil {
				return
			}
			switch status {
			case http.StatusOK:
				ok.Add(1)
			case http.StatusConflict:
				conflict.Add(1)
			}
		}()
	}
	wg.Wait()

	note := fmt.Sprintf("success=%d conflict=%d", ok.Load(), conflict.Load())
	if ok.Load() != 1 {
		return Result{Status: statusFail, Note: note}
	}
	return Result{Status: statusPass, Note: note}
}

func (r *Runner) perfLoad(ctx context.Context, method, path, token string, body any) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				status, _, _, err := r.do(ctx, method, path, token, body)
				if err != nil || status >= 500 {
					errCount.Add(1)
					continue
				}
				count.Add(1)
			}
		}()
	}
	wg.Wait()

	if count.Load() == 0 {
		return Result{Status: statusFail, Note: "no requests completed"}
	}
	rps := float64(count.Load()) / r.cfg.Duration.Seconds()
	return Result{Status: statusPass, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount.Load())}
}

func checkTables(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: statusFail, Note: "db not configured"}
	}
	tables, err := extractTables(r.cfg.MigrationsDir)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	for _, t := range tables {
		var exists bool
		err := r.db.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
			t,
		).Scan(&exists)
		if err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
		if !exists {
			return Result{Status: statusFail, Note: "missing table: " + t}
		}
	}
	return Result{Status: statusPass, Note: fmt.Sprintf("%d tables", len(tables))}
}

var createTable = regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)

func extractTables(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	var tables []string
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}
		for _, m := range createTable.FindAllStringSubmatch(string(b), -1) {
			tables = append(tables, m[1])
		}
	}
	return tables, nil
}

func truncate(b []byte) string {
	if len(b) > 200 {
		return string(b[:200]) + "..."
	}
	return string(b)
}
