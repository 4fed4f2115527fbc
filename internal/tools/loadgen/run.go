package loadgen

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config drives one synthetic traffic run against a gatekeeper instance.
type Config struct {
	BaseURL     string
	Profile     string
	Duration    time.Duration
	RPS         int
	Concurrency int
	Seed        int64
	// Token is an access token accepted by the identity provider; without it
	// the usage profile only exercises the 401 path.
	Token string
}

type Result struct {
	TotalRequests int
	Failures      int
	StatusClasses map[string]int
}

type target struct {
	method string
	path   string
	authed bool
}

var profiles = map[string][]target{
	"health": {
		{http.MethodGet, "/health/live", false},
		{http.MethodGet, "/health/ready", false},
	},
	"plans": {
		{http.MethodGet, "/api/v1/plans", false},
	},
	"usage": {
		{http.MethodGet, "/api/v1/usage/remaining", true},
		{http.MethodGet, "/api/v1/usage/today", true},
		{http.MethodPost, "/api/v1/usage/increment", true},
	},
}

func normalizeProfile(profile string) string {
	p := strings.ToLower(strings.TrimSpace(profile))
	if p == "" {
		return "mixed"
	}
	return p
}

func targetsFor(profile string) []target {
	if profile == "mixed" {
		var all []target
		for _, ts := range profiles {
			all = append(all, ts...)
		}
		return all
	}
	return profiles[profile]
}

// Run fires requests at the configured rate until the duration elapses.
// Failures are transport errors and 5xx responses; denied requests (401, 402,
// 403, 429) are expected admission outcomes, not failures.
func Run(ctx context.Context, cfg Config) (Result, error) {
	profile := normalizeProfile(cfg.Profile)
	targets := targetsFor(profile)
	if len(targets) == 0 {
		return Result{}, fmt.Errorf("unknown traffic profile %q", cfg.Profile)
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 5 * time.Second
	}

	runCtx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	client := &http.Client{Timeout: 10 * time.Second}
	ticker := time.NewTicker(time.Second / time.Duration(cfg.RPS))
	defer ticker.Stop()

	var (
		mu     sync.Mutex
		result = Result{StatusClasses: make(map[string]int)}
		wg     sync.WaitGroup
		work   = make(chan target)
	)

	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tgt := range work {
				class, failed := fire(runCtx, client, cfg, tgt)
				mu.Lock()
				result.TotalRequests++
				result.StatusClasses[class]++
				if failed {
					result.Failures++
				}
				mu.Unlock()
			}
		}()
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
loop:
	for {
		select {
		case <-runCtx.Done():
			break loop
		case <-ticker.C:
			select {
			case work <- targets[rng.Intn(len(targets))]:
			case <-runCtx.Done():
				break loop
			}
		}
	}
	close(work)
	wg.Wait()

	return result, nil
}

func fire(ctx context.Context, client *http.Client, cfg Config, tgt target) (class string, failed bool) {
	req, err := http.NewRequestWithContext(ctx, tgt.method, cfg.BaseURL+tgt.path, nil)
	if err != nil {
		return "other", true
	}
	req.Header.Set("X-Request-Id", uuid.NewString())
	if tgt.authed && cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "other", true
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return classifyStatusClass(resp.StatusCode), resp.StatusCode >= 500
}

func classifyStatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}
