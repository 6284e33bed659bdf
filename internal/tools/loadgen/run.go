package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"
)

type Config struct {
	BaseURL     string
	Profile     string
	Duration    time.Duration
	RPS         int
	Concurrency int
	Seed        uint64
}

type Result struct {
	TotalRequests int
	Failures      int
	StatusClasses map[string]int
	Operations    map[string]int
	Elapsed       time.Duration
}

type worker struct {
	client  *http.Client
	baseURL string
	profile string
	rng     *rand.Rand
	ids     []string
}

// Run drives session traffic against BaseURL at roughly RPS requests per second until Duration
// elapses or ctx is done.
func Run(ctx context.Context, cfg Config) (Result, error) {
	cfg = normalizeConfig(cfg)
	res := Result{StatusClasses: map[string]int{}, Operations: map[string]int{}}
	started := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	jobs := make(chan struct{})
	var mu sync.Mutex
	var wg sync.WaitGroup
	client := &http.Client{Timeout: 5 * time.Second}
	for i := 0; i < cfg.Concurrency; i++ {
		w := &worker{
			client:  client,
			baseURL: strings.TrimRight(cfg.BaseURL, "/"),
			profile: cfg.Profile,
			rng:     rand.New(rand.NewPCG(cfg.Seed, uint64(i))),
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				op, status, err := w.step(ctx)
				mu.Lock()
				res.TotalRequests++
				res.Operations[op]++
				res.StatusClasses[classifyStatusClass(status)]++
				if err != nil || status >= 500 || status == 0 {
					res.Failures++
				}
				mu.Unlock()
			}
		}()
	}

	ticker := time.NewTicker(time.Second / time.Duration(cfg.RPS))
	defer ticker.Stop()
loop:
	for {
		select {
		case <-runCtx.Done():
			break loop
		case <-ticker.C:
			select {
			case jobs <- struct{}{}:
			case <-runCtx.Done():
				break loop
			}
		}
	}
	close(jobs)
	wg.Wait()
	res.Elapsed = time.Since(started)
	if res.TotalRequests == 0 {
		return res, fmt.Errorf("no requests sent to %s", cfg.BaseURL)
	}
	return res, nil
}

func (w *worker) step(ctx context.Context) (string, int, error) {
	op := w.pick()
	switch op {
	case "create":
		status, body, err := w.do(ctx, http.MethodPost, "/api/v1/sessions", map[string]any{"data": map[string]any{"n": w.rng.IntN(1000)}})
		if err == nil && status == http.StatusCreated {
			if id := sessionID(body); id != "" {
				w.ids = append(w.ids, id)
			}
		}
		return op, status, err
	case "get":
		status, _, err := w.do(ctx, http.MethodGet, "/api/v1/sessions/"+w.randomID(), nil)
		return op, status, err
	case "update":
		status, _, err := w.do(ctx, http.MethodPut, "/api/v1/sessions/"+w.randomID(), map[string]any{"data": map[string]any{"n": w.rng.IntN(1000)}})
		return op, status, err
	default:
		i := w.rng.IntN(len(w.ids))
		id := w.ids[i]
		w.ids = append(w.ids[:i], w.ids[i+1:]...)
		status, _, err := w.do(ctx, http.MethodDelete, "/api/v1/sessions/"+id, nil)
		return op, status, err
	}
}

func (w *worker) pick() string {
	if len(w.ids) == 0 || w.profile == "create" {
		return "create"
	}
	if w.profile == "read" {
		return "get"
	}
	switch n := w.rng.IntN(100); {
	case n < 20:
		return "create"
	case n < 80:
		return "get"
	case n < 90:
		return "update"
	default:
		return "delete"
	}
}

func (w *worker) randomID() string { return w.ids[w.rng.IntN(len(w.ids))] }

func (w *worker) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, w.baseURL+path, body)
	if err != nil {
		return 0, nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return resp.StatusCode, raw, err
}

func sessionID(body []byte) string {
	var env struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return ""
	}
	return env.Data.ID
}

func normalizeConfig(cfg Config) Config {
	cfg.Profile = normalizeProfile(cfg.Profile)
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8080"
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 10 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return cfg
}

func normalizeProfile(profile string) string {
	switch p := strings.ToLower(strings.TrimSpace(profile)); p {
	case "create", "read":
		return p
	default:
		return "mixed"
	}
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
