// Package bench drives a request workload through a client.Client and
// reports throughput and latency.
package bench

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rpccache/internal/config"
	"rpccache/pkg/balancer"
	"rpccache/pkg/client"
	"rpccache/pkg/logger"
)

// Scenario names a client configuration under test.
type Scenario struct {
	Name   string
	Client client.Client
}

type Result struct {
	RunID      string
	Scenario   string
	Requests   int
	Errors     int
	Duration   time.Duration
	Throughput float64
	P50        time.Duration
	P99        time.Duration
	Max        time.Duration
	PerTarget  map[string]int
}

func (r *Result) Fields() []zap.Field {
	return []zap.Field{
		zap.String("run_id", r.RunID),
		zap.String("scenario", r.Scenario),
		zap.Int("requests", r.Requests),
		zap.Int("errors", r.Errors),
		zap.Duration("duration", r.Duration),
		zap.Float64("throughput_rps", r.Throughput),
		zap.Duration("p50", r.P50),
		zap.Duration("p99", r.P99),
		zap.Duration("max", r.Max),
		zap.Any("per_target", r.PerTarget),
	}
}

type Runner struct {
	workers  int
	requests int
	warmup   int
	opts     client.Options
	targets  map[string]*client.Request
	mix      *balancer.SRR
	logger   *logger.Logger
}

func NewRunner(cfg config.BenchConfig, baseURL string, opts client.Options, log *logger.Logger) (*Runner, error) {
	if cfg.Workers <= 0 || cfg.Requests <= 0 {
		return nil, fmt.Errorf("workers and requests must be positive")
	}

	r := &Runner{
		workers:  cfg.Workers,
		requests: cfg.Requests,
		warmup:   cfg.Warmup,
		opts:     opts,
		targets:  make(map[string]*client.Request, len(cfg.Targets)),
		mix:      balancer.NewSRR(),
		logger:   log,
	}

	base := strings.TrimRight(baseURL, "/")
	for _, t := range cfg.Targets {
		if _, exists := r.targets[t.Name]; exists {
			return nil, fmt.Errorf("duplicate target name: %s", t.Name)
		}
		r.targets[t.Name] = buildRequest(base, t)
		r.mix.AddTarget(balancer.NewTarget(t.Name, t.Weight))
	}
	if len(r.targets) == 0 {
		return nil, balancer.ErrNoTargets
	}

	return r, nil
}

func buildRequest(base string, t config.TargetConfig) *client.Request {
	req := &client.Request{
		Method:  t.Method,
		URL:     base + t.Path,
		Header:  http.Header{},
		Charset: t.Charset,
	}
	for name, value := range t.Headers {
		req.Header.Add(name, value)
	}
	if t.Body != "" {
		req.Body = []byte(t.Body)
	}
	return req
}

func (r *Runner) next() (string, *client.Request, error) {
	target, err := r.mix.Next()
	if err != nil {
		return "", nil, err
	}
	return target.Name, r.targets[target.Name], nil
}

// Run sends the configured number of requests through c using the
// configured worker count. Failed requests are counted, not fatal.
func (r *Runner) Run(ctx context.Context, scenario string, c client.Client) (*Result, error) {
	runID := uuid.New().String()
	log := r.logger.WithRun(runID, scenario)

	for i := 0; i < r.warmup; i++ {
		_, req, err := r.next()
		if err != nil {
			return nil, err
		}
		if _, err := c.Execute(ctx, req, r.opts); err != nil {
			log.Debug("Warmup request failed", zap.Error(err))
		}
	}

	jobs := make(chan struct{})
	var (
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, r.requests)
		perTarget = make(map[string]int, len(r.targets))
		errCount  int
		wg        sync.WaitGroup
	)
	// every target is reported, including ones that never succeeded
	for _, t := range r.mix.Targets() {
		perTarget[t.Name] = 0
	}

	worker := func() {
		defer wg.Done()
		for range jobs {
			name, req, err := r.next()
			if err != nil {
				mu.Lock()
				errCount++
				mu.Unlock()
				continue
			}

			start := time.Now()
			_, err = c.Execute(ctx, req, r.opts)
			elapsed := time.Since(start)

			mu.Lock()
			if err != nil {
				errCount++
			} else {
				latencies = append(latencies, elapsed)
				perTarget[name]++
			}
			mu.Unlock()

			if err != nil {
				log.Debug("Request failed", zap.String("target", name), zap.Error(err))
			}
		}
	}

	start := time.Now()
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go worker()
	}

	sent := 0
feed:
	for ; sent < r.requests; sent++ {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- struct{}{}:
		}
	}
	close(jobs)
	wg.Wait()
	duration := time.Since(start)

	result := summarize(latencies, duration)
	result.RunID = runID
	result.Scenario = scenario
	result.Requests = sent
	result.Errors = errCount
	result.PerTarget = perTarget

	log.Info("Run completed", result.Fields()...)

	if sent < r.requests {
		return result, ctx.Err()
	}
	return result, nil
}

// Compare runs the same workload against each scenario in order.
func (r *Runner) Compare(ctx context.Context, scenarios ...Scenario) ([]*Result, error) {
	results := make([]*Result, 0, len(scenarios))
	for _, s := range scenarios {
		res, err := r.Run(ctx, s.Name, s.Client)
		if err != nil {
			return results, fmt.Errorf("scenario %s: %w", s.Name, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func summarize(latencies []time.Duration, duration time.Duration) *Result {
	result := &Result{Duration: duration}
	if duration > 0 {
		result.Throughput = float64(len(latencies)) / duration.Seconds()
	}
	if len(latencies) == 0 {
		return result
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	result.P50 = percentile(latencies, 0.50)
	result.P99 = percentile(latencies, 0.99)
	result.Max = latencies[len(latencies)-1]
	return result
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}
