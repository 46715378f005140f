// Command bench runs a synthetic fetch workload against the query
// cache and exposes optional pprof/Prometheus endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"os"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	pmet "github.com/sukvvon/query/metrics/prom"
	"github.com/sukvvon/query/query"
	"github.com/sukvvon/query/retry"
)

// workload is the TOML-configurable part of the benchmark.
type workload struct {
	Keys      int           `toml:"keys"`
	Workers   int           `toml:"workers"`
	Duration  time.Duration `toml:"duration"`
	StaleTime time.Duration `toml:"stale_time"`
	GCTime    time.Duration `toml:"gc_time"`
	Latency   time.Duration `toml:"latency"`
	ErrorPct  int           `toml:"error_pct"`
}

func defaultWorkload() workload {
	return workload{
		Keys:      10_000,
		Workers:   2 * runtime.GOMAXPROCS(0),
		Duration:  10 * time.Second,
		StaleTime: 100 * time.Millisecond,
		GCTime:    time.Minute,
		Latency:   time.Millisecond,
		ErrorPct:  1,
	}
}

// loadWorkload reads the TOML config, falling back to defaults when
// the file is absent.
func loadWorkload(path string) (workload, error) {
	w := defaultWorkload()
	if path == "" {
		return w, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return w, nil
		}
		return w, fmt.Errorf("open config: %w", err)
	}
	if err := toml.Unmarshal(b, &w); err != nil {
		return w, fmt.Errorf("parse config: %w", err)
	}
	return w, nil
}

func main() {
	// ---- Flags ----
	var (
		configPath  = flag.String("config", "", "TOML workload config (flags below override it)")
		seed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
		shards      = flag.Int("shards", 0, "number of index shards (0=auto)")
		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", ":8080", "serve Prometheus metrics at addr")
	)
	flag.Parse()

	w, err := loadWorkload(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	// ---- pprof server (on DefaultServeMux) ----
	if *pprofAddr != "" {
		go func() {
			log.Printf("pprof: serving at %s", *pprofAddr)
			log.Println(http.ListenAndServe(*pprofAddr, nil))
		}()
	}

	// ---- Prometheus metrics (on DefaultServeMux) ----
	metrics := pmet.New(nil, "query", "bench", nil)
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Printf("metrics: serving at %s", *metricsAddr)
		log.Println(http.ListenAndServe(*metricsAddr, nil))
	}()

	// ---- Build cache ----
	var fetches, failures atomic.Int64
	c := query.New[string, string](query.Config[string, string]{
		Metrics: metrics,
		Shards:  *shards,
		GCTime:  query.Duration(w.GCTime),
	})

	opts := &query.Options[string, string]{
		StaleTime:   w.StaleTime,
		RetryPolicy: retry.None{},
		QueryFn: func(fctx *query.FetchContext[string, string]) (string, error) {
			fetches.Add(1)
			if w.Latency > 0 {
				select {
				case <-time.After(w.Latency):
				case <-fctx.Context().Done():
					return "", fctx.Context().Err()
				}
			}
			// A slice of fetches fail to exercise the error path.
			if w.ErrorPct > 0 && rand.Intn(100) < w.ErrorPct {
				failures.Add(1)
				return "", errors.New("bench: synthetic fetch failure")
			}
			return "v:" + fctx.Key, nil
		},
	}

	// ---- Load generation ----
	var ops, hits, errs atomic.Int64
	ctx, cancel := context.WithTimeout(context.Background(), w.Duration)
	defer cancel()

	start := time.Now()
	var g errgroup.Group
	for i := 0; i < w.Workers; i++ {
		id := i
		g.Go(func() error {
			// Each worker gets its own RNG (rand.Rand is not goroutine-safe).
			r := rand.New(rand.NewSource(*seed + int64(id)*9973))
			for ctx.Err() == nil {
				k := "k:" + strconv.Itoa(r.Intn(w.Keys))
				ops.Add(1)
				before := fetches.Load()
				if _, err := c.FetchQuery(ctx, k, opts); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					errs.Add(1)
					continue
				}
				if fetches.Load() == before {
					hits.Add(1)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}
	elapsed := time.Since(start)

	// ---- Report ----
	total := ops.Load()
	fmt.Printf("keys=%d workers=%d stale=%v dur=%v seed=%d\n",
		w.Keys, w.Workers, w.StaleTime, elapsed, *seed)
	fmt.Printf("ops=%d (%.0f ops/s)  fetches=%d  fresh-hits=%d  errors=%d (synthetic=%d)\n",
		total, float64(total)/elapsed.Seconds(), fetches.Load(), hits.Load(), errs.Load(), failures.Load())
	fmt.Printf("Len()=%d\n", c.Len())
}
