package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/ingress"
)

func main() {
	var (
		players     = flag.Int("players", 10000, "number of sessions to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase (codec + authorize + lock)")
		hold        = flag.Duration("hold", 200*time.Microsecond, "time each guarded call holds its lock")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		strict      = flag.Bool("strict", true, "check the session registry on every authorize")
	)
	flag.Parse()

	if *players <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "players, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	client, cleanup, err := connect(*redisAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer cleanup()

	cfg := goGuard.DefaultConfig()
	cfg.Token.PrivateKey = bytes.Repeat([]byte("L"), 32)
	if *strict {
		cfg.ValidationMode = goGuard.ModeStrict
	}
	gw, err := goGuard.New().WithConfig(cfg).WithRedis(client).Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build failed: %v\n", err)
		os.Exit(1)
	}
	defer gw.Close()

	grants := make([]*goGuard.SessionGrant, *players)
	fmt.Printf("seeding %d sessions...\n", *players)
	startSeed := time.Now()
	for i := range grants {
		grants[i], err = gw.StartSession(ctx, int64(i+1), fmt.Sprintf("player-%d", i+1))
		if err != nil {
			fmt.Fprintf(os.Stderr, "start session failed: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	codecStats := runPhase(*ops, *concurrency, 7919, func(r *rand.Rand) error {
		p := grants[r.Intn(len(grants))]
		wire, err := gw.Codec().Encode(map[string]any{
			"userId": p.UserID, "sessionId": p.SessionID, "token": p.Token, "amount": r.Intn(100),
		})
		if err != nil {
			return err
		}
		_, err = gw.Codec().Decode(wire)
		return err
	})

	authorizeStats := runPhase(*ops, *concurrency, 6151, func(r *rand.Rand) error {
		p := grants[r.Intn(len(grants))]
		_, err := gw.Authorize(ctx, &ingress.Request{UserID: p.UserID, SessionID: p.SessionID, Token: p.Token})
		return err
	})

	// Workers share a small pool of players so requests collide on locks.
	hot := min(len(grants), max(1, *concurrency/4))
	var denied atomic.Int64
	lockStats := runPhase(*ops, *concurrency, 4813, func(r *rand.Rand) error {
		p := grants[r.Intn(hot)]
		err := gw.Guarded(ctx, strconv.FormatInt(p.UserID, 10), func(context.Context) error {
			time.Sleep(*hold)
			return nil
		})
		if errors.Is(err, goGuard.ErrLockDenied) {
			denied.Add(1)
			return nil
		}
		return err
	})

	fmt.Println("---- results ----")
	codecStats.print("codec")
	authorizeStats.print("authorize")
	lockStats.print("lock")
	fmt.Printf("lock: denied=%d active_after=%d\n", denied.Load(), gw.ActiveLockCount())
}

// connect dials addr (or REDIS_ADDR), falling back to an in-process miniredis.
func connect(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

// runPhase spreads ops calls across concurrency workers. Each worker keeps
// its own samples so the hot loop takes no shared lock.
func runPhase(ops, concurrency int, seed int64, op func(r *rand.Rand) error) report {
	var (
		next     atomic.Int64
		failures atomic.Int64
		wg       sync.WaitGroup
	)
	perWorker := make([][]time.Duration, concurrency)

	start := time.Now()
	for w := range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := rand.New(rand.NewSource(start.UnixNano() + int64(w)*seed))
			samples := make([]time.Duration, 0, ops/concurrency+1)
			for next.Add(1) <= int64(ops) {
				t0 := time.Now()
				if err := op(r); err != nil {
					failures.Add(1)
				}
				samples = append(samples, time.Since(t0))
			}
			perWorker[w] = samples
		}()
	}
	wg.Wait()

	return newReport(time.Since(start), slices.Concat(perWorker...), failures.Load())
}

type report struct {
	elapsed  time.Duration
	samples  []time.Duration
	failures int64
}

func newReport(elapsed time.Duration, samples []time.Duration, failures int64) report {
	slices.Sort(samples)
	return report{elapsed: elapsed, samples: samples, failures: failures}
}

// quantile returns the sample at q in [0, 1] by nearest rank.
func (r report) quantile(q float64) time.Duration {
	if len(r.samples) == 0 {
		return 0
	}
	i := int(q * float64(len(r.samples)-1))
	return r.samples[i]
}

func (r report) print(name string) {
	rate := 0.0
	if r.elapsed > 0 {
		rate = float64(len(r.samples)) / r.elapsed.Seconds()
	}
	fmt.Printf("%-10s ops=%-8d failures=%-6d elapsed=%-10s rate=%.0f/s  p50=%s p95=%s p99=%s max=%s\n",
		name,
		len(r.samples),
		r.failures,
		r.elapsed.Round(time.Millisecond),
		rate,
		r.quantile(0.50).Round(time.Microsecond),
		r.quantile(0.95).Round(time.Microsecond),
		r.quantile(0.99).Round(time.Microsecond),
		r.quantile(1).Round(time.Microsecond),
	)
}
