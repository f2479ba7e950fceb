package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/portalauth"
	"github.com/MrEthical07/portalauth/provider/standin"
	"github.com/MrEthical07/portalauth/session"
)

const loadPassword = "load-test-pw"

func main() {
	var (
		accounts    = flag.Int("accounts", 16, "number of stand-in accounts")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 5000, "operations per phase")
		maxLatency  = flag.Duration("max-latency", 5*time.Millisecond, "upper bound of injected provider latency")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "portal-load", "persistence key prefix")
	)
	flag.Parse()

	if *accounts <= 0 || *concurrency <= 0 || *ops <= 0 || *maxLatency < 0 {
		fmt.Fprintln(os.Stderr, "accounts, concurrency and ops must be > 0; max-latency must be >= 0")
		os.Exit(2)
	}

	ctx := context.Background()

	storeStats, err := runStorePhase(*ops, *concurrency, *maxLatency)
	if err != nil {
		fmt.Fprintf(os.Stderr, "store phase: %v\n", err)
		os.Exit(1)
	}

	engineStats, err := runEnginePhase(ctx, *accounts, *ops, *concurrency, *maxLatency)
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine phase: %v\n", err)
		os.Exit(1)
	}

	client, cleanup, err := redisClient(*redisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()
	persistStats := runPersistencePhase(ctx, session.NewRedisStore(client, *prefix), *accounts, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("store", storeStats)
	printStats("engine", engineStats)
	printStats("persist", persistStats)
}

func redisClient(addr string) (redis.UniversalClient, func(), error) {
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

// runStorePhase applies sequenced values after random delays and checks the
// store ends on the value with the greatest sequence number.
func runStorePhase(ops, concurrency int, maxLatency time.Duration) (phaseStats, error) {
	store := portalauth.NewStore()
	store.Set(nil)

	var (
		wg        sync.WaitGroup
		cursor    int64
		discarded int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
		maxSeq    uint64
		maxValue  *portalauth.Session
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				seq := store.Issue()
				var value *portalauth.Session
				if r.Intn(2) == 0 {
					value = &portalauth.Session{ID: fmt.Sprintf("user-%d", seq)}
				}

				t0 := time.Now()
				sleepJitter(r, maxLatency)
				applied := store.Apply(seq, value)
				d := time.Since(t0)
				if !applied {
					atomic.AddInt64(&discarded, 1)
				}

				mu.Lock()
				latencies = append(latencies, d)
				if seq > maxSeq {
					maxSeq, maxValue = seq, value
				}
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)

	if got := store.Current(); !sameSession(got, maxValue) {
		return phaseStats{}, fmt.Errorf("final value %v does not match sequence %d value %v", sessionID(got), maxSeq, sessionID(maxValue))
	}
	return computeStats(total, latencies, discarded), nil
}

// runEnginePhase drives overlapping sign-ins and sign-outs through an Engine
// and checks that the newest issued operation decided the final state.
func runEnginePhase(ctx context.Context, accounts, ops, concurrency int, maxLatency time.Duration) (phaseStats, error) {
	seeds := make([]standin.Account, accounts)
	for i := range seeds {
		seeds[i] = standin.Account{Email: fmt.Sprintf("patient%d@clinic.test", i), Password: loadPassword}
	}
	base, err := standin.New(standin.WithAccounts(seeds...))
	if err != nil {
		return phaseStats{}, err
	}
	gw := &jitterGateway{Gateway: base, max: maxLatency, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}

	engine, err := portalauth.New().WithGateway(gw).Build()
	if err != nil {
		return phaseStats{}, err
	}
	defer engine.Close()
	if err := engine.Bootstrap(ctx); err != nil {
		return phaseStats{}, err
	}

	var (
		wg         sync.WaitGroup
		cursor     int64
		superseded int64
		failures   int64
		latencies  = make([]time.Duration, 0, ops)
		mu         sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*6151))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}

				t0 := time.Now()
				var err error
				if r.Intn(3) == 0 {
					err = engine.SignOut(ctx)
				} else {
					_, err = engine.SignIn(ctx, seeds[r.Intn(len(seeds))].Email, loadPassword)
				}
				d := time.Since(t0)

				switch {
				case err == nil:
				case errors.Is(err, portalauth.ErrSuperseded):
					atomic.AddInt64(&superseded, 1)
				default:
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)

	// Every operation succeeds, so the last issued sequence must be the
	// applied one. Bootstrap took sequence 1.
	state, current, applied := engine.Store().Snapshot()
	if want := uint64(ops) + 1; applied != want {
		return phaseStats{}, fmt.Errorf("applied sequence %d, want %d", applied, want)
	}
	if (state == portalauth.StateAuthenticated) != (current != nil) {
		return phaseStats{}, fmt.Errorf("state %s disagrees with session %v", state, sessionID(current))
	}
	fmt.Printf("engine: superseded=%d final=%s\n", superseded, state)
	return computeStats(total, latencies, failures), nil
}

// runPersistencePhase saves and reloads provider records concurrently.
func runPersistencePhase(ctx context.Context, store session.Persistence, accounts, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*104729))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				key := fmt.Sprintf("auth-token-%d", r.Intn(accounts))

				t0 := time.Now()
				err := store.Save(ctx, key, buildRecord(key, i), time.Hour)
				if err == nil {
					_, err = store.Load(ctx, key)
				}
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}

				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

// jitterGateway delays sign-in and sign-out by a random amount so that
// operations complete out of issue order.
type jitterGateway struct {
	*standin.Gateway
	max time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

func (g *jitterGateway) delay(ctx context.Context) error {
	if g.max <= 0 {
		return nil
	}
	g.mu.Lock()
	d := time.Duration(g.rng.Int63n(int64(g.max)))
	g.mu.Unlock()

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return portalauth.WrapNetwork(ctx.Err(), "request cancelled")
	}
}

func (g *jitterGateway) SignInWithPassword(ctx context.Context, email, pw string) (*portalauth.Session, error) {
	if err := g.delay(ctx); err != nil {
		return nil, err
	}
	return g.Gateway.SignInWithPassword(ctx, email, pw)
}

func (g *jitterGateway) SignOut(ctx context.Context) error {
	if err := g.delay(ctx); err != nil {
		return err
	}
	return g.Gateway.SignOut(ctx)
}

func sleepJitter(r *rand.Rand, limit time.Duration) {
	if limit > 0 {
		time.Sleep(time.Duration(r.Int63n(int64(limit))))
	}
}

func sameSession(a, b *portalauth.Session) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID
}

func sessionID(s *portalauth.Session) string {
	if s == nil {
		return "<none>"
	}
	return s.ID
}

func buildRecord(key string, i int) *session.Record {
	now := time.Now()
	return &session.Record{
		UserID:       key,
		Email:        key + "@clinic.test",
		Metadata:     []byte(`{"full_name":"Load Test"}`),
		AccessToken:  fmt.Sprintf("access-%d", i),
		RefreshToken: fmt.Sprintf("refresh-%d", i),
		CreatedAt:    now.Unix(),
		ExpiresAt:    now.Add(time.Hour).Unix(),
	}
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
