package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startPool spins up a throwaway PostgreSQL container and returns a pool
// connected to it. Tests skip when no container runtime is available.
func startPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("tether"),
		tcpostgres.WithUsername("tether"),
		tcpostgres.WithPassword("tether"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func TestLockKeyDeterministic(t *testing.T) {
	if lockKey("ns", "acme") != lockKey("ns", "acme") {
		t.Fatal("same parts must hash to the same key")
	}
	if lockKey("ns", "acme") == lockKey("ns", "other") {
		t.Fatal("different namespaces must not collide")
	}
	// The separator keeps ("ab","c") and ("a","bc") apart.
	if lockKey("ab", "c") == lockKey("a", "bc") {
		t.Fatal("part boundaries must be significant")
	}
}

func TestWithNamespaceLock_Serializes(t *testing.T) {
	pool := startPool(t)
	s := &Store{pool: pool}
	ctx := context.Background()

	var mu sync.Mutex
	var inside int
	var maxInside int

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithNamespaceLock(ctx, "acme", func(context.Context) error {
				mu.Lock()
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()

				time.Sleep(20 * time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Fatalf("expected mutual exclusion, saw %d holders at once", maxInside)
	}
}

func TestWithNamespaceLock_IndependentNamespaces(t *testing.T) {
	pool := startPool(t)
	s := &Store{pool: pool}
	ctx := context.Background()

	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = s.WithNamespaceLock(ctx, "acme", func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	done := make(chan error, 1)
	go func() {
		done <- s.WithNamespaceLock(ctx, "other", func(context.Context) error { return nil })
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("lock on another namespace must not block")
	}
}

func TestWithPairLock_OrderIndependent(t *testing.T) {
	pool := startPool(t)
	s := &Store{pool: pool}
	ctx := context.Background()

	// Opposite acquisition orders on the same pair must not deadlock,
	// because both normalize to the same canonical key order.
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs <- s.WithPairLock(ctx, "acme", "team:a", "team:b", func(context.Context) error {
				time.Sleep(time.Millisecond)
				return nil
			})
		}()
		go func() {
			defer wg.Done()
			errs <- s.WithPairLock(ctx, "acme", "team:b", "team:a", func(context.Context) error {
				time.Sleep(time.Millisecond)
				return nil
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
}

func TestWithPairLock_SameEndpoint(t *testing.T) {
	pool := startPool(t)
	s := &Store{pool: pool}
	ctx := context.Background()

	// Both endpoints equal collapses to a single key; a double session
	// lock on it would still be reentrant, but the collapse avoids the
	// second round trip entirely.
	err := s.WithPairLock(ctx, "acme", "team:a", "team:a", func(context.Context) error { return nil })
	if err != nil {
		t.Fatal(err)
	}
}

func TestWithNamespaceLock_ReleasedOnError(t *testing.T) {
	pool := startPool(t)
	s := &Store{pool: pool}
	ctx := context.Background()

	boom := context.DeadlineExceeded
	if err := s.WithNamespaceLock(ctx, "acme", func(context.Context) error { return boom }); err != boom {
		t.Fatalf("expected fn error back, got %v", err)
	}

	// The lock must be free again.
	done := make(chan error, 1)
	go func() {
		done <- s.WithNamespaceLock(ctx, "acme", func(context.Context) error { return nil })
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("lock leaked after fn error")
	}
}
