package redisstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLocalLocker_Exclusive(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	tok, ok, err := l.TryLock(ctx, "s1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first lock: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := l.TryLock(ctx, "s1", time.Minute); ok {
		t.Fatal("second lock must fail while held")
	}
	if _, ok, _ := l.TryLock(ctx, "s2", time.Minute); !ok {
		t.Fatal("other keys are independent")
	}
	if err := l.Unlock(ctx, "s1", "wrong"); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("expected not held, got %v", err)
	}
	if err := l.Unlock(ctx, "s1", tok); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, ok, _ := l.TryLock(ctx, "s1", time.Minute); !ok {
		t.Fatal("lock must be free after unlock")
	}
}

func TestLocalLocker_Expiry(t *testing.T) {
	l := NewLocalLocker()
	now := time.Unix(1000, 0)
	l.clock = func() time.Time { return now }
	ctx := context.Background()

	old, _, _ := l.TryLock(ctx, "s1", time.Second)
	now = now.Add(2 * time.Second)
	if _, ok, _ := l.TryLock(ctx, "s1", time.Second); !ok {
		t.Fatal("expired lock must be reclaimable")
	}
	if err := l.Unlock(ctx, "s1", old); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("stale token must not release the new holder, got %v", err)
	}
}

func TestLocalLocker_Concurrent(t *testing.T) {
	l := NewLocalLocker()
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := l.TryLock(context.Background(), "k", time.Minute); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected one winner, got %d", wins)
	}
}
