package enginepool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/xpanvictor/voxgate/internal/apperr"
	"github.com/xpanvictor/voxgate/internal/config"
	"github.com/xpanvictor/voxgate/pkg/Logger"
)

type fakeEngine struct {
	id      int
	healthy bool
	closed  bool
}

func (f *fakeEngine) Close() error              { f.closed = true; return nil }
func (f *fakeEngine) Healthy(ctx context.Context) bool { return f.healthy }

func newTestPool(t *testing.T, shared, overflow int, timeout time.Duration) (*Pool[*fakeEngine], *int32) {
	t.Helper()
	var built int32
	var mu sync.Mutex
	next := 0
	factory := func(ctx context.Context, voiceKey string) (*fakeEngine, error) {
		mu.Lock()
		next++
		id := next
		mu.Unlock()
		built++
		return &fakeEngine{id: id, healthy: true}, nil
	}
	cfg := config.EnginePoolConfig{SharedSlots: shared, OverflowSlots: overflow, AcquireTimeout: timeout}
	p := New[*fakeEngine]("test", cfg, factory, Logger.New(true))
	return p, &built
}

func newTestPoolWithDedicated(t *testing.T, dedicated, shared, overflow int, timeout time.Duration) (*Pool[*fakeEngine], *int32) {
	t.Helper()
	var built int32
	var mu sync.Mutex
	next := 0
	factory := func(ctx context.Context, voiceKey string) (*fakeEngine, error) {
		mu.Lock()
		next++
		id := next
		mu.Unlock()
		built++
		return &fakeEngine{id: id, healthy: true}, nil
	}
	cfg := config.EnginePoolConfig{DedicatedSlots: dedicated, SharedSlots: shared, OverflowSlots: overflow, AcquireTimeout: timeout}
	p := New[*fakeEngine]("test", cfg, factory, Logger.New(true))
	return p, &built
}

func TestPoolAcquireReentrant(t *testing.T) {
	p, _ := newTestPool(t, 2, 0, time.Second)
	sid := uuid.New()

	slot1, err := p.Acquire(context.Background(), sid, "")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	slot2, err := p.Acquire(context.Background(), sid, "")
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if slot1 != slot2 {
		t.Fatal("expected re-entrant acquire to return the same slot")
	}
}

func TestPoolCapacityExhaustedTimesOut(t *testing.T) {
	p, _ := newTestPool(t, 1, 0, 50*time.Millisecond)

	sidA := uuid.New()
	if _, err := p.Acquire(context.Background(), sidA, ""); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	sidB := uuid.New()
	_, err := p.Acquire(context.Background(), sidB, "")
	if err == nil {
		t.Fatal("expected capacity error for second session")
	}
	if !apperr.Is(err, apperr.KindCapacity) {
		t.Fatalf("expected CapacityError, got %v", err)
	}
}

func TestPoolReleaseHandsToWaiterFIFO(t *testing.T) {
	p, _ := newTestPool(t, 1, 0, time.Second)
	sidA := uuid.New()
	slotA, err := p.Acquire(context.Background(), sidA, "")
	if err != nil {
		t.Fatalf("Acquire A: %v", err)
	}

	sidB := uuid.New()
	resultCh := make(chan *Slot[*fakeEngine], 1)
	go func() {
		slot, err := p.Acquire(context.Background(), sidB, "")
		if err != nil {
			t.Errorf("waiter Acquire: %v", err)
			return
		}
		resultCh <- slot
	}()

	time.Sleep(20 * time.Millisecond) // let B enqueue as a waiter
	p.Release(sidA)

	select {
	case got := <-resultCh:
		if got != slotA {
			t.Fatal("expected waiter to receive the released slot directly")
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never received the handed-off slot")
	}

	snap := p.Snapshot()
	if snap.Waiters != 0 {
		t.Fatalf("expected no waiters left, got %d", snap.Waiters)
	}
}

func TestPoolReleaseIdempotent(t *testing.T) {
	p, _ := newTestPool(t, 2, 0, time.Second)
	p.Release(uuid.New()) // no-op, must not panic
	snap := p.Snapshot()
	if snap.Leased != 0 {
		t.Fatalf("expected no leased slots, got %d", snap.Leased)
	}
}

func TestPoolOverflowTier(t *testing.T) {
	p, _ := newTestPool(t, 1, 1, time.Second)

	sidA := uuid.New()
	slotA, err := p.Acquire(context.Background(), sidA, "")
	if err != nil {
		t.Fatalf("Acquire A: %v", err)
	}
	if slotA.Tier != TierShared {
		t.Fatalf("expected first slot to be shared tier, got %s", slotA.Tier)
	}

	sidB := uuid.New()
	slotB, err := p.Acquire(context.Background(), sidB, "")
	if err != nil {
		t.Fatalf("Acquire B: %v", err)
	}
	if slotB.Tier != TierOverflow {
		t.Fatalf("expected second slot to be overflow tier, got %s", slotB.Tier)
	}
}

func TestPoolWarmDedicatedIsTriedBeforeShared(t *testing.T) {
	p, built := newTestPoolWithDedicated(t, 1, 1, 0, time.Second)
	p.WarmDedicated(context.Background(), "")

	snap := p.Snapshot()
	if snap.Dedicated != 1 {
		t.Fatalf("expected 1 warmed dedicated slot, got %d", snap.Dedicated)
	}
	if *built != 1 {
		t.Fatalf("expected exactly 1 engine built by warm-up, got %d", *built)
	}

	sid := uuid.New()
	slot, err := p.Acquire(context.Background(), sid, "")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if slot.Tier != TierDedicated {
		t.Fatalf("expected the warmed dedicated slot to be acquired first, got tier %s", slot.Tier)
	}
	if *built != 1 {
		t.Fatalf("expected no new engine built, dedicated slot should have been reused, got %d built", *built)
	}

	p.Release(sid)
	snap = p.Snapshot()
	if snap.Dedicated != 1 {
		t.Fatalf("expected dedicated slot count to survive release, got %d", snap.Dedicated)
	}

	sid2 := uuid.New()
	slot2, err := p.Acquire(context.Background(), sid2, "")
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if slot2.Tier != TierDedicated {
		t.Fatalf("expected the released dedicated slot to be reacquired first, got tier %s", slot2.Tier)
	}
}
