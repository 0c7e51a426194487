// Package enginepool implements the bounded, tiered STT/TTS engine
// pools spec §4.1 describes. It generalizes the teacher's single
// reflective "just construct an SDK client" pattern into an explicit
// pool with dedicated/shared/overflow tiers, a FIFO waiter queue, a
// warm "prepared voices" cache, and periodic health-check-triggered
// discard-and-rebuild.
package enginepool

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xpanvictor/voxgate/internal/apperr"
	"github.com/xpanvictor/voxgate/internal/config"
	"github.com/xpanvictor/voxgate/pkg/Logger"
)

// Tier names the slot's provenance, surfaced in metrics/logging.
type Tier string

const (
	TierDedicated Tier = "dedicated"
	TierShared    Tier = "shared"
	TierOverflow  Tier = "overflow"
)

// Engine is the minimal capability every pooled engine (STT recognizer
// or TTS synthesizer adapter) must provide so the pool can manage its
// lifecycle without knowing the concrete SDK type.
type Engine interface {
	Close() error
	Healthy(ctx context.Context) bool
}

// Factory constructs a fresh engine instance, optionally warmed for a
// specific voice/model key (empty key = default).
type Factory[T Engine] func(ctx context.Context, voiceKey string) (T, error)

// Slot is a leased or idle engine handle.
type Slot[T Engine] struct {
	Engine    T
	Tier      Tier
	VoiceKey  string
	sessionID uuid.UUID
	leasedAt  time.Time
}

type waiter[T Engine] struct {
	ch     chan *Slot[T]
	voice  string
	sessID uuid.UUID
}

// Pool manages a bounded set of engines across three tiers. Dedicated
// slots are prebuilt by WarmDedicated and kept at the front of the idle
// list; shared slots are built on demand up to SharedSlots, and
// overflow slots above that, up to OverflowSlots. Whatever its tier, a
// slot is leased to one session until Release returns it to the idle
// list. Engines leave the pool only through the health-check sweep;
// overflow slots are not discarded when load subsides.
type Pool[T Engine] struct {
	cfg     config.EnginePoolConfig
	factory Factory[T]
	logger  *Logger.Logger
	name    string

	mu sync.Mutex

	leased  map[uuid.UUID]*Slot[T] // sessionID -> currently-leased slot of any tier (supports re-entrant acquisition)
	idle    *list.List             // FIFO of *Slot[T]; dedicated-tier slots sit at the front so popIdleLocked tries them first
	waiters *list.List             // FIFO of *waiter[T]

	builtDedicated int
	builtShared    int
	builtOverflow  int

	preparedVoices map[string]T

	// onDiscard, if set via SetDiscardHook, is called after a health
	// check discards an unhealthy idle engine so the caller can
	// enqueue a background rebuild (e.g. via RetryScheduler) instead
	// of leaving the slot empty until the next live Acquire.
	onDiscard func(voiceKey string)
}

// New builds an empty Pool; engines are constructed lazily on first
// acquisition (and eagerly via WarmVoice).
func New[T Engine](name string, cfg config.EnginePoolConfig, factory Factory[T], logger *Logger.Logger) *Pool[T] {
	return &Pool[T]{
		cfg:            cfg,
		factory:        factory,
		logger:         logger,
		name:           name,
		leased:         make(map[uuid.UUID]*Slot[T]),
		idle:           list.New(),
		waiters:        list.New(),
		preparedVoices: make(map[string]T),
	}
}

// WarmDedicated eagerly builds up to cfg.DedicatedSlots engines into
// the dedicated tier so the "first try dedicated slots (preallocated,
// warm)" acquisition order spec §4.1 describes finds a ready engine
// instead of paying the shared/overflow tiers' on-demand cold-start
// cost. It is idempotent: calling it again after slots have already
// been discarded by a health check tops the tier back up.
func (p *Pool[T]) WarmDedicated(ctx context.Context, voiceKey string) {
	for {
		p.mu.Lock()
		if p.builtDedicated >= p.cfg.DedicatedSlots {
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		eng, err := p.buildOrReuseWarm(ctx, voiceKey)
		if err != nil {
			p.logger.Warnw("dedicated engine warm-up failed, continuing with fewer dedicated slots", "pool", p.name, "voice", voiceKey, "err", err)
			return
		}
		p.mu.Lock()
		p.builtDedicated++
		p.idle.PushFront(&Slot[T]{Engine: eng, Tier: TierDedicated, VoiceKey: voiceKey})
		p.mu.Unlock()
	}
}

// SetDiscardHook registers fn to run (voiceKey in hand) whenever a
// health-check sweep discards an unhealthy idle engine. Used to wire
// RetryScheduler.ScheduleWarmRebuild without the pool needing to know
// about asynq directly.
func (p *Pool[T]) SetDiscardHook(fn func(voiceKey string)) {
	p.mu.Lock()
	p.onDiscard = fn
	p.mu.Unlock()
}

// WarmVoice eagerly constructs and caches an engine for voiceKey so the
// first real acquisition doesn't pay provider cold-start latency. Per
// the spec's Open Question decision, this is best-effort: a failure is
// logged, not returned, since warm-up never blocks session start.
func (p *Pool[T]) WarmVoice(ctx context.Context, voiceKey string) {
	p.mu.Lock()
	if _, ok := p.preparedVoices[voiceKey]; ok {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	eng, err := p.factory(ctx, voiceKey)
	if err != nil {
		p.logger.Warnw("engine warm-up failed, continuing without cache", "pool", p.name, "voice", voiceKey, "err", err)
		return
	}
	p.mu.Lock()
	p.preparedVoices[voiceKey] = eng
	p.mu.Unlock()
}

// Acquire leases an engine for sessionID. A session re-acquiring while
// it already holds a lease gets the same slot back (re-entrant).
// Otherwise it first tries a warm dedicated-tier slot, then any idle
// shared/overflow slot, then builds fresh shared/overflow capacity;
// popIdleLocked finds dedicated slots before shared/overflow ones
// because WarmDedicated and Release both push them to the front of
// the same idle list, so one FIFO scan gives the spec's tier order
// for free. When no idle or buildable capacity exists, the caller
// waits on a FIFO queue until cfg.AcquireTimeout elapses or ctx is
// canceled, whichever comes first, and then receives an
// apperr.Capacity error.
func (p *Pool[T]) Acquire(ctx context.Context, sessionID uuid.UUID, voiceKey string) (*Slot[T], error) {
	p.mu.Lock()
	if slot, ok := p.leased[sessionID]; ok {
		p.mu.Unlock()
		return slot, nil
	}

	if el := p.popIdleLocked(voiceKey); el != nil {
		slot := el
		slot.sessionID = sessionID
		slot.leasedAt = time.Now()
		p.leased[sessionID] = slot
		p.mu.Unlock()
		return slot, nil
	}

	if p.builtShared < p.cfg.SharedSlots || p.builtOverflow < p.cfg.OverflowSlots {
		tier := TierShared
		if p.builtShared >= p.cfg.SharedSlots {
			tier = TierOverflow
		}
		p.mu.Unlock()
		eng, err := p.buildOrReuseWarm(ctx, voiceKey)
		if err != nil {
			return nil, apperr.Provider(p.name, err)
		}
		p.mu.Lock()
		if tier == TierShared {
			p.builtShared++
		} else {
			p.builtOverflow++
		}
		slot := &Slot[T]{Engine: eng, Tier: tier, VoiceKey: voiceKey, sessionID: sessionID, leasedAt: time.Now()}
		p.leased[sessionID] = slot
		p.mu.Unlock()
		return slot, nil
	}

	// Capacity exhausted: enqueue as a FIFO waiter.
	w := &waiter[T]{ch: make(chan *Slot[T], 1), voice: voiceKey, sessID: sessionID}
	el := p.waiters.PushBack(w)
	p.mu.Unlock()

	timeout := p.cfg.AcquireTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case slot := <-w.ch:
		return slot, nil
	case <-timer.C:
		p.removeWaiter(el)
		return nil, apperr.Capacity(p.name, fmt.Errorf("no engine slot available for session %s within %s", sessionID, timeout))
	case <-ctx.Done():
		p.removeWaiter(el)
		return nil, apperr.Capacity(p.name, ctx.Err())
	}
}

func (p *Pool[T]) buildOrReuseWarm(ctx context.Context, voiceKey string) (T, error) {
	p.mu.Lock()
	if eng, ok := p.preparedVoices[voiceKey]; ok {
		delete(p.preparedVoices, voiceKey)
		p.mu.Unlock()
		return eng, nil
	}
	p.mu.Unlock()
	return p.factory(ctx, voiceKey)
}

func (p *Pool[T]) popIdleLocked(voiceKey string) *Slot[T] {
	for el := p.idle.Front(); el != nil; el = el.Next() {
		slot := el.Value.(*Slot[T])
		if slot.VoiceKey == voiceKey {
			p.idle.Remove(el)
			return slot
		}
	}
	return nil
}

func (p *Pool[T]) removeWaiter(target *list.Element) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for el := p.waiters.Front(); el != nil; el = el.Next() {
		if el == target {
			p.waiters.Remove(el)
			return
		}
	}
}

// Release returns a leased slot of any tier for sessionID to the idle
// pool, or hands it directly to the oldest waiter if one is queued. A
// returned dedicated-tier slot goes back to the front of the idle
// list so the next Acquire still finds it before a shared/overflow
// slot, matching the tier's "always tried first" semantics.
func (p *Pool[T]) Release(sessionID uuid.UUID) {
	p.mu.Lock()
	slot, ok := p.leased[sessionID]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.leased, sessionID)

	if el := p.waiters.Front(); el != nil {
		w := el.Value.(*waiter[T])
		p.waiters.Remove(el)
		slot.sessionID = w.sessID
		slot.leasedAt = time.Now()
		p.leased[w.sessID] = slot
		p.mu.Unlock()
		w.ch <- slot
		return
	}

	slot.sessionID = uuid.Nil
	if slot.Tier == TierDedicated {
		p.idle.PushFront(slot)
	} else {
		p.idle.PushBack(slot)
	}
	p.mu.Unlock()
}

// RunHealthChecks should be run in its own goroutine; it periodically
// probes idle slots and discards-and-rebuilds any that fail, per
// spec §4.1's health-check-triggered discard policy.
func (p *Pool[T]) RunHealthChecks(ctx context.Context) {
	interval := p.cfg.HealthInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweepIdle(ctx)
		}
	}
}

func (p *Pool[T]) sweepIdle(ctx context.Context) {
	p.mu.Lock()
	var bad []*list.Element
	for el := p.idle.Front(); el != nil; el = el.Next() {
		slot := el.Value.(*Slot[T])
		if !slot.Engine.Healthy(ctx) {
			bad = append(bad, el)
		}
	}
	for _, el := range bad {
		p.idle.Remove(el)
		switch el.Value.(*Slot[T]).Tier {
		case TierDedicated:
			if p.builtDedicated > 0 {
				p.builtDedicated--
			}
		case TierShared:
			if p.builtShared > 0 {
				p.builtShared--
			}
		default:
			if p.builtOverflow > 0 {
				p.builtOverflow--
			}
		}
	}
	hook := p.onDiscard
	p.mu.Unlock()

	for _, el := range bad {
		slot := el.Value.(*Slot[T])
		_ = slot.Engine.Close()
		p.logger.Warnw("discarded unhealthy idle engine", "pool", p.name, "voice", slot.VoiceKey)
		if hook != nil {
			hook(slot.VoiceKey)
		}
	}
}

// Snapshot reports pool occupancy for diagnostics.
type Snapshot struct {
	Dedicated     int
	Leased        int
	Idle          int
	Waiters       int
	BuiltShared   int
	BuiltOverflow int
}

func (p *Pool[T]) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		Dedicated:     p.builtDedicated,
		Leased:        len(p.leased),
		Idle:          p.idle.Len(),
		Waiters:       p.waiters.Len(),
		BuiltShared:   p.builtShared,
		BuiltOverflow: p.builtOverflow,
	}
}
