// Package coordinator implements the UUID→result rendezvous every
// Submitter blocks on until its own journal record is applied. It is a
// sharded concurrent map (N independently locked shards rather than one
// global mutex) so the rendezvous itself never becomes a bottleneck under
// concurrent writers.
package coordinator

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/cuemby/curator/pkg/curatorerr"
	"github.com/cuemby/curator/pkg/metrics"
)

const (
	defaultShardCount = 32
	// graceWindow absorbs a duplicate completion delivery (e.g. the Sink
	// completing a slot the Consumer Loop also sees on a replay) without
	// racing a second Register for the same uuid.
	graceWindow = 2 * time.Second
)

type slot struct {
	once  sync.Once
	done  chan struct{}
	value interface{}
	err   error
}

type shard struct {
	mu    sync.Mutex
	slots map[string]*slot
}

// Coordinator is the shared rendezvous. A zero value is not usable; use New.
type Coordinator struct {
	shards      []*shard
	shutdown    atomicBool
	defaultWait time.Duration
}

// atomicBool is a flag guarded by an RWMutex, so concurrent readers do not
// block one another.
type atomicBool struct {
	mu sync.RWMutex
	v  bool
}

func (b *atomicBool) set(v bool) { b.mu.Lock(); b.v = v; b.mu.Unlock() }
func (b *atomicBool) get() bool  { b.mu.RLock(); defer b.mu.RUnlock(); return b.v }

// New creates a Coordinator with defaultWait used when Wait is called
// without an explicit per-call timeout (defaults to 30s).
func New(defaultWait time.Duration) *Coordinator {
	if defaultWait <= 0 {
		defaultWait = 30 * time.Second
	}
	shards := make([]*shard, defaultShardCount)
	for i := range shards {
		shards[i] = &shard{slots: make(map[string]*slot)}
	}
	return &Coordinator{shards: shards, defaultWait: defaultWait}
}

func (c *Coordinator) shardFor(uuid string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(uuid))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

// Register creates a pending slot for uuid. Must be called before the
// record is produced to the journal so a fast apply can never race ahead
// of Wait being called.
func (c *Coordinator) Register(uuid string) {
	sh := c.shardFor(uuid)
	sh.mu.Lock()
	sh.slots[uuid] = &slot{done: make(chan struct{})}
	sh.mu.Unlock()
	metrics.PendingSlots.Inc()
}

// Unregister removes a slot without completing it, used when the producer
// itself fails before the record ever reaches the journal.
func (c *Coordinator) Unregister(uuid string) {
	sh := c.shardFor(uuid)
	sh.mu.Lock()
	if _, ok := sh.slots[uuid]; ok {
		delete(sh.slots, uuid)
		metrics.PendingSlots.Dec()
	}
	sh.mu.Unlock()
}

// Wait blocks until uuid's slot is completed, ctx is done, or timeout
// elapses (0 means Coordinator's default). A Timeout error means the
// mutation's outcome is unknown — it may still apply later; the caller
// must not assume failure.
func (c *Coordinator) Wait(ctx context.Context, uuid string, timeout time.Duration) (interface{}, error) {
	if timeout <= 0 {
		timeout = c.defaultWait
	}
	sh := c.shardFor(uuid)
	sh.mu.Lock()
	s, ok := sh.slots[uuid]
	sh.mu.Unlock()
	if !ok {
		return nil, curatorerr.Newf(curatorerr.Fatal, "no pending slot for uuid %s", uuid)
	}

	timer := metrics.NewTimer()
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-s.done:
		if s.err != nil {
			timer.ObserveDurationVec(metrics.CoordinatorWaitDuration, "error")
			return nil, s.err
		}
		timer.ObserveDurationVec(metrics.CoordinatorWaitDuration, "ok")
		return s.value, nil
	case <-t.C:
		timer.ObserveDurationVec(metrics.CoordinatorWaitDuration, "timeout")
		return nil, curatorerr.New(curatorerr.Timeout, "coordinator wait exceeded timeout")
	case <-ctx.Done():
		timer.ObserveDurationVec(metrics.CoordinatorWaitDuration, "timeout")
		return nil, curatorerr.Wrap(curatorerr.Timeout, "coordinator wait cancelled", ctx.Err())
	}
}

// Complete fulfills uuid's slot with value or err, wakes any waiter, and
// schedules removal after a grace window so a duplicate completion (from a
// replayed record) finds no slot to double-close.
func (c *Coordinator) Complete(uuid string, value interface{}, err error) {
	sh := c.shardFor(uuid)
	sh.mu.Lock()
	s, ok := sh.slots[uuid]
	sh.mu.Unlock()
	if !ok {
		// No local waiter: this node didn't originate the message. Only the
		// local state mutation matters.
		return
	}

	s.once.Do(func() {
		s.value = value
		s.err = err
		close(s.done)

		time.AfterFunc(graceWindow, func() {
			sh.mu.Lock()
			delete(sh.slots, uuid)
			sh.mu.Unlock()
			metrics.PendingSlots.Dec()
		})
	})
}

// Shutdown fails every still-pending slot with Shutdown and prevents new
// registrations from being waited on meaningfully (callers should stop
// issuing Register after calling this).
func (c *Coordinator) Shutdown() {
	c.shutdown.set(true)
	for _, sh := range c.shards {
		sh.mu.Lock()
		for uuid, s := range sh.slots {
			s.once.Do(func() {
				s.err = curatorerr.New(curatorerr.Shutdown, "coordinator is shutting down")
				close(s.done)
			})
			_ = uuid
		}
		sh.mu.Unlock()
	}
}

// ShuttingDown reports whether Shutdown has been called.
func (c *Coordinator) ShuttingDown() bool { return c.shutdown.get() }
