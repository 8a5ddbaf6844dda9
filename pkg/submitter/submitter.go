// Package submitter drives the write path on the submitting side: it
// generates a correlation UUID, registers a Coordinator slot before
// producing, encodes the message through the journal codec, and hands it
// to the journal — locally if this node is the raft leader, forwarded to
// the leader otherwise. Registering the Coordinator slot before producing
// closes the race where the record could be applied before anything is
// listening for its result.
package submitter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cuemby/curator/journal/codec"
	"github.com/cuemby/curator/journal/forward"
	"github.com/cuemby/curator/pkg/coordinator"
	"github.com/cuemby/curator/pkg/curatorerr"
	"github.com/cuemby/curator/pkg/metrics"
)

// Journal is the local production/leadership surface a Submitter needs.
type Journal interface {
	Produce(data []byte, timeout time.Duration) (interface{}, error)
	IsLeader() bool
	LeaderAddr() string
}

// Submitter produces journal records and blocks the caller on their
// application via the Coordinator.
type Submitter struct {
	journal      Journal
	coord        *coordinator.Coordinator
	applyTimeout time.Duration

	mu       sync.Mutex
	forwards map[string]*forward.Client
}

// New creates a Submitter over journal, completing Coordinator slots
// populated by the Sink on this same node.
func New(journal Journal, coord *coordinator.Coordinator, applyTimeout time.Duration) *Submitter {
	if applyTimeout <= 0 {
		applyTimeout = 5 * time.Second
	}
	return &Submitter{journal: journal, coord: coord, applyTimeout: applyTimeout, forwards: make(map[string]*forward.Client)}
}

// PartitionKey computes the routing key used for per-artifact ordering:
// tenant|groupId|artifactId for artifact-scoped mutations, tenant|global
// otherwise. The journal backend here is a single raft group (one
// partition by construction) so every record is already totally
// ordered; Submit does not compute a PartitionKey or attach one to
// records, metrics or logs.
func PartitionKey(tenantID, groupID, artifactID string) string {
	if groupID == "" && artifactID == "" {
		return tenantID + "|global"
	}
	return fmt.Sprintf("%s|%s|%s", tenantID, groupID, artifactID)
}

// Submit encodes payload as messageType, registers a Coordinator slot for
// the generated UUID, and produces the record. Submit does not wait for
// application; call Wait (or use Execute) for that.
func (s *Submitter) Submit(ctx context.Context, messageType codec.MessageType, payload interface{}) (string, error) {
	id := uuid.NewString()

	env, err := codec.New(messageType, id, payload)
	if err != nil {
		return "", curatorerr.Wrap(curatorerr.Fatal, "encode journal record", err)
	}
	data, err := codec.Encode(env)
	if err != nil {
		return "", curatorerr.Wrap(curatorerr.Fatal, "encode journal record", err)
	}

	s.coord.Register(id)

	timer := metrics.NewTimer()
	if err := s.produce(ctx, data); err != nil {
		s.coord.Unregister(id)
		return "", curatorerr.Wrap(curatorerr.StorageUnavailable, "produce journal record", err)
	}
	timer.ObserveDuration(metrics.SubmitDuration)

	return id, nil
}

// Execute submits payload and blocks on its application, returning the
// Sink's result or propagating its error.
func (s *Submitter) Execute(ctx context.Context, messageType codec.MessageType, payload interface{}, timeout time.Duration) (interface{}, error) {
	id, err := s.Submit(ctx, messageType, payload)
	if err != nil {
		return nil, err
	}
	return s.coord.Wait(ctx, id, timeout)
}

func (s *Submitter) produce(ctx context.Context, data []byte) error {
	if s.journal.IsLeader() {
		// An apply-time error in the FSM response is not a producer
		// failure: the Sink has already completed this record's
		// Coordinator slot with it, and Wait hands it to the caller.
		_, err := s.journal.Produce(data, s.applyTimeout)
		return err
	}

	leaderAddr := s.journal.LeaderAddr()
	if leaderAddr == "" {
		return curatorerr.New(curatorerr.StorageUnavailable, "no known raft leader")
	}
	client, err := s.forwardClient(leaderAddr)
	if err != nil {
		return err
	}
	// Aborted means the leader applied the record and its Sink returned an
	// error; this node's Sink completes the slot with the same error.
	if err := client.Propose(ctx, data); err != nil && status.Code(err) != codes.Aborted {
		return err
	}
	return nil
}

func (s *Submitter) forwardClient(addr string) (*forward.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.forwards[addr]; ok {
		return c, nil
	}
	c, err := forward.Dial(addr)
	if err != nil {
		return nil, err
	}
	s.forwards[addr] = c
	return c, nil
}

// Close releases any cached forwarding connections.
func (s *Submitter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, c := range s.forwards {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
