// Package sink implements per-record dispatch as a raft.FSM: it is the one
// place every node's journal entries are applied, in log order, on every
// replica. Decoding and op-switch dispatch delegate into the Local Store
// Facade's ApplyLocally, with an added idempotence and readiness policy so
// a node only reports ready once it has observed its own state fully
// caught up.
package sink

import (
	"bytes"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/hashicorp/raft"

	"github.com/cuemby/curator/journal/codec"
	"github.com/cuemby/curator/pkg/coordinator"
	"github.com/cuemby/curator/pkg/curatorerr"
	"github.com/cuemby/curator/pkg/events"
	"github.com/cuemby/curator/pkg/health"
	clog "github.com/cuemby/curator/pkg/log"
	"github.com/cuemby/curator/pkg/metrics"
)

// Applier is the Local Store Facade's apply-mode entry point.
type Applier interface {
	ApplyLocally(env *codec.Envelope) (interface{}, error)
}

// Backer is the storage layer's whole-state snapshot/restore surface.
type Backer interface {
	Backup(w io.Writer) error
	Restore(r io.Reader) error
}

// Completer is the Coordinator's slot-fulfillment surface.
type Completer interface {
	Complete(uuid string, value interface{}, err error)
}

// Sink is the raft.FSM every node's raft.Raft instance applies committed
// journal records to.
type Sink struct {
	applier     Applier
	backer      Backer
	coord       Completer
	health      *health.Tracker
	broker      *events.Broker
	bootstrapID string

	ready atomic.Bool
	fatal atomic.Bool
}

// New builds a Sink. bootstrapID is the UUID this node's own Bootstrap
// record will carry; readiness flips only when that exact record is
// observed applied.
func New(applier Applier, backer Backer, coord Completer, tracker *health.Tracker, broker *events.Broker, bootstrapID string) *Sink {
	return &Sink{applier: applier, backer: backer, coord: coord, health: tracker, broker: broker, bootstrapID: bootstrapID}
}

// Ready reports whether this node has observed its own Bootstrap sentinel.
func (s *Sink) Ready() bool { return s.ready.Load() }

// Apply implements raft.FSM. It is invoked once per committed log entry, in
// order, on every node in the raft group.
func (s *Sink) Apply(log *raft.Log) interface{} {
	if s.fatal.Load() {
		return curatorerr.New(curatorerr.Fatal, "consumer loop stopped after a prior fatal apply error")
	}

	env, err := codec.Decode(log.Data)
	if err != nil {
		// A malformed record is logged and skipped, not fatal: a decode
		// failure here would mean a bug in a peer's Submitter, not a
		// problem with this node's own state.
		clog.WithComponent("sink").Warn().Err(err).Uint64("index", log.Index).Msg("skipping undecodable journal record")
		return nil
	}

	if env.IsBootstrap() {
		return s.applyBootstrap(env)
	}
	if env.IsTombstone() {
		return nil
	}

	timer := metrics.NewTimer()
	result, applyErr := s.applier.ApplyLocally(env)
	timer.ObserveDurationVec(metrics.ApplyDuration, string(env.Key.MessageType))

	if applyErr != nil {
		kind, _ := curatorerr.KindOf(applyErr)
		if !s.Ready() && (kind == curatorerr.AlreadyExists || kind == curatorerr.NotFound) {
			// Replaying history before this node is ready: the target
			// state this message describes may already exist because an
			// earlier message (or a snapshot) already produced it.
			// Non-fatal only during the bootstrap replay window.
			applyErr = nil
		}
	}

	if applyErr != nil {
		metrics.ApplyErrorsTotal.WithLabelValues(string(env.Key.MessageType), string(kindOrUnknown(applyErr))).Inc()
		if curatorerr.Is(applyErr, curatorerr.Fatal) {
			s.fatal.Store(true)
			s.health.MarkFatal()
		}
	}

	s.health.Heartbeat()
	s.coord.Complete(env.Key.UUID, result, applyErr)
	return applyErr
}

func (s *Sink) applyBootstrap(env *codec.Envelope) interface{} {
	s.health.Heartbeat()
	if env.Key.UUID == s.bootstrapID {
		timer := metrics.NewTimer()
		s.ready.Store(true)
		s.health.SetReady(true)
		timer.ObserveDuration(metrics.BootstrapDuration)
		if s.broker != nil {
			s.broker.PublishReady()
		}
	}
	s.coord.Complete(env.Key.UUID, nil, nil)
	return nil
}

func kindOrUnknown(err error) curatorerr.Kind {
	if k, ok := curatorerr.KindOf(err); ok {
		return k
	}
	return "UNKNOWN"
}

// --- raft.FSMSnapshot plumbing ---

type boltSnapshot struct {
	data []byte
}

func (b *boltSnapshot) Persist(sink raft.SnapshotSink) error {
	if _, err := sink.Write(b.data); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (b *boltSnapshot) Release() {}

// Snapshot captures the full state file as of now, buffered in memory, for
// raft to persist asynchronously.
func (s *Sink) Snapshot() (raft.FSMSnapshot, error) {
	var buf bytes.Buffer
	if err := s.backer.Backup(&buf); err != nil {
		return nil, fmt.Errorf("backup state for snapshot: %w", err)
	}
	return &boltSnapshot{data: buf.Bytes()}, nil
}

// Restore replaces local state with a previously captured snapshot, used
// when a node joins and needs to catch up beyond the log's retained tail.
func (s *Sink) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	return s.backer.Restore(rc)
}
