// Package raftlog implements the replicated journal as a single
// hashicorp/raft group rather than a topic-partition broker: one total
// order, applied identically on every node, with the originating caller
// able to block on its own entry's commit. A raft group is one partition by
// construction, so every record is already totally ordered, not merely
// every record sharing a partition key.
package raftlog

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// FSM is what the journal applies committed entries to; pkg/sink.Sink
// satisfies it. It is an alias of raft.FSM, so raftlog never imports sink.
type FSM = raft.FSM

// Config configures a single node's raft-backed journal.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string

	HeartbeatTimeout   time.Duration
	ElectionTimeout    time.Duration
	CommitTimeout      time.Duration
	LeaderLeaseTimeout time.Duration
}

func (c *Config) withDefaults() *Config {
	cp := *c
	if cp.HeartbeatTimeout == 0 {
		cp.HeartbeatTimeout = 500 * time.Millisecond
	}
	if cp.ElectionTimeout == 0 {
		cp.ElectionTimeout = 500 * time.Millisecond
	}
	if cp.CommitTimeout == 0 {
		cp.CommitTimeout = 50 * time.Millisecond
	}
	if cp.LeaderLeaseTimeout == 0 {
		cp.LeaderLeaseTimeout = 250 * time.Millisecond
	}
	return &cp
}

// Journal wraps a *raft.Raft as the journal's producer/consumer substrate.
// Apply is the Submitter's produce path; the FSM passed at construction is
// the consume path (raft invokes FSM.Apply once per committed entry, in
// log order, on every node — consumption happens inline in raft's own
// apply goroutine rather than a separate consumer process).
type Journal struct {
	cfg   *Config
	raft  *raft.Raft
	store *raftboltdb.BoltStore
}

// Open creates the raft transport/log/stable/snapshot stores and the raft
// instance bound to fsm, but does not bootstrap or join a cluster.
func Open(cfg *Config, fsm FSM) (*Journal, error) {
	cfg = cfg.withDefaults()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)
	raftCfg.HeartbeatTimeout = cfg.HeartbeatTimeout
	raftCfg.ElectionTimeout = cfg.ElectionTimeout
	raftCfg.CommitTimeout = cfg.CommitTimeout
	raftCfg.LeaderLeaseTimeout = cfg.LeaderLeaseTimeout

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create raft transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "journal-log.db"))
	if err != nil {
		return nil, fmt.Errorf("create journal log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "journal-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("create journal stable store: %w", err)
	}

	r, err := raft.NewRaft(raftCfg, fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("create raft instance: %w", err)
	}

	return &Journal{cfg: cfg, raft: r, store: logStore}, nil
}

// Bootstrap forms a brand-new single-node cluster around this journal.
func (j *Journal) Bootstrap() error {
	configuration := raft.Configuration{
		Servers: []raft.Server{{ID: raft.ServerID(j.cfg.NodeID), Address: raft.ServerAddress(j.cfg.BindAddr)}},
	}
	return j.raft.BootstrapCluster(configuration).Error()
}

// AddVoter adds a peer to the raft group. Only the leader may call this.
func (j *Journal) AddVoter(nodeID, addr string) error {
	if !j.IsLeader() {
		return fmt.Errorf("not leader, current leader is %s", j.LeaderAddr())
	}
	return j.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(addr), 0, 10*time.Second).Error()
}

// Produce submits a record to the journal. It blocks until the record is
// committed (applied to the local FSM on the leader) and returns the FSM's
// return value so callers can detect apply-time errors without a second
// round trip. Only the leader can Produce; non-leader callers should
// forward through journal/forward.
func (j *Journal) Produce(data []byte, timeout time.Duration) (interface{}, error) {
	future := j.raft.Apply(data, timeout)
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("raft apply: %w", err)
	}
	return future.Response(), nil
}

func (j *Journal) IsLeader() bool {
	return j.raft.State() == raft.Leader
}

func (j *Journal) LeaderAddr() string {
	return string(j.raft.Leader())
}

func (j *Journal) Stats() map[string]string {
	return map[string]string{
		"state":        j.raft.State().String(),
		"leader":       j.LeaderAddr(),
		"last_index":   fmt.Sprintf("%d", j.raft.LastIndex()),
		"applied_index": fmt.Sprintf("%d", j.raft.AppliedIndex()),
	}
}

// Shutdown stops the raft instance.
func (j *Journal) Shutdown() error {
	return j.raft.Shutdown().Error()
}
