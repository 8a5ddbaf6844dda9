// Package core wires every subsystem together into one running node:
// storage, the raft-backed journal, the leader-forwarding RPC, the
// Coordinator, Submitter, Facade, and Sink, exposing Bootstrap/Join/Shutdown
// as the node's whole lifecycle.
package core

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"

	"github.com/cuemby/curator/journal/codec"
	"github.com/cuemby/curator/journal/forward"
	"github.com/cuemby/curator/journal/raftlog"
	"github.com/cuemby/curator/pkg/coordinator"
	"github.com/cuemby/curator/pkg/events"
	"github.com/cuemby/curator/pkg/facade"
	"github.com/cuemby/curator/pkg/health"
	"github.com/cuemby/curator/pkg/log"
	"github.com/cuemby/curator/pkg/rules"
	"github.com/cuemby/curator/pkg/sink"
	"github.com/cuemby/curator/pkg/storage"
	"github.com/cuemby/curator/pkg/submitter"
)

// Config configures a single Curator node.
type Config struct {
	NodeID   string
	BindAddr string // raft transport address
	GRPCAddr string // leader-forwarding RPC address
	DataDir  string

	CoordinatorWait time.Duration // default 30s
	ApplyTimeout    time.Duration // default 5s

	Evaluator rules.Evaluator // optional; defaults to NoopEvaluator
}

// Core owns every subsystem of one node.
type Core struct {
	cfg *Config

	store   *storage.BoltStore
	journal *raftlog.Journal
	sink    *sink.Sink
	coord   *coordinator.Coordinator
	sub     *submitter.Submitter
	Facade  *facade.Facade
	broker  *events.Broker
	Health  *health.Tracker

	grpcServer *grpc.Server

	bootstrapID string
}

// New constructs every subsystem but does not bootstrap or join a raft
// group, start the forwarding RPC server, or submit the startup Bootstrap
// record — call Bootstrap or Join next. Opening the journal does bind the
// raft transport on BindAddr.
func New(cfg *Config) (*Core, error) {
	if cfg.CoordinatorWait <= 0 {
		cfg.CoordinatorWait = 30 * time.Second
	}
	if cfg.ApplyTimeout <= 0 {
		cfg.ApplyTimeout = 5 * time.Second
	}
	evaluator := cfg.Evaluator
	if evaluator == nil {
		evaluator = rules.NoopEvaluator{}
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	broker := events.NewBroker()
	broker.Start()
	tracker := health.NewTracker()
	coord := coordinator.New(cfg.CoordinatorWait)

	c := &Core{
		cfg:         cfg,
		store:       store,
		coord:       coord,
		broker:      broker,
		Health:      tracker,
		bootstrapID: uuid.NewString(),
	}

	f := facade.New(store, nil, evaluator, cfg.CoordinatorWait)
	s := sink.New(f, store, coord, tracker, broker, c.bootstrapID)

	journal, err := raftlog.Open(&raftlog.Config{NodeID: cfg.NodeID, BindAddr: cfg.BindAddr, DataDir: cfg.DataDir}, s)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open journal: %w", err)
	}

	sub := submitter.New(journal, coord, cfg.ApplyTimeout)
	// The facade needs the submitter, but the sink needs the facade, and the
	// submitter needs the journal, which needs the sink as its FSM: break
	// the cycle by constructing the facade with a nil submitter above and
	// patching it in once the submitter exists.
	f.SetSubmitter(sub)

	c.store = store
	c.journal = journal
	c.sink = s
	c.sub = sub
	c.Facade = f

	return c, nil
}

// Bootstrap forms a brand-new single-node cluster and submits this node's
// own Bootstrap sentinel: the node only becomes ready once it observes
// that sentinel applied, which — since it bootstrapped the whole log
// itself — happens immediately.
func (c *Core) Bootstrap() error {
	if err := c.journal.Bootstrap(); err != nil {
		return fmt.Errorf("bootstrap raft cluster: %w", err)
	}
	return c.submitOwnBootstrap()
}

// Join waits for this node's own Bootstrap sentinel to drain the replicated
// log after an operator has already called AddVoter on the current leader
// to admit this node. AddVoter must run on the leader itself; forwarding it
// through the Propose RPC the Submitter uses would need a dedicated message
// type, so membership changes are driven by an operator calling AddVoter
// directly against the leader's Core rather than through this method.
func (c *Core) Join() error {
	return c.submitOwnBootstrap()
}

// AddVoter adds a peer to the raft group. Only the leader may call this.
func (c *Core) AddVoter(nodeID, addr string) error {
	return c.journal.AddVoter(nodeID, addr)
}

func (c *Core) submitOwnBootstrap() error {
	env := codec.NewBootstrap(c.bootstrapID)
	data, err := codec.Encode(env)
	if err != nil {
		return fmt.Errorf("encode bootstrap sentinel: %w", err)
	}
	c.coord.Register(c.bootstrapID)
	if _, err := c.journal.Produce(data, c.cfg.ApplyTimeout); err != nil {
		c.coord.Unregister(c.bootstrapID)
		return fmt.Errorf("produce bootstrap sentinel: %w", err)
	}
	_, err = c.coord.Wait(context.Background(), c.bootstrapID, c.cfg.CoordinatorWait)
	return err
}

// ServeForward starts the leader-forwarding gRPC server. It runs until
// Shutdown stops it.
func (c *Core) ServeForward() error {
	lis, err := net.Listen("tcp", c.cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", c.cfg.GRPCAddr, err)
	}
	c.grpcServer = grpc.NewServer()
	c.grpcServer.RegisterService(&forward.ServiceDesc, forward.NewServer(c.journal, c.cfg.ApplyTimeout))

	log.WithComponent("core").Info().Str("addr", c.cfg.GRPCAddr).Msg("forwarding rpc listening")
	return c.grpcServer.Serve(lis)
}

// Events returns the StorageEvent broker for subscribers (e.g. the REST
// layer's readiness webhook or an operator CLI watching for READY).
func (c *Core) Events() *events.Broker { return c.broker }

// Stats reports the underlying raft group's state, for a /debug endpoint.
func (c *Core) Stats() map[string]string { return c.journal.Stats() }

// IsLeader reports whether this node is the current raft leader.
func (c *Core) IsLeader() bool { return c.journal.IsLeader() }

// LeaderAddr reports the raft bind address of the current leader.
func (c *Core) LeaderAddr() string { return c.journal.LeaderAddr() }

// Shutdown stops every subsystem in reverse dependency order.
func (c *Core) Shutdown() error {
	c.Health.Stop()
	if c.grpcServer != nil {
		c.grpcServer.GracefulStop()
	}
	c.coord.Shutdown()
	if err := c.sub.Close(); err != nil {
		log.Errorf("closing submitter forwarding connections: %v", err)
	}
	c.broker.Stop()
	if err := c.journal.Shutdown(); err != nil {
		return fmt.Errorf("shutdown journal: %w", err)
	}
	if err := c.store.Close(); err != nil {
		return fmt.Errorf("close storage: %w", err)
	}
	return nil
}
