package raftlog

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFSM records every applied log's bytes, standing in for pkg/sink.Sink.
type fakeFSM struct {
	applied [][]byte
}

func (f *fakeFSM) Apply(log *raft.Log) interface{} {
	f.applied = append(f.applied, log.Data)
	return nil
}

func (f *fakeFSM) Snapshot() (raft.FSMSnapshot, error) { return &fakeSnapshot{}, nil }
func (f *fakeFSM) Restore(rc io.ReadCloser) error       { return rc.Close() }

type fakeSnapshot struct{}

func (s *fakeSnapshot) Persist(sink raft.SnapshotSink) error { return sink.Close() }
func (s *fakeSnapshot) Release()                             {}

func freePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().String()
}

func TestBootstrap_SingleNodeBecomesLeader(t *testing.T) {
	fsm := &fakeFSM{}
	j, err := Open(&Config{NodeID: "n1", BindAddr: freePort(t), DataDir: t.TempDir()}, fsm)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Shutdown() })

	require.NoError(t, j.Bootstrap())

	require.Eventually(t, j.IsLeader, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, j.cfg.BindAddr, j.LeaderAddr())
}

func TestProduce_AppliesToFSM(t *testing.T) {
	fsm := &fakeFSM{}
	j, err := Open(&Config{NodeID: "n1", BindAddr: freePort(t), DataDir: t.TempDir()}, fsm)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Shutdown() })
	require.NoError(t, j.Bootstrap())
	require.Eventually(t, j.IsLeader, 2*time.Second, 10*time.Millisecond)

	_, err = j.Produce([]byte("record-1"), time.Second)
	require.NoError(t, err)

	require.Len(t, fsm.applied, 1)
	assert.Equal(t, "record-1", string(fsm.applied[0]))
}

func TestProduce_FailsOnNonLeader(t *testing.T) {
	fsm := &fakeFSM{}
	j, err := Open(&Config{NodeID: "n1", BindAddr: freePort(t), DataDir: t.TempDir()}, fsm)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Shutdown() })

	assert.False(t, j.IsLeader())
	_, err = j.Produce([]byte("x"), 200*time.Millisecond)
	assert.Error(t, err)
}

func TestStats_ReportsState(t *testing.T) {
	fsm := &fakeFSM{}
	j, err := Open(&Config{NodeID: "n1", BindAddr: freePort(t), DataDir: t.TempDir()}, fsm)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Shutdown() })
	require.NoError(t, j.Bootstrap())

	stats := j.Stats()
	assert.Contains(t, stats, "state")
	assert.Contains(t, stats, "last_index")
}
