package submitter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/curator/journal/codec"
	"github.com/cuemby/curator/pkg/coordinator"
	"github.com/cuemby/curator/pkg/curatorerr"
)

type fakeJournal struct {
	leader     bool
	leaderAddr string
	produceErr error
	produced   [][]byte
}

func (f *fakeJournal) Produce(data []byte, timeout time.Duration) (interface{}, error) {
	f.produced = append(f.produced, data)
	if f.produceErr != nil {
		return nil, f.produceErr
	}
	return nil, nil
}

func (f *fakeJournal) IsLeader() bool      { return f.leader }
func (f *fakeJournal) LeaderAddr() string  { return f.leaderAddr }

func TestSubmit_LeaderProducesLocallyAndRegistersBeforeProduce(t *testing.T) {
	coord := coordinator.New(time.Second)
	j := &fakeJournal{leader: true}
	s := New(j, coord, time.Second)

	id, err := s.Submit(context.Background(), codec.CreateGroup, map[string]string{"groupId": "g1"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Len(t, j.produced, 1)

	// the slot must already be registered, so a completion now finds it
	coord.Complete(id, "applied", nil)
	v, err := coord.Wait(context.Background(), id, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "applied", v)
}

func TestSubmit_ProducerFailureUnregistersSlot(t *testing.T) {
	coord := coordinator.New(time.Second)
	j := &fakeJournal{leader: true, produceErr: errors.New("raft apply failed")}
	s := New(j, coord, time.Second)

	id, err := s.Submit(context.Background(), codec.CreateGroup, map[string]string{"groupId": "g1"})
	require.Error(t, err)
	assert.Empty(t, id)
	kind, ok := curatorerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, curatorerr.StorageUnavailable, kind)
}

func TestSubmit_NonLeaderWithoutKnownLeaderFails(t *testing.T) {
	coord := coordinator.New(time.Second)
	j := &fakeJournal{leader: false, leaderAddr: ""}
	s := New(j, coord, time.Second)

	_, err := s.Submit(context.Background(), codec.CreateGroup, map[string]string{"groupId": "g1"})
	require.Error(t, err)
	kind, ok := curatorerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, curatorerr.StorageUnavailable, kind)
}

func TestPartitionKey(t *testing.T) {
	assert.Equal(t, "tenant-a|global", PartitionKey("tenant-a", "", ""))
	assert.Equal(t, "tenant-a|g1|art1", PartitionKey("tenant-a", "g1", "art1"))
}

func TestExecute_WaitsForCompletion(t *testing.T) {
	coord := coordinator.New(time.Second)
	j := &fakeJournal{leader: true}
	s := New(j, coord, time.Second)

	var submittedID string
	done := make(chan struct{})
	go func() {
		for submittedID == "" {
			time.Sleep(time.Millisecond)
		}
		coord.Complete(submittedID, "done", nil)
		close(done)
	}()

	id, err := s.Submit(context.Background(), codec.CreateGroup, map[string]string{"groupId": "g1"})
	require.NoError(t, err)
	submittedID = id

	v, err := coord.Wait(context.Background(), id, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "done", v)
	<-done
}
