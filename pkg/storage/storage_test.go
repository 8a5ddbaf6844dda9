package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/cuemby/curator/pkg/curatorerr"
	"github.com/cuemby/curator/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutContent_DedupByHash(t *testing.T) {
	s := newTestStore(t)

	id1, wasNew1, err := s.PutContent("t1", []byte(`{"type":"record"}`), "AVRO", nil)
	require.NoError(t, err)
	assert.True(t, wasNew1)

	id2, wasNew2, err := s.PutContent("t1", []byte(`{"type":"record"}`), "AVRO", nil)
	require.NoError(t, err)
	assert.False(t, wasNew2)
	assert.Equal(t, id1, id2)
}

func TestPutContent_ScopedPerTenant(t *testing.T) {
	s := newTestStore(t)

	id1, _, err := s.PutContent("tenant-a", []byte("same bytes"), "JSON", nil)
	require.NoError(t, err)
	id2, wasNew, err := s.PutContent("tenant-b", []byte("same bytes"), "JSON", nil)
	require.NoError(t, err)
	assert.True(t, wasNew)
	assert.Equal(t, id1+1, id2, "content counter is cluster-wide, so tenant-b's independent row takes the next id")

	c1, err := s.GetContentByHash("tenant-a", hashOf(t, "same bytes"))
	require.NoError(t, err)
	c2, err := s.GetContentByHash("tenant-b", hashOf(t, "same bytes"))
	require.NoError(t, err)
	assert.Equal(t, c1.ContentID+1, c2.ContentID)
}

func hashOf(t *testing.T, s string) string {
	t.Helper()
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestNextGlobalID_StrictlyIncreasing(t *testing.T) {
	s := newTestStore(t)

	var last int64
	for i := 0; i < 50; i++ {
		id, err := s.NextGlobalID()
		require.NoError(t, err)
		assert.Greater(t, id, last)
		last = id
	}
}

func TestResetGlobalID_ScansToMaxPlusOne(t *testing.T) {
	s := newTestStore(t)

	createArtifactWithVersion(t, s, "t1", "g1", "a1", "1.0", 100)

	require.NoError(t, s.ResetGlobalID())
	next, err := s.NextGlobalID()
	require.NoError(t, err)
	assert.Equal(t, int64(101), next)
}

func TestReserveGlobalID_RejectsAlreadyIssued(t *testing.T) {
	s := newTestStore(t)

	id, err := s.NextGlobalID()
	require.NoError(t, err)

	err = s.ReserveGlobalID(id)
	require.Error(t, err)
	kind, ok := curatorerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, curatorerr.Conflict, kind)

	require.NoError(t, s.ReserveGlobalID(id+10))
	next, err := s.NextGlobalID()
	require.NoError(t, err)
	assert.Equal(t, id+11, next)
}

func TestCreateArtifact_LazilyCreatesGroup(t *testing.T) {
	s := newTestStore(t)

	err := s.CreateArtifact(&types.Artifact{TenantID: "t1", GroupID: "g1", ArtifactID: "a1", Type: "AVRO", CreatedOn: time.Now()})
	require.NoError(t, err)

	_, err = s.GetGroup("t1", "g1")
	require.NoError(t, err)
}

func TestCreateArtifact_DuplicateCoordinatesRejected(t *testing.T) {
	s := newTestStore(t)

	a := &types.Artifact{TenantID: "t1", GroupID: "g1", ArtifactID: "a1", Type: "AVRO", CreatedOn: time.Now()}
	require.NoError(t, s.CreateArtifact(a))

	err := s.CreateArtifact(a)
	require.Error(t, err)
	kind, _ := curatorerr.KindOf(err)
	assert.Equal(t, curatorerr.AlreadyExists, kind)
}

func TestDeleteArtifact_CascadesVersionsAndOrphanedContent(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.CreateArtifact(&types.Artifact{TenantID: "t1", GroupID: "g2", ArtifactID: "a1", Type: "AVRO", CreatedOn: time.Now()}))

	contentID, _, err := s.PutContent("t1", []byte("v1 bytes"), "AVRO", nil)
	require.NoError(t, err)
	require.NoError(t, s.CreateVersion(&types.Version{
		TenantID: "t1", GroupID: "g2", ArtifactID: "a1", Version: "1",
		GlobalID: 1, VersionOrdinal: 1, ContentID: contentID, State: types.VersionEnabled,
	}))
	require.NoError(t, s.CreateVersion(&types.Version{
		TenantID: "t1", GroupID: "g2", ArtifactID: "a1", Version: "2",
		GlobalID: 2, VersionOrdinal: 2, ContentID: contentID, State: types.VersionEnabled,
	}))

	require.NoError(t, s.DeleteArtifact("t1", "g2", "a1"))

	_, err = s.GetArtifact("t1", "g2", "a1")
	require.Error(t, err)
	count, err := s.CountArtifactVersions("t1", "g2", "a1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	_, err = s.GetContentByID("t1", contentID)
	require.Error(t, err, "orphaned content should be garbage collected")
}

func TestPutContent_RejectsReferenceCycle(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.CreateArtifact(&types.Artifact{TenantID: "t1", GroupID: "g1", ArtifactID: "a1", Type: "AVRO", CreatedOn: time.Now()}))
	require.NoError(t, s.CreateArtifact(&types.Artifact{TenantID: "t1", GroupID: "g1", ArtifactID: "a2", Type: "AVRO", CreatedOn: time.Now()}))

	// a1's content references a2.
	c1ID, _, err := s.PutContent("t1", []byte("a1 content"), "AVRO", []types.ArtifactReference{
		{GroupID: "g1", ArtifactID: "a2", Name: "ref"},
	})
	require.NoError(t, err)
	require.NoError(t, s.CreateVersion(&types.Version{
		TenantID: "t1", GroupID: "g1", ArtifactID: "a1", Version: "1",
		GlobalID: 1, VersionOrdinal: 1, ContentID: c1ID, State: types.VersionEnabled,
	}))

	// a2's content tries to reference a1, closing the cycle.
	_, _, err = s.PutContent("t1", []byte("a2 content"), "AVRO", []types.ArtifactReference{
		{GroupID: "g1", ArtifactID: "a1", Name: "back"},
	})
	require.Error(t, err)
	kind, _ := curatorerr.KindOf(err)
	assert.Equal(t, curatorerr.ReferenceInvalid, kind)
}

func TestSearchArtifacts_OrdersByNameThenArtifactID(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.CreateArtifact(&types.Artifact{TenantID: "t1", GroupID: "g1", ArtifactID: "b", Name: "Zeta", CreatedOn: time.Now()}))
	require.NoError(t, s.CreateArtifact(&types.Artifact{TenantID: "t1", GroupID: "g1", ArtifactID: "a", Name: "alpha", CreatedOn: time.Now()}))

	results, total, err := s.SearchArtifacts("t1", types.ArtifactFilter{}, types.SearchParams{OrderBy: "name", OrderDir: types.OrderAsc, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ArtifactID)
	assert.Equal(t, "b", results[1].ArtifactID)
}

func TestConsumeDownload_SingleUse(t *testing.T) {
	s := newTestStore(t)

	d := &types.Download{TenantID: "t1", DownloadID: "dl1", Context: "export g1", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, s.CreateDownload(d))

	got, err := s.ConsumeDownload("t1", "dl1")
	require.NoError(t, err)
	assert.Equal(t, "export g1", got.Context)

	_, err = s.ConsumeDownload("t1", "dl1")
	require.Error(t, err)
}

func TestTransitionVersionState_EnforcesStateMachine(t *testing.T) {
	s := newTestStore(t)
	createArtifactWithVersion(t, s, "t1", "g1", "a1", "1", 1)
	// A second ENABLED version, so deprecating "1" leaves one ENABLED.
	contentID, _, err := s.PutContent("t1", []byte("a1-2"), "AVRO", nil)
	require.NoError(t, err)
	require.NoError(t, s.CreateVersion(&types.Version{
		TenantID: "t1", GroupID: "g1", ArtifactID: "a1", Version: "2",
		GlobalID: 2, VersionOrdinal: 2, ContentID: contentID, State: types.VersionEnabled,
	}))

	err = s.TransitionVersionState("t1", "g1", "a1", "1", types.VersionDeprecated)
	require.NoError(t, err)

	v, err := s.GetVersion("t1", "g1", "a1", "1")
	require.NoError(t, err)
	assert.Equal(t, types.VersionDeprecated, v.State)

	err = s.TransitionVersionState("t1", "g1", "a1", "1", types.VersionDisabled)
	require.Error(t, err)
	kind, _ := curatorerr.KindOf(err)
	assert.Equal(t, curatorerr.InvalidStateTransition, kind)
}

func TestTransitionVersionState_KeepsAtLeastOneEnabled(t *testing.T) {
	s := newTestStore(t)
	createArtifactWithVersion(t, s, "t1", "g1", "a1", "1", 1)

	err := s.TransitionVersionState("t1", "g1", "a1", "1", types.VersionDisabled)
	require.Error(t, err)
	kind, _ := curatorerr.KindOf(err)
	assert.Equal(t, curatorerr.InvalidStateTransition, kind)
}

func createArtifactWithVersion(t *testing.T, s *BoltStore, tenantID, groupID, artifactID, version string, globalID int64) {
	t.Helper()
	require.NoError(t, s.CreateArtifact(&types.Artifact{TenantID: tenantID, GroupID: groupID, ArtifactID: artifactID, Type: "AVRO", CreatedOn: time.Now()}))
	contentID, _, err := s.PutContent(tenantID, []byte(artifactID+version), "AVRO", nil)
	require.NoError(t, err)
	require.NoError(t, s.CreateVersion(&types.Version{
		TenantID: tenantID, GroupID: groupID, ArtifactID: artifactID, Version: version,
		GlobalID: globalID, VersionOrdinal: 1, ContentID: contentID, State: types.VersionEnabled,
	}))
}
