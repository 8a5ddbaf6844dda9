package facade

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/curator/journal/codec"
	"github.com/cuemby/curator/pkg/curatorerr"
	"github.com/cuemby/curator/pkg/rules"
	"github.com/cuemby/curator/pkg/storage"
	"github.com/cuemby/curator/pkg/types"
)

// fakeSubmitter runs writes through a Facade's own ApplyLocally, standing
// in for the journal round-trip so Execute-path tests stay single-process.
type fakeSubmitter struct {
	facade *Facade
}

func (f *fakeSubmitter) Execute(ctx context.Context, messageType codec.MessageType, payload interface{}, timeout time.Duration) (interface{}, error) {
	env, err := codec.New(messageType, "test-uuid", payload)
	if err != nil {
		return nil, err
	}
	return f.facade.ApplyLocally(env)
}

func newTestFacade(t *testing.T) *Facade {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	fc := New(store, nil, rules.NoopEvaluator{}, time.Second)
	fc.submitter = &fakeSubmitter{facade: fc}
	return fc
}

func TestCreateArtifact_CreatesArtifactAndFirstVersion(t *testing.T) {
	fc := newTestFacade(t)

	v, err := fc.CreateArtifact(context.Background(), codec.CreateArtifactPayload{
		TenantID: "t1", GroupID: "g1", ArtifactID: "a1", Type: "JSON", Owner: "alice",
		Version: "1.0", Content: []byte(`{"a":1}`), DeclaredType: "JSON",
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, v.VersionOrdinal)
	assert.NotZero(t, v.GlobalID)
	assert.Equal(t, types.VersionEnabled, v.State)

	artifact, err := fc.GetArtifact("t1", "g1", "a1")
	require.NoError(t, err)
	assert.Equal(t, "alice", artifact.Owner)
}

func TestCreateArtifact_DuplicateRejected(t *testing.T) {
	fc := newTestFacade(t)
	p := codec.CreateArtifactPayload{TenantID: "t1", GroupID: "g1", ArtifactID: "a1", Type: "JSON", Owner: "alice", Version: "1.0", Content: []byte("x"), DeclaredType: "JSON"}

	_, err := fc.CreateArtifact(context.Background(), p)
	require.NoError(t, err)

	_, err = fc.CreateArtifact(context.Background(), p)
	require.Error(t, err)
	kind, ok := curatorerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, curatorerr.AlreadyExists, kind)
}

func TestCreateVersion_IncrementsOrdinalAndGlobalID(t *testing.T) {
	fc := newTestFacade(t)
	ctx := context.Background()

	v1, err := fc.CreateArtifact(ctx, codec.CreateArtifactPayload{TenantID: "t1", GroupID: "g1", ArtifactID: "a1", Type: "JSON", Owner: "alice", Version: "1.0", Content: []byte("v1"), DeclaredType: "JSON"})
	require.NoError(t, err)

	v2, err := fc.CreateVersion(ctx, codec.CreateVersionPayload{TenantID: "t1", GroupID: "g1", ArtifactID: "a1", Version: "2.0", Owner: "alice", Content: []byte("v2"), DeclaredType: "JSON"})
	require.NoError(t, err)

	assert.EqualValues(t, 2, v2.VersionOrdinal)
	assert.Greater(t, v2.GlobalID, v1.GlobalID)
}

func TestCreateVersion_HonorsPreassignedGlobalID(t *testing.T) {
	fc := newTestFacade(t)
	ctx := context.Background()

	_, err := fc.CreateArtifact(ctx, codec.CreateArtifactPayload{TenantID: "t1", GroupID: "g1", ArtifactID: "a1", Type: "JSON", Owner: "alice", Version: "1.0", Content: []byte("v1"), DeclaredType: "JSON"})
	require.NoError(t, err)

	require.NoError(t, fc.store.ReserveGlobalID(500))

	v2, err := fc.CreateVersion(ctx, codec.CreateVersionPayload{TenantID: "t1", GroupID: "g1", ArtifactID: "a1", Version: "2.0", Owner: "alice", Content: []byte("v2"), DeclaredType: "JSON", PreassignedGlobalID: 500})
	require.NoError(t, err)
	assert.EqualValues(t, 500, v2.GlobalID)
}

type rejectEverything struct{}

func (rejectEverything) Evaluate(ruleType, config string, content []byte, declaredType string, refs []types.ArtifactReference) error {
	return curatorerr.New(curatorerr.RuleViolation, "rejected by test rule")
}

func TestCreateArtifact_RuleViolationNeverSubmits(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	fc := New(store, nil, rejectEverything{}, time.Second)
	fc.submitter = &fakeSubmitter{facade: fc}

	_, err = fc.CreateArtifact(context.Background(), codec.CreateArtifactPayload{
		TenantID: "t1", GroupID: "g1", ArtifactID: "a1", Type: "JSON", Owner: "alice",
		Version: "1.0", Content: []byte("bad"), DeclaredType: "JSON",
	})
	require.Error(t, err)
	kind, ok := curatorerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, curatorerr.RuleViolation, kind)

	_, err = store.GetArtifact("t1", "g1", "a1")
	assert.Error(t, err, "artifact must not exist: rule rejection happens before submission")
}

func TestCreateDownload_ConsumeIsSingleUse(t *testing.T) {
	fc := newTestFacade(t)
	ctx := context.Background()

	d, err := fc.CreateDownload(ctx, codec.CreateDownloadPayload{TenantID: "t1", DownloadID: "dl1", Context: "t1/g1/a1/1.0", TTLSeconds: 60})
	require.NoError(t, err)
	assert.Equal(t, "dl1", d.DownloadID)

	got, err := fc.ConsumeDownload(ctx, "t1", "dl1")
	require.NoError(t, err)
	assert.Equal(t, "t1/g1/a1/1.0", got.Context)

	_, err = fc.ConsumeDownload(ctx, "t1", "dl1")
	require.Error(t, err)
	kind, ok := curatorerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, curatorerr.NotFound, kind)
}

func TestCreateArtifact_DanglingReferenceRejectedUnderStrictDefault(t *testing.T) {
	fc := newTestFacade(t)
	ctx := context.Background()

	_, err := fc.CreateArtifact(ctx, codec.CreateArtifactPayload{
		TenantID: "t1", GroupID: "g1", ArtifactID: "a1", Type: "JSON", Owner: "alice",
		Version: "1.0", Content: []byte("v1"), DeclaredType: "JSON",
		References: []types.ArtifactReference{{GroupID: "g1", ArtifactID: "missing", Name: "dep"}},
	})
	require.Error(t, err)
	kind, ok := curatorerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, curatorerr.ReferenceInvalid, kind)

	_, err = fc.GetArtifact("t1", "g1", "a1")
	assert.Error(t, err, "artifact must not exist: reference validation happens before submission")
}

func TestCreateArtifact_DanglingReferenceAllowedWhenStrictnessDisabled(t *testing.T) {
	fc := newTestFacade(t)
	ctx := context.Background()

	require.NoError(t, fc.store.PutConfig(&types.ConfigProperty{TenantID: "t1", Key: strictReferencesConfigKey, Value: "false"}))

	_, err := fc.CreateArtifact(ctx, codec.CreateArtifactPayload{
		TenantID: "t1", GroupID: "g1", ArtifactID: "a1", Type: "JSON", Owner: "alice",
		Version: "1.0", Content: []byte("v1"), DeclaredType: "JSON",
		References: []types.ArtifactReference{{GroupID: "g1", ArtifactID: "missing", Name: "dep"}},
	})
	require.NoError(t, err)
}

func TestCreateVersion_OrdinalNotReusedAfterDelete(t *testing.T) {
	fc := newTestFacade(t)
	ctx := context.Background()

	_, err := fc.CreateArtifact(ctx, codec.CreateArtifactPayload{TenantID: "t1", GroupID: "g1", ArtifactID: "a1", Type: "JSON", Owner: "alice", Version: "1.0", Content: []byte("v1"), DeclaredType: "JSON"})
	require.NoError(t, err)
	v2, err := fc.CreateVersion(ctx, codec.CreateVersionPayload{TenantID: "t1", GroupID: "g1", ArtifactID: "a1", Version: "2.0", Owner: "alice", Content: []byte("v2"), DeclaredType: "JSON"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, v2.VersionOrdinal)

	require.NoError(t, fc.DeleteVersion(ctx, codec.DeleteVersionPayload{TenantID: "t1", GroupID: "g1", ArtifactID: "a1", Version: "1.0"}))

	v3, err := fc.CreateVersion(ctx, codec.CreateVersionPayload{TenantID: "t1", GroupID: "g1", ArtifactID: "a1", Version: "3.0", Owner: "alice", Content: []byte("v3"), DeclaredType: "JSON"})
	require.NoError(t, err)
	assert.EqualValues(t, 3, v3.VersionOrdinal, "ordinal 2 was freed by the delete but must not be reissued")
}

func TestReserveGlobalID_RejectsAlreadyIssuedID(t *testing.T) {
	fc := newTestFacade(t)
	ctx := context.Background()

	v1, err := fc.CreateArtifact(ctx, codec.CreateArtifactPayload{TenantID: "t1", GroupID: "g1", ArtifactID: "a1", Type: "JSON", Owner: "alice", Version: "1.0", Content: []byte("v1"), DeclaredType: "JSON"})
	require.NoError(t, err)

	err = fc.ReserveGlobalID(ctx, v1.GlobalID)
	require.Error(t, err)
	kind, ok := curatorerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, curatorerr.Conflict, kind)

	require.NoError(t, fc.ReserveGlobalID(ctx, v1.GlobalID+100))
}

func TestResetGlobalID_ResetsToObservedMax(t *testing.T) {
	fc := newTestFacade(t)
	ctx := context.Background()

	v1, err := fc.CreateArtifact(ctx, codec.CreateArtifactPayload{TenantID: "t1", GroupID: "g1", ArtifactID: "a1", Type: "JSON", Owner: "alice", Version: "1.0", Content: []byte("v1"), DeclaredType: "JSON"})
	require.NoError(t, err)

	require.NoError(t, fc.ReserveGlobalID(ctx, v1.GlobalID+50))
	require.NoError(t, fc.ResetGlobalID(ctx))

	v2, err := fc.CreateVersion(ctx, codec.CreateVersionPayload{TenantID: "t1", GroupID: "g1", ArtifactID: "a1", Version: "2.0", Owner: "alice", Content: []byte("v2"), DeclaredType: "JSON"})
	require.NoError(t, err)
	assert.Equal(t, v1.GlobalID+1, v2.GlobalID, "reset must fall back to the highest globalId actually on a version, not the reservation")
}

type stubCanonicalizer struct{}

func (stubCanonicalizer) Canonicalize(declaredType string, content []byte) (string, error) {
	return "canon-" + string(content), nil
}

func TestBackfillCanonicalHashes_FillsMissingHashesOnly(t *testing.T) {
	fc := newTestFacade(t)
	ctx := context.Background()

	v, err := fc.CreateArtifact(ctx, codec.CreateArtifactPayload{TenantID: "t1", GroupID: "g1", ArtifactID: "a1", Type: "JSON", Owner: "alice", Version: "1.0", Content: []byte("v1"), DeclaredType: "JSON"})
	require.NoError(t, err)

	require.NoError(t, fc.BackfillCanonicalHashes(ctx, "t1", stubCanonicalizer{}))

	c, err := fc.GetContentByID("t1", v.ContentID)
	require.NoError(t, err)
	assert.Equal(t, "canon-v1", c.CanonicalHash)

	// A second pass finds nothing left to backfill.
	require.NoError(t, fc.BackfillCanonicalHashes(ctx, "t1", stubCanonicalizer{}))
}

func TestTransitionVersionState_RoundTrip(t *testing.T) {
	fc := newTestFacade(t)
	ctx := context.Background()

	_, err := fc.CreateArtifact(ctx, codec.CreateArtifactPayload{TenantID: "t1", GroupID: "g1", ArtifactID: "a1", Type: "JSON", Owner: "alice", Version: "1.0", Content: []byte("v1"), DeclaredType: "JSON"})
	require.NoError(t, err)

	_, err = fc.CreateVersion(ctx, codec.CreateVersionPayload{TenantID: "t1", GroupID: "g1", ArtifactID: "a1", Version: "2.0", Owner: "alice", Content: []byte("v2"), DeclaredType: "JSON"})
	require.NoError(t, err)

	err = fc.TransitionVersionState(ctx, codec.TransitionVersionStatePayload{TenantID: "t1", GroupID: "g1", ArtifactID: "a1", Version: "1.0", NewState: types.VersionDisabled})
	require.NoError(t, err)

	v, err := fc.GetVersion("t1", "g1", "a1", "1.0")
	require.NoError(t, err)
	assert.Equal(t, types.VersionDisabled, v.State)
}
