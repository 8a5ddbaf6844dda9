package storage

import (
	"strings"

	"github.com/cuemby/curator/pkg/curatorerr"
	"github.com/cuemby/curator/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// validTransitions encodes the version state machine:
// ENABLED ⇄ DISABLED, ENABLED → DEPRECATED, DEPRECATED → ENABLED.
var validTransitions = map[types.VersionState]map[types.VersionState]bool{
	types.VersionEnabled:    {types.VersionDisabled: true, types.VersionDeprecated: true},
	types.VersionDisabled:   {types.VersionEnabled: true},
	types.VersionDeprecated: {types.VersionEnabled: true},
}

// TransitionVersionState validates and applies a version state change,
// enforcing that at least one ENABLED version remains per artifact unless
// the whole artifact is being deleted.
func (s *BoltStore) TransitionVersionState(tenantID, groupID, artifactID, version string, newState types.VersionState) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		vb := tx.Bucket(bucketVersions)
		key := versionKey(tenantID, groupID, artifactID, version)
		data := vb.Get(key)
		if data == nil {
			return curatorerr.Newf(curatorerr.NotFound, "version %s/%s/%s not found", groupID, artifactID, version)
		}
		var v types.Version
		if err := unmarshalJSON(data, &v); err != nil {
			return err
		}

		if v.State == newState {
			return nil
		}
		if !validTransitions[v.State][newState] {
			return curatorerr.Newf(curatorerr.InvalidStateTransition, "cannot transition version %s/%s/%s from %s to %s", groupID, artifactID, version, v.State, newState)
		}

		if v.State == types.VersionEnabled && newState != types.VersionEnabled {
			enabledCount, err := countEnabledVersionsTx(tx, tenantID, groupID, artifactID)
			if err != nil {
				return err
			}
			if enabledCount <= 1 {
				return curatorerr.Newf(curatorerr.InvalidStateTransition, "artifact %s/%s must keep at least one ENABLED version", groupID, artifactID)
			}
		}

		v.State = newState
		return putJSON(vb, key, &v)
	})
}

func countEnabledVersionsTx(tx *bolt.Tx, tenantID, groupID, artifactID string) (int, error) {
	vb := tx.Bucket(bucketVersions)
	prefix := artifactPrefix(tenantID, groupID, artifactID)
	count := 0
	c := vb.Cursor()
	for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
		var ver types.Version
		if err := unmarshalJSON(v, &ver); err != nil {
			return 0, err
		}
		if ver.State == types.VersionEnabled {
			count++
		}
	}
	return count, nil
}
