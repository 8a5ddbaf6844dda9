package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/cuemby/curator/pkg/curatorerr"
	"github.com/cuemby/curator/pkg/metrics"
	"github.com/cuemby/curator/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// PutContent implements the Content Store's dedup-by-hash write path.
// References are validated for cycles before the row is written;
// dangling-target validation is the caller's responsibility under the
// StrictReferences policy (facade), since whether a dangling reference is
// an error is a policy decision, not a storage-layer one.
func (s *BoltStore) PutContent(tenantID string, bytes []byte, declaredType string, refs []types.ArtifactReference) (int64, bool, error) {
	sum := sha256.Sum256(bytes)
	hash := hex.EncodeToString(sum[:])

	var contentID int64
	var wasNew bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		hb := tx.Bucket(bucketContentByHash)
		hk := contentHashKey(tenantID, hash)
		if existing := hb.Get(hk); existing != nil {
			contentID = parseContentID(string(existing))
			wasNew = false
			return nil
		}

		if len(refs) > 0 {
			if err := checkReferenceCycleTx(tx, tenantID, refs, nil); err != nil {
				return err
			}
		}

		newID, err := s.nextContentIDTx(tx)
		if err != nil {
			return err
		}

		c := &types.Content{
			TenantID:     tenantID,
			ContentID:    newID,
			Bytes:        bytes,
			ContentHash:  hash,
			DeclaredType: declaredType,
			References:   refs,
		}
		cb := tx.Bucket(bucketContent)
		if err := putJSON(cb, contentKey(tenantID, newID), c); err != nil {
			return err
		}
		if err := hb.Put(hk, []byte(zeroPad(newID))); err != nil {
			return err
		}

		contentID = newID
		wasNew = true
		return nil
	})
	if err == nil && wasNew {
		metrics.ContentIDsIssued.Inc()
	}
	return contentID, wasNew, err
}

func (s *BoltStore) GetContentByID(tenantID string, contentID int64) (*types.Content, error) {
	var c types.Content
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketContent).Get(contentKey(tenantID, contentID))
		if data == nil {
			return curatorerr.Newf(curatorerr.NotFound, "content %d not found", contentID)
		}
		return unmarshalJSON(data, &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *BoltStore) GetContentByHash(tenantID, contentHash string) (*types.Content, error) {
	var c types.Content
	err := s.db.View(func(tx *bolt.Tx) error {
		idBytes := tx.Bucket(bucketContentByHash).Get(contentHashKey(tenantID, contentHash))
		if idBytes == nil {
			return curatorerr.Newf(curatorerr.NotFound, "content hash %s not found", contentHash)
		}
		data := tx.Bucket(bucketContent).Get(contentKey(tenantID, parseContentID(string(idBytes))))
		if data == nil {
			return curatorerr.Newf(curatorerr.NotFound, "content hash %s not found", contentHash)
		}
		return unmarshalJSON(data, &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListContentMissingCanonicalHash scans every Content row for tenantID whose
// CanonicalHash is still unset, for the backfill path that runs a
// canonicalizer over content written before canonicalization existed.
func (s *BoltStore) ListContentMissingCanonicalHash(tenantID string) ([]*types.Content, error) {
	var pending []*types.Content
	err := s.db.View(func(tx *bolt.Tx) error {
		cb := tx.Bucket(bucketContent)
		prefix := tenantPrefix(tenantID)
		c := cb.Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var content types.Content
			if err := unmarshalJSON(v, &content); err != nil {
				return err
			}
			if content.CanonicalHash == "" {
				cp := content
				pending = append(pending, &cp)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pending, nil
}

// UpdateCanonicalHash is idempotent: if the stored contentHash no longer
// matches expectedContentHash (the content was deleted and a different
// hash now occupies contentId — impossible under monotonic ids but checked
// defensively), the update is silently skipped.
func (s *BoltStore) UpdateCanonicalHash(tenantID string, contentID int64, expectedContentHash, newCanonicalHash string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		cb := tx.Bucket(bucketContent)
		key := contentKey(tenantID, contentID)
		data := cb.Get(key)
		if data == nil {
			return nil
		}
		var c types.Content
		if err := unmarshalJSON(data, &c); err != nil {
			return err
		}
		if c.ContentHash != expectedContentHash {
			return nil
		}
		c.CanonicalHash = newCanonicalHash
		return putJSON(cb, key, &c)
	})
}

func (s *BoltStore) deleteContentIfOrphanedTx(tx *bolt.Tx, tenantID string, contentID int64) error {
	vb := tx.Bucket(bucketVersions)
	prefix := tenantPrefix(tenantID)
	c := vb.Cursor()
	for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
		var ver types.Version
		if err := unmarshalJSON(v, &ver); err != nil {
			return err
		}
		if ver.ContentID == contentID {
			return nil // still referenced
		}
	}

	cb := tx.Bucket(bucketContent)
	key := contentKey(tenantID, contentID)
	data := cb.Get(key)
	if data == nil {
		return nil
	}
	var content types.Content
	if err := unmarshalJSON(data, &content); err != nil {
		return err
	}
	if err := cb.Delete(key); err != nil {
		return err
	}
	return tx.Bucket(bucketContentByHash).Delete(contentHashKey(tenantID, content.ContentHash))
}

// checkReferenceCycleTx walks the artifact-reference graph from each ref's
// target back toward origin; visiting origin again means the new content
// would close a cycle. origin is nil when called from PutContent
// directly (no artifact assigned yet, so cycle-checking degenerates to
// "does any ref's own transitive closure revisit itself", which the walk
// below already guards via the visited set).
func checkReferenceCycleTx(tx *bolt.Tx, tenantID string, refs []types.ArtifactReference, origin *types.ArtifactReference) error {
	visited := make(map[string]bool)
	var walk func(ref types.ArtifactReference) error
	walk = func(ref types.ArtifactReference) error {
		id := ref.GroupID + sep + ref.ArtifactID
		if visited[id] {
			return curatorerr.Newf(curatorerr.ReferenceInvalid, "reference cycle detected at %s/%s", ref.GroupID, ref.ArtifactID)
		}
		visited[id] = true

		var verKey []byte
		if ref.Version != "" {
			verKey = versionKey(tenantID, ref.GroupID, ref.ArtifactID, ref.Version)
		} else {
			latest, err := latestVersionKeyTx(tx, tenantID, ref.GroupID, ref.ArtifactID)
			if err != nil {
				return nil // dangling; not this function's concern
			}
			verKey = latest
		}
		vdata := tx.Bucket(bucketVersions).Get(verKey)
		if vdata == nil {
			return nil
		}
		var ver types.Version
		if err := unmarshalJSON(vdata, &ver); err != nil {
			return err
		}
		cdata := tx.Bucket(bucketContent).Get(contentKey(tenantID, ver.ContentID))
		if cdata == nil {
			return nil
		}
		var content types.Content
		if err := unmarshalJSON(cdata, &content); err != nil {
			return err
		}
		for _, next := range content.References {
			if err := walk(next); err != nil {
				return err
			}
		}
		return nil
	}

	for _, ref := range refs {
		if err := walk(ref); err != nil {
			return err
		}
	}
	return nil
}

func latestVersionKeyTx(tx *bolt.Tx, tenantID, groupID, artifactID string) ([]byte, error) {
	vb := tx.Bucket(bucketVersions)
	prefix := artifactPrefix(tenantID, groupID, artifactID)
	var bestKey []byte
	var bestOrdinal int64 = -1
	c := vb.Cursor()
	for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
		var ver types.Version
		if err := unmarshalJSON(v, &ver); err != nil {
			return nil, err
		}
		if ver.VersionOrdinal > bestOrdinal {
			bestOrdinal = ver.VersionOrdinal
			cp := make([]byte, len(k))
			copy(cp, k)
			bestKey = cp
		}
	}
	if bestKey == nil {
		return nil, curatorerr.New(curatorerr.NotFound, "no versions")
	}
	return bestKey, nil
}

// ValidateReferences resolves every reference's target under the
// StrictReferences policy; a missing target is a ReferenceInvalid error
// when strict is true and a no-op otherwise. Strictness is a documented
// policy flag, not per-call behavior.
func (s *BoltStore) ValidateReferences(tenantID string, refs []types.ArtifactReference, strict bool) error {
	if !strict {
		return nil
	}
	return s.db.View(func(tx *bolt.Tx) error {
		for _, ref := range refs {
			groupID := ref.GroupID
			var verKey []byte
			if ref.Version != "" {
				verKey = versionKey(tenantID, groupID, ref.ArtifactID, ref.Version)
			} else {
				key, err := latestVersionKeyTx(tx, tenantID, groupID, ref.ArtifactID)
				if err != nil {
					return curatorerr.Newf(curatorerr.ReferenceInvalid, "reference target %s/%s not found", groupID, ref.ArtifactID)
				}
				verKey = key
			}
			if tx.Bucket(bucketVersions).Get(verKey) == nil {
				return curatorerr.Newf(curatorerr.ReferenceInvalid, "reference target %s/%s not found", groupID, ref.ArtifactID)
			}
		}
		return nil
	})
}
