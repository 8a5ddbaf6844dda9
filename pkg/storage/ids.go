package storage

import (
	"github.com/cuemby/curator/pkg/curatorerr"
	"github.com/cuemby/curator/pkg/metrics"
	"github.com/cuemby/curator/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// Id Allocator. Counters are cluster-wide, not per-tenant — globalId and
// contentId are documented as globally unique. next* is only ever invoked
// by the Sink during apply, so allocation order matches the journal's
// applied order.
var (
	idKeyGlobal  = []byte("globalId")
	idKeyContent = []byte("contentId")
	idKeyComment = []byte("commentId")
)

func (s *BoltStore) NextGlobalID() (int64, error) {
	var id int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		next, err := nextSeqTx(tx, idKeyGlobal)
		if err != nil {
			return err
		}
		id = next
		return nil
	})
	if err == nil {
		metrics.GlobalIDsIssued.Inc()
	}
	return id, err
}

// nextContentIDTx is Tx-scoped because PutContent must allocate the id in
// the same transaction that checks the dedup index, not as a separate
// round trip that could race a concurrent PutContent for a different hash.
func (s *BoltStore) nextContentIDTx(tx *bolt.Tx) (int64, error) {
	return nextSeqTx(tx, idKeyContent)
}

func (s *BoltStore) NextCommentID() (int64, error) {
	var id int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		next, err := nextSeqTx(tx, idKeyComment)
		if err != nil {
			return err
		}
		id = next
		return nil
	})
	if err == nil {
		metrics.CommentIDsIssued.Inc()
	}
	return id, err
}

// NextVersionOrdinal allocates the next VersionOrdinal for one artifact.
// It is a per-artifact counter, not a count of live rows, so deleting a
// version never frees its ordinal for reuse.
func (s *BoltStore) NextVersionOrdinal(tenantID, groupID, artifactID string) (int64, error) {
	var ord int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		next, err := nextSeqTx(tx, versionOrdinalKey(tenantID, groupID, artifactID))
		if err != nil {
			return err
		}
		ord = next
		return nil
	})
	return ord, err
}

func versionOrdinalKey(tenantID, groupID, artifactID string) []byte {
	return []byte("versionOrdinal" + sep + tenantID + sep + groupID + sep + artifactID)
}

func nextSeqTx(tx *bolt.Tx, key []byte) (int64, error) {
	b := tx.Bucket(bucketIDSeq)
	cur := decodeUint64(b.Get(key))
	next := cur + 1
	if err := b.Put(key, encodeUint64(next)); err != nil {
		return 0, err
	}
	return int64(next), nil
}

// ResetGlobalID scans every Version's GlobalID and sets the next value to
// max+1. Used only during import.
func (s *BoltStore) ResetGlobalID() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var max int64
		vb := tx.Bucket(bucketVersions)
		c := vb.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var ver types.Version
			if err := unmarshalJSON(v, &ver); err != nil {
				return err
			}
			if ver.GlobalID > max {
				max = ver.GlobalID
			}
		}
		return tx.Bucket(bucketIDSeq).Put(idKeyGlobal, encodeUint64(uint64(max)))
	})
}

// ResetContentID scans every Content row's ContentID.
func (s *BoltStore) ResetContentID() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var max int64
		cb := tx.Bucket(bucketContent)
		c := cb.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var content types.Content
			if err := unmarshalJSON(v, &content); err != nil {
				return err
			}
			if content.ContentID > max {
				max = content.ContentID
			}
		}
		return tx.Bucket(bucketIDSeq).Put(idKeyContent, encodeUint64(uint64(max)))
	})
}

// ResetCommentID scans every Comment's CommentID.
func (s *BoltStore) ResetCommentID() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var max int64
		cb := tx.Bucket(bucketComments)
		c := cb.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var cm types.Comment
			if err := unmarshalJSON(v, &cm); err != nil {
				return err
			}
			if cm.CommentID > max {
				max = cm.CommentID
			}
		}
		return tx.Bucket(bucketIDSeq).Put(idKeyComment, encodeUint64(uint64(max)))
	})
}

// ReserveGlobalID advances the globalId counter to at least id, failing if
// id has already been issued. This is the explicit reservation protocol
// that replaces "sleep and hope" for
// preserveGlobalId=true imports: the caller reserves the id before
// submitting the import's create-version message, so a concurrent importer
// or live writer cannot race it.
func (s *BoltStore) ReserveGlobalID(id int64) error {
	return reserveSeq(s.db, idKeyGlobal, id)
}

func (s *BoltStore) ReserveContentID(id int64) error {
	return reserveSeq(s.db, idKeyContent, id)
}

func reserveSeq(db *bolt.DB, key []byte, id int64) error {
	return db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIDSeq)
		cur := decodeUint64(b.Get(key))
		if id <= int64(cur) {
			return curatorerr.Newf(curatorerr.Conflict, "id %d already issued (next is %d)", id, cur+1)
		}
		return b.Put(key, encodeUint64(uint64(id)))
	})
}
