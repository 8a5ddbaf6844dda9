package storage

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/curator/pkg/curatorerr"
	"github.com/cuemby/curator/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// sep separates key parts; it cannot appear in a tenant/group/artifact id
// supplied over the REST surface (that layer is responsible for rejecting
// control characters in path segments).
const sep = "\x1f"

var (
	bucketGroups             = []byte("groups")
	bucketArtifacts           = []byte("artifacts")
	bucketVersions            = []byte("versions")
	bucketVersionsByGlobalID  = []byte("versions_by_global_id")
	bucketContent             = []byte("content")
	bucketContentByHash       = []byte("content_by_hash")
	bucketIDSeq               = []byte("id_sequences")
	bucketGlobalRules         = []byte("global_rules")
	bucketArtifactRules       = []byte("artifact_rules")
	bucketComments            = []byte("comments")
	bucketRoleMappings        = []byte("role_mappings")
	bucketDownloads           = []byte("downloads")
	bucketConfig              = []byte("config")
	bucketMarkdown            = []byte("markdown")

	allBuckets = [][]byte{
		bucketGroups, bucketArtifacts, bucketVersions, bucketVersionsByGlobalID,
		bucketContent, bucketContentByHash, bucketIDSeq,
		bucketGlobalRules, bucketArtifactRules, bucketComments, bucketRoleMappings,
		bucketDownloads, bucketConfig, bucketMarkdown,
	}
)

// BoltStore implements Store over a single bbolt file. Every multi-step
// mutation (content dedup, version create, cascade delete) runs inside one
// db.Update transaction so the Sink's "single transaction per message"
// contract holds without an extra layer.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the registry's state file under
// dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "curator.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open state file: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

// --- key helpers ---

func groupKey(tenantID, groupID string) []byte {
	return []byte(tenantID + sep + groupID)
}

func artifactKey(tenantID, groupID, artifactID string) []byte {
	return []byte(tenantID + sep + groupID + sep + artifactID)
}

func artifactPrefix(tenantID, groupID, artifactID string) []byte {
	return []byte(tenantID + sep + groupID + sep + artifactID + sep)
}

func versionKey(tenantID, groupID, artifactID, version string) []byte {
	return []byte(tenantID + sep + groupID + sep + artifactID + sep + version)
}

func zeroPad(id int64) string {
	return fmt.Sprintf("%020d", id)
}

func globalIDIndexKey(tenantID string, globalID int64) []byte {
	return []byte(tenantID + sep + zeroPad(globalID))
}

func contentKey(tenantID string, contentID int64) []byte {
	return []byte(tenantID + sep + zeroPad(contentID))
}

func contentHashKey(tenantID, hash string) []byte {
	return []byte(tenantID + sep + hash)
}

func tenantPrefix(tenantID string) []byte {
	return []byte(tenantID + sep)
}

// --- Groups ---

func (s *BoltStore) CreateGroup(g *types.Group) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGroups)
		key := groupKey(g.TenantID, g.GroupID)
		if b.Get(key) != nil {
			return curatorerr.Newf(curatorerr.AlreadyExists, "group %q already exists", g.GroupID)
		}
		return putJSON(b, key, g)
	})
}

func (s *BoltStore) GetGroup(tenantID, groupID string) (*types.Group, error) {
	var g types.Group
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGroups)
		data := b.Get(groupKey(tenantID, groupID))
		if data == nil {
			return curatorerr.Newf(curatorerr.NotFound, "group %q not found", groupID)
		}
		return unmarshalJSON(data, &g)
	})
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// DeleteGroup removes the group and cascades to every artifact within it,
// which in turn cascades to versions and orphaned content.
func (s *BoltStore) DeleteGroup(tenantID, groupID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		gb := tx.Bucket(bucketGroups)
		key := groupKey(tenantID, groupID)
		if gb.Get(key) == nil {
			return curatorerr.Newf(curatorerr.NotFound, "group %q not found", groupID)
		}

		ab := tx.Bucket(bucketArtifacts)
		prefix := []byte(tenantID + sep + groupID + sep)
		var artifactIDs []string
		c := ab.Cursor()
		for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = c.Next() {
			artifactIDs = append(artifactIDs, strings.TrimPrefix(string(k), string(prefix)))
		}
		for _, artifactID := range artifactIDs {
			if err := s.deleteArtifactTx(tx, tenantID, groupID, artifactID); err != nil {
				return err
			}
		}
		return gb.Delete(key)
	})
}

func (s *BoltStore) SearchGroups(tenantID string, filter GroupFilter, params types.SearchParams) ([]*types.Group, int, error) {
	var all []*types.Group
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGroups)
		prefix := tenantPrefix(tenantID)
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var g types.Group
			if err := unmarshalJSON(v, &g); err != nil {
				return err
			}
			if filter.Description != "" && !strings.Contains(strings.ToLower(g.Description), strings.ToLower(filter.Description)) {
				continue
			}
			if !labelsMatch(g.Labels, filter.Labels) {
				continue
			}
			all = append(all, &g)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].GroupID < all[j].GroupID })
	return paginate(all, params), len(all), nil
}

// --- Artifacts ---

func (s *BoltStore) CreateArtifact(a *types.Artifact) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		ab := tx.Bucket(bucketArtifacts)
		key := artifactKey(a.TenantID, a.GroupID, a.ArtifactID)
		if ab.Get(key) != nil {
			return curatorerr.Newf(curatorerr.AlreadyExists, "artifact %s/%s already exists", a.GroupID, a.ArtifactID)
		}
		gb := tx.Bucket(bucketGroups)
		gk := groupKey(a.TenantID, a.GroupID)
		if gb.Get(gk) == nil {
			g := &types.Group{TenantID: a.TenantID, GroupID: a.GroupID, Owner: a.Owner, CreatedOn: a.CreatedOn, ModifiedOn: a.CreatedOn}
			if err := putJSON(gb, gk, g); err != nil {
				return err
			}
		}
		return putJSON(ab, key, a)
	})
}

func (s *BoltStore) GetArtifact(tenantID, groupID, artifactID string) (*types.Artifact, error) {
	var a types.Artifact
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketArtifacts)
		data := b.Get(artifactKey(tenantID, groupID, artifactID))
		if data == nil {
			return curatorerr.Newf(curatorerr.NotFound, "artifact %s/%s not found", groupID, artifactID)
		}
		return unmarshalJSON(data, &a)
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *BoltStore) UpdateArtifact(a *types.Artifact) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketArtifacts)
		key := artifactKey(a.TenantID, a.GroupID, a.ArtifactID)
		if b.Get(key) == nil {
			return curatorerr.Newf(curatorerr.NotFound, "artifact %s/%s not found", a.GroupID, a.ArtifactID)
		}
		return putJSON(b, key, a)
	})
}

func (s *BoltStore) DeleteArtifact(tenantID, groupID, artifactID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return s.deleteArtifactTx(tx, tenantID, groupID, artifactID)
	})
}

func (s *BoltStore) deleteArtifactTx(tx *bolt.Tx, tenantID, groupID, artifactID string) error {
	ab := tx.Bucket(bucketArtifacts)
	key := artifactKey(tenantID, groupID, artifactID)
	if ab.Get(key) == nil {
		return curatorerr.Newf(curatorerr.NotFound, "artifact %s/%s not found", groupID, artifactID)
	}

	vb := tx.Bucket(bucketVersions)
	prefix := artifactPrefix(tenantID, groupID, artifactID)
	var versions []string
	c := vb.Cursor()
	for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = c.Next() {
		versions = append(versions, strings.TrimPrefix(string(k), string(prefix)))
	}
	for _, version := range versions {
		if err := s.deleteVersionTx(tx, tenantID, groupID, artifactID, version); err != nil {
			return err
		}
	}

	mb := tx.Bucket(bucketMarkdown)
	mc := mb.Cursor()
	for k, _ := mc.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = mc.Next() {
		if err := mb.Delete(k); err != nil {
			return err
		}
	}

	arb := tx.Bucket(bucketArtifactRules)
	rulePrefix := []byte(tenantID + sep + groupID + sep + artifactID + sep)
	rc := arb.Cursor()
	for k, _ := rc.Seek(rulePrefix); k != nil && strings.HasPrefix(string(k), string(rulePrefix)); k, _ = rc.Next() {
		if err := arb.Delete(k); err != nil {
			return err
		}
	}

	return ab.Delete(key)
}

func (s *BoltStore) CountArtifactVersions(tenantID, groupID, artifactID string) (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		vb := tx.Bucket(bucketVersions)
		prefix := artifactPrefix(tenantID, groupID, artifactID)
		c := vb.Cursor()
		for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = c.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func (s *BoltStore) SearchArtifacts(tenantID string, filter types.ArtifactFilter, params types.SearchParams) ([]*types.Artifact, int, error) {
	var matched []*types.Artifact
	err := s.db.View(func(tx *bolt.Tx) error {
		ab := tx.Bucket(bucketArtifacts)
		prefix := tenantPrefix(tenantID)
		c := ab.Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var a types.Artifact
			if err := unmarshalJSON(v, &a); err != nil {
				return err
			}
			if filter.Group != "" && a.GroupID != filter.Group {
				continue
			}
			if filter.Name != "" && !strings.Contains(strings.ToLower(a.Name), strings.ToLower(filter.Name)) {
				continue
			}
			if filter.Description != "" && !strings.Contains(strings.ToLower(a.Description), strings.ToLower(filter.Description)) {
				continue
			}
			if filter.Owner != "" && a.Owner != filter.Owner {
				continue
			}
			if !labelsMatch(a.Labels, filter.Labels) {
				continue
			}
			if filter.GlobalID != nil || filter.ContentID != nil || len(filter.Properties) > 0 {
				ok, err := s.artifactMatchesVersionFilters(tx, tenantID, a.GroupID, a.ArtifactID, filter)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
			}
			matched = append(matched, &a)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	sortArtifacts(matched, params)
	return paginate(matched, params), len(matched), nil
}

func (s *BoltStore) artifactMatchesVersionFilters(tx *bolt.Tx, tenantID, groupID, artifactID string, filter types.ArtifactFilter) (bool, error) {
	vb := tx.Bucket(bucketVersions)
	prefix := artifactPrefix(tenantID, groupID, artifactID)
	c := vb.Cursor()
	for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
		var ver types.Version
		if err := unmarshalJSON(v, &ver); err != nil {
			return false, err
		}
		if filter.GlobalID != nil && ver.GlobalID != *filter.GlobalID {
			continue
		}
		if filter.ContentID != nil && ver.ContentID != *filter.ContentID {
			continue
		}
		if len(filter.Properties) > 0 && !propertiesMatch(ver.Properties, filter.Properties) {
			continue
		}
		return true, nil
	}
	return false, nil
}

func sortArtifacts(artifacts []*types.Artifact, params types.SearchParams) {
	field := params.OrderBy
	desc := params.OrderDir == types.OrderDesc
	less := func(i, j int) bool {
		a, b := artifacts[i], artifacts[j]
		cmp := compareArtifactField(a, b, field)
		if cmp == 0 {
			if a.ArtifactID != b.ArtifactID {
				return a.ArtifactID < b.ArtifactID
			}
			return false
		}
		if desc {
			return cmp > 0
		}
		return cmp < 0
	}
	sort.SliceStable(artifacts, less)
}

func compareArtifactField(a, b *types.Artifact, field string) int {
	var av, bv string
	switch field {
	case "name":
		av, bv = a.Name, b.Name
	case "owner":
		av, bv = a.Owner, b.Owner
	case "createdOn":
		return a.CreatedOn.Compare(b.CreatedOn)
	case "modifiedOn":
		return a.ModifiedOn.Compare(b.ModifiedOn)
	default:
		av, bv = a.ArtifactID, b.ArtifactID
	}
	return strings.Compare(strings.ToLower(av), strings.ToLower(bv))
}

func labelsMatch(have, want map[string]string) bool {
	for k, v := range want {
		hv, ok := have[k]
		if !ok || !strings.Contains(strings.ToLower(hv), strings.ToLower(v)) {
			return false
		}
	}
	return true
}

func propertiesMatch(have, want map[string]string) bool {
	for k, v := range want {
		hv, ok := have[k]
		if !ok || !strings.Contains(strings.ToLower(hv), strings.ToLower(v)) {
			return false
		}
	}
	return true
}

func paginate[T any](items []T, params types.SearchParams) []T {
	if params.Offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if params.Limit > 0 && params.Offset+params.Limit < end {
		end = params.Offset + params.Limit
	}
	return items[params.Offset:end]
}

// --- Versions ---

func (s *BoltStore) CreateVersion(v *types.Version) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		vb := tx.Bucket(bucketVersions)
		key := versionKey(v.TenantID, v.GroupID, v.ArtifactID, v.Version)
		if vb.Get(key) != nil {
			return curatorerr.Newf(curatorerr.AlreadyExists, "version %s/%s/%s already exists", v.GroupID, v.ArtifactID, v.Version)
		}
		if err := putJSON(vb, key, v); err != nil {
			return err
		}
		gib := tx.Bucket(bucketVersionsByGlobalID)
		return gib.Put(globalIDIndexKey(v.TenantID, v.GlobalID), key)
	})
}

func (s *BoltStore) GetVersion(tenantID, groupID, artifactID, version string) (*types.Version, error) {
	var v types.Version
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVersions)
		data := b.Get(versionKey(tenantID, groupID, artifactID, version))
		if data == nil {
			return curatorerr.Newf(curatorerr.NotFound, "version %s/%s/%s not found", groupID, artifactID, version)
		}
		return unmarshalJSON(data, &v)
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *BoltStore) GetVersionByGlobalID(tenantID string, globalID int64) (*types.Version, error) {
	var v types.Version
	err := s.db.View(func(tx *bolt.Tx) error {
		gib := tx.Bucket(bucketVersionsByGlobalID)
		vkey := gib.Get(globalIDIndexKey(tenantID, globalID))
		if vkey == nil {
			return curatorerr.Newf(curatorerr.NotFound, "globalId %d not found", globalID)
		}
		data := tx.Bucket(bucketVersions).Get(vkey)
		if data == nil {
			return curatorerr.Newf(curatorerr.NotFound, "globalId %d not found", globalID)
		}
		return unmarshalJSON(data, &v)
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *BoltStore) UpdateVersion(v *types.Version) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVersions)
		key := versionKey(v.TenantID, v.GroupID, v.ArtifactID, v.Version)
		if b.Get(key) == nil {
			return curatorerr.Newf(curatorerr.NotFound, "version %s/%s/%s not found", v.GroupID, v.ArtifactID, v.Version)
		}
		return putJSON(b, key, v)
	})
}

func (s *BoltStore) DeleteVersion(tenantID, groupID, artifactID, version string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return s.deleteVersionTx(tx, tenantID, groupID, artifactID, version)
	})
}

func (s *BoltStore) deleteVersionTx(tx *bolt.Tx, tenantID, groupID, artifactID, version string) error {
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

	if err := vb.Delete(key); err != nil {
		return err
	}
	gib := tx.Bucket(bucketVersionsByGlobalID)
	if err := gib.Delete(globalIDIndexKey(tenantID, v.GlobalID)); err != nil {
		return err
	}

	mb := tx.Bucket(bucketMarkdown)
	if err := mb.Delete(versionKey(tenantID, groupID, artifactID, version)); err != nil {
		return err
	}

	return s.deleteContentIfOrphanedTx(tx, tenantID, v.ContentID)
}

func (s *BoltStore) SearchVersions(tenantID, groupID, artifactID string, params types.SearchParams) ([]*types.Version, int, error) {
	var all []*types.Version
	err := s.db.View(func(tx *bolt.Tx) error {
		vb := tx.Bucket(bucketVersions)
		prefix := artifactPrefix(tenantID, groupID, artifactID)
		c := vb.Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var ver types.Version
			if err := unmarshalJSON(v, &ver); err != nil {
				return err
			}
			all = append(all, &ver)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	sort.SliceStable(all, func(i, j int) bool {
		if params.OrderDir == types.OrderDesc {
			return all[i].VersionOrdinal > all[j].VersionOrdinal
		}
		return all[i].VersionOrdinal < all[j].VersionOrdinal
	})
	return paginate(all, params), len(all), nil
}

func (s *BoltStore) LatestVersion(tenantID, groupID, artifactID string) (*types.Version, error) {
	versions, _, err := s.SearchVersions(tenantID, groupID, artifactID, types.SearchParams{OrderDir: types.OrderDesc, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, curatorerr.Newf(curatorerr.NotFound, "artifact %s/%s has no versions", groupID, artifactID)
	}
	return versions[0], nil
}

// --- Markdown ---

func (s *BoltStore) PutMarkdown(tenantID, groupID, artifactID, version, markdown string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMarkdown).Put(versionKey(tenantID, groupID, artifactID, version), []byte(markdown))
	})
}

func (s *BoltStore) GetMarkdown(tenantID, groupID, artifactID, version string) (string, error) {
	var md string
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMarkdown).Get(versionKey(tenantID, groupID, artifactID, version))
		if data == nil {
			return curatorerr.Newf(curatorerr.NotFound, "markdown for %s/%s/%s not found", groupID, artifactID, version)
		}
		md = string(data)
		return nil
	})
	return md, err
}

// --- Admin ---

// DeleteAllUserData wipes every bucket's entries for tenantID. Through the
// facade it is a journal message applied by the Sink, so it runs in log
// order and never interleaves with another apply; there is no separate lock.
func (s *BoltStore) DeleteAllUserData(tenantID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		prefix := tenantPrefix(tenantID)
		for _, name := range allBuckets {
			b := tx.Bucket(name)
			var keys [][]byte
			c := b.Cursor()
			for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = c.Next() {
				cp := make([]byte, len(k))
				copy(cp, k)
				keys = append(keys, cp)
			}
			for _, k := range keys {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// --- shared json helpers ---

func putJSON(b *bolt.Bucket, key []byte, v interface{}) error {
	data, err := marshalJSON(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

// encodeUint64 / decodeUint64 are used by the Id Allocator's counters.
func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func decodeUint64(data []byte) uint64 {
	if len(data) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(data)
}

func parseContentID(s string) int64 {
	id, _ := strconv.ParseInt(s, 10, 64)
	return id
}
