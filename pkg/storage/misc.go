package storage

import (
	"strings"
	"time"

	"github.com/cuemby/curator/pkg/curatorerr"
	"github.com/cuemby/curator/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// --- Comments ---

func commentKey(tenantID string, globalID, commentID int64) []byte {
	return []byte(tenantID + sep + zeroPad(globalID) + sep + zeroPad(commentID))
}

func commentPrefix(tenantID string, globalID int64) []byte {
	return []byte(tenantID + sep + zeroPad(globalID) + sep)
}

func (s *BoltStore) CreateComment(c *types.Comment) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketComments), commentKey(c.TenantID, c.GlobalID, c.CommentID), c)
	})
}

func (s *BoltStore) GetComment(tenantID string, globalID, commentID int64) (*types.Comment, error) {
	var c types.Comment
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketComments).Get(commentKey(tenantID, globalID, commentID))
		if data == nil {
			return curatorerr.Newf(curatorerr.NotFound, "comment %d not found", commentID)
		}
		return unmarshalJSON(data, &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *BoltStore) DeleteComment(tenantID string, globalID, commentID int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketComments)
		key := commentKey(tenantID, globalID, commentID)
		if b.Get(key) == nil {
			return curatorerr.Newf(curatorerr.NotFound, "comment %d not found", commentID)
		}
		return b.Delete(key)
	})
}

func (s *BoltStore) ListComments(tenantID string, globalID int64) ([]*types.Comment, error) {
	var comments []*types.Comment
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketComments)
		prefix := commentPrefix(tenantID, globalID)
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var cm types.Comment
			if err := unmarshalJSON(v, &cm); err != nil {
				return err
			}
			comments = append(comments, &cm)
		}
		return nil
	})
	return comments, err
}

// --- Role mappings ---

func roleMappingKey(tenantID, principalID string) []byte {
	return []byte(tenantID + sep + principalID)
}

func (s *BoltStore) PutRoleMapping(rm *types.RoleMapping) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketRoleMappings), roleMappingKey(rm.TenantID, rm.PrincipalID), rm)
	})
}

func (s *BoltStore) GetRoleMapping(tenantID, principalID string) (*types.RoleMapping, error) {
	var rm types.RoleMapping
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRoleMappings).Get(roleMappingKey(tenantID, principalID))
		if data == nil {
			return curatorerr.Newf(curatorerr.NotFound, "role mapping for %q not found", principalID)
		}
		return unmarshalJSON(data, &rm)
	})
	if err != nil {
		return nil, err
	}
	return &rm, nil
}

func (s *BoltStore) DeleteRoleMapping(tenantID, principalID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRoleMappings)
		key := roleMappingKey(tenantID, principalID)
		if b.Get(key) == nil {
			return curatorerr.Newf(curatorerr.NotFound, "role mapping for %q not found", principalID)
		}
		return b.Delete(key)
	})
}

func (s *BoltStore) ListRoleMappings(tenantID string) ([]*types.RoleMapping, error) {
	var mappings []*types.RoleMapping
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRoleMappings)
		prefix := tenantPrefix(tenantID)
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var rm types.RoleMapping
			if err := unmarshalJSON(v, &rm); err != nil {
				return err
			}
			mappings = append(mappings, &rm)
		}
		return nil
	})
	return mappings, err
}

// --- Downloads ---

func downloadKey(tenantID, downloadID string) []byte {
	return []byte(tenantID + sep + downloadID)
}

func (s *BoltStore) CreateDownload(d *types.Download) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDownloads)
		key := downloadKey(d.TenantID, d.DownloadID)
		if b.Get(key) != nil {
			return curatorerr.Newf(curatorerr.AlreadyExists, "download %q already exists", d.DownloadID)
		}
		return putJSON(b, key, d)
	})
}

// ConsumeDownload redeems a single-use token: NotFound if absent, expired,
// or already consumed.
func (s *BoltStore) ConsumeDownload(tenantID, downloadID string) (*types.Download, error) {
	var d types.Download
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDownloads)
		key := downloadKey(tenantID, downloadID)
		data := b.Get(key)
		if data == nil {
			return curatorerr.Newf(curatorerr.NotFound, "download %q not found", downloadID)
		}
		if err := unmarshalJSON(data, &d); err != nil {
			return err
		}
		if d.Consumed {
			return curatorerr.Newf(curatorerr.NotFound, "download %q already consumed", downloadID)
		}
		if time.Now().After(d.ExpiresAt) {
			return curatorerr.Newf(curatorerr.NotFound, "download %q expired", downloadID)
		}
		d.Consumed = true
		return putJSON(b, key, &d)
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// --- Config ---

func configKey(tenantID, key string) []byte {
	return []byte(tenantID + sep + key)
}

func (s *BoltStore) PutConfig(c *types.ConfigProperty) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketConfig), configKey(c.TenantID, c.Key), c)
	})
}

func (s *BoltStore) GetConfig(tenantID, key string) (*types.ConfigProperty, error) {
	var c types.ConfigProperty
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketConfig).Get(configKey(tenantID, key))
		if data == nil {
			return curatorerr.Newf(curatorerr.NotFound, "config key %q not found", key)
		}
		return unmarshalJSON(data, &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *BoltStore) DeleteConfig(tenantID, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConfig)
		k := configKey(tenantID, key)
		if b.Get(k) == nil {
			return curatorerr.Newf(curatorerr.NotFound, "config key %q not found", key)
		}
		return b.Delete(k)
	})
}

func (s *BoltStore) ListConfig(tenantID string) ([]*types.ConfigProperty, error) {
	var configs []*types.ConfigProperty
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConfig)
		prefix := tenantPrefix(tenantID)
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var cfg types.ConfigProperty
			if err := unmarshalJSON(v, &cfg); err != nil {
				return err
			}
			configs = append(configs, &cfg)
		}
		return nil
	})
	return configs, err
}
