package storage

import (
	"strings"

	"github.com/cuemby/curator/pkg/curatorerr"
	"github.com/cuemby/curator/pkg/types"
	bolt "go.etcd.io/bbolt"
)

func globalRuleKey(tenantID, ruleType string) []byte {
	return []byte(tenantID + sep + ruleType)
}

func artifactRuleKey(tenantID, groupID, artifactID, ruleType string) []byte {
	return []byte(tenantID + sep + groupID + sep + artifactID + sep + ruleType)
}

func (s *BoltStore) PutGlobalRule(r *types.Rule) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketGlobalRules), globalRuleKey(r.TenantID, r.RuleType), r)
	})
}

func (s *BoltStore) GetGlobalRule(tenantID, ruleType string) (*types.Rule, error) {
	var r types.Rule
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketGlobalRules).Get(globalRuleKey(tenantID, ruleType))
		if data == nil {
			return curatorerr.Newf(curatorerr.NotFound, "global rule %q not found", ruleType)
		}
		return unmarshalJSON(data, &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *BoltStore) DeleteGlobalRule(tenantID, ruleType string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGlobalRules)
		key := globalRuleKey(tenantID, ruleType)
		if b.Get(key) == nil {
			return curatorerr.Newf(curatorerr.NotFound, "global rule %q not found", ruleType)
		}
		return b.Delete(key)
	})
}

func (s *BoltStore) ListGlobalRules(tenantID string) ([]*types.Rule, error) {
	var rules []*types.Rule
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGlobalRules)
		prefix := tenantPrefix(tenantID)
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var r types.Rule
			if err := unmarshalJSON(v, &r); err != nil {
				return err
			}
			rules = append(rules, &r)
		}
		return nil
	})
	return rules, err
}

func (s *BoltStore) PutArtifactRule(r *types.Rule) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketArtifactRules), artifactRuleKey(r.TenantID, r.GroupID, r.ArtifactID, r.RuleType), r)
	})
}

func (s *BoltStore) GetArtifactRule(tenantID, groupID, artifactID, ruleType string) (*types.Rule, error) {
	var r types.Rule
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketArtifactRules).Get(artifactRuleKey(tenantID, groupID, artifactID, ruleType))
		if data == nil {
			return curatorerr.Newf(curatorerr.NotFound, "artifact rule %q not found", ruleType)
		}
		return unmarshalJSON(data, &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *BoltStore) DeleteArtifactRule(tenantID, groupID, artifactID, ruleType string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketArtifactRules)
		key := artifactRuleKey(tenantID, groupID, artifactID, ruleType)
		if b.Get(key) == nil {
			return curatorerr.Newf(curatorerr.NotFound, "artifact rule %q not found", ruleType)
		}
		return b.Delete(key)
	})
}

func (s *BoltStore) ListArtifactRules(tenantID, groupID, artifactID string) ([]*types.Rule, error) {
	var rules []*types.Rule
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketArtifactRules)
		prefix := artifactPrefix(tenantID, groupID, artifactID)
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var r types.Rule
			if err := unmarshalJSON(v, &r); err != nil {
				return err
			}
			rules = append(rules, &r)
		}
		return nil
	})
	return rules, err
}
