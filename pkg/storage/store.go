// Package storage implements Curator's local relational and content-addressed
// state: the Content Store, Relational State, and Id Allocator components
// that sit under the facade. Every method here operates on already-decided
// state — the Journal Codec/Sink decide whether a mutation should happen at
// all, storage just persists it durably and enforces its own invariants
// (uniqueness, dedup, monotonic ids, referential integrity).
package storage

import (
	"github.com/cuemby/curator/pkg/types"
)

// Store is the full storage contract consumed by the Local Store Facade.
// A BoltStore is the only implementation; the interface exists so tests can
// substitute an in-memory fake without dragging in bbolt.
type Store interface {
	Close() error

	// --- Content Store (A) ---
	PutContent(tenantID string, bytes []byte, declaredType string, refs []types.ArtifactReference) (contentID int64, wasNew bool, err error)
	GetContentByID(tenantID string, contentID int64) (*types.Content, error)
	GetContentByHash(tenantID, contentHash string) (*types.Content, error)
	UpdateCanonicalHash(tenantID string, contentID int64, expectedContentHash, newCanonicalHash string) error
	ListContentMissingCanonicalHash(tenantID string) ([]*types.Content, error)
	ValidateReferences(tenantID string, refs []types.ArtifactReference, strict bool) error

	// --- Groups ---
	CreateGroup(g *types.Group) error
	GetGroup(tenantID, groupID string) (*types.Group, error)
	DeleteGroup(tenantID, groupID string) error
	SearchGroups(tenantID string, filter GroupFilter, params types.SearchParams) ([]*types.Group, int, error)

	// --- Artifacts ---
	CreateArtifact(a *types.Artifact) error
	GetArtifact(tenantID, groupID, artifactID string) (*types.Artifact, error)
	UpdateArtifact(a *types.Artifact) error
	DeleteArtifact(tenantID, groupID, artifactID string) error
	SearchArtifacts(tenantID string, filter types.ArtifactFilter, params types.SearchParams) ([]*types.Artifact, int, error)
	CountArtifactVersions(tenantID, groupID, artifactID string) (int, error)

	// --- Versions ---
	CreateVersion(v *types.Version) error
	GetVersion(tenantID, groupID, artifactID, version string) (*types.Version, error)
	GetVersionByGlobalID(tenantID string, globalID int64) (*types.Version, error)
	UpdateVersion(v *types.Version) error
	DeleteVersion(tenantID, groupID, artifactID, version string) error
	SearchVersions(tenantID, groupID, artifactID string, params types.SearchParams) ([]*types.Version, int, error)
	LatestVersion(tenantID, groupID, artifactID string) (*types.Version, error)
	TransitionVersionState(tenantID, groupID, artifactID, version string, newState types.VersionState) error

	// --- Id Allocator (C) ---
	NextGlobalID() (int64, error)
	NextCommentID() (int64, error)
	NextVersionOrdinal(tenantID, groupID, artifactID string) (int64, error)
	ResetGlobalID() error
	ResetContentID() error
	ResetCommentID() error
	ReserveGlobalID(id int64) error
	ReserveContentID(id int64) error

	// --- Rules ---
	PutGlobalRule(r *types.Rule) error
	GetGlobalRule(tenantID, ruleType string) (*types.Rule, error)
	DeleteGlobalRule(tenantID, ruleType string) error
	ListGlobalRules(tenantID string) ([]*types.Rule, error)
	PutArtifactRule(r *types.Rule) error
	GetArtifactRule(tenantID, groupID, artifactID, ruleType string) (*types.Rule, error)
	DeleteArtifactRule(tenantID, groupID, artifactID, ruleType string) error
	ListArtifactRules(tenantID, groupID, artifactID string) ([]*types.Rule, error)

	// --- Comments ---
	CreateComment(c *types.Comment) error
	GetComment(tenantID string, globalID, commentID int64) (*types.Comment, error)
	DeleteComment(tenantID string, globalID, commentID int64) error
	ListComments(tenantID string, globalID int64) ([]*types.Comment, error)

	// --- Role mappings ---
	PutRoleMapping(rm *types.RoleMapping) error
	GetRoleMapping(tenantID, principalID string) (*types.RoleMapping, error)
	DeleteRoleMapping(tenantID, principalID string) error
	ListRoleMappings(tenantID string) ([]*types.RoleMapping, error)

	// --- Downloads ---
	CreateDownload(d *types.Download) error
	ConsumeDownload(tenantID, downloadID string) (*types.Download, error)

	// --- Config ---
	PutConfig(c *types.ConfigProperty) error
	GetConfig(tenantID, key string) (*types.ConfigProperty, error)
	DeleteConfig(tenantID, key string) error
	ListConfig(tenantID string) ([]*types.ConfigProperty, error)

	// --- Markdown ---
	PutMarkdown(tenantID, groupID, artifactID, version, markdown string) error
	GetMarkdown(tenantID, groupID, artifactID, version string) (string, error)

	// --- Admin ---
	DeleteAllUserData(tenantID string) error
}

// GroupFilter is the closed filter set for SearchGroups.
type GroupFilter struct {
	Description string
	Labels      map[string]string
}
