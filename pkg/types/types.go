// Package types defines the core data structures of Curator's content
// registry: groups, artifacts, versions, content, rules, comments, role
// mappings, downloads, and config properties. These are the shapes every
// other package (storage, journal, facade, sink) passes around.
package types

import "time"

// Group is a namespace for artifacts, created lazily on first artifact
// write. A nil/empty GroupID is treated as the "default" group.
type Group struct {
	TenantID    string            `json:"tenantId"`
	GroupID     string            `json:"groupId"`
	Owner       string            `json:"owner"`
	Description string            `json:"description,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	CreatedOn   time.Time         `json:"createdOn"`
	ModifiedOn  time.Time         `json:"modifiedOn"`
}

// Artifact is a named, versioned content unit under a Group. Coordinates
// (TenantID, GroupID, ArtifactID) are unique within a tenant.
type Artifact struct {
	TenantID    string            `json:"tenantId"`
	GroupID     string            `json:"groupId"`
	ArtifactID  string            `json:"artifactId"`
	Type        string            `json:"type"` // AVRO, PROTOBUF, JSON, OPENAPI, GRAPHQL, ...
	Owner       string            `json:"owner"`
	Name        string            `json:"name,omitempty"`
	Description string            `json:"description,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	CreatedOn   time.Time         `json:"createdOn"`
	ModifiedOn  time.Time         `json:"modifiedOn"`
}

// VersionState is the lifecycle state of a Version.
type VersionState string

const (
	VersionEnabled    VersionState = "ENABLED"
	VersionDisabled   VersionState = "DISABLED"
	VersionDeprecated VersionState = "DEPRECATED"
)

// Version is one immutable content snapshot of an artifact, identified both
// by coordinates (TenantID, GroupID, ArtifactID, Version) and by a
// cluster-unique GlobalID.
type Version struct {
	TenantID       string            `json:"tenantId"`
	GroupID        string            `json:"groupId"`
	ArtifactID     string            `json:"artifactId"`
	Version        string            `json:"version"`
	GlobalID       int64             `json:"globalId"`
	VersionOrdinal int64             `json:"versionOrdinal"`
	ContentID      int64             `json:"contentId"`
	Owner          string            `json:"owner"`
	Name           string            `json:"name,omitempty"`
	Description    string            `json:"description,omitempty"`
	State          VersionState      `json:"state"`
	Labels         map[string]string `json:"labels,omitempty"`
	Properties     map[string]string `json:"properties,omitempty"`
	Markdown       string            `json:"markdown,omitempty"`
	CreatedOn      time.Time         `json:"createdOn"`
	ModifiedOn     time.Time         `json:"modifiedOn"`
}

// ArtifactReference points from a version's content to another artifact's
// coordinates, optionally pinned to a specific version.
type ArtifactReference struct {
	GroupID    string `json:"groupId,omitempty"`
	ArtifactID string `json:"artifactId"`
	Version    string `json:"version,omitempty"`
	Name       string `json:"name"`
}

// Content is deduplicated, content-addressed raw bytes plus its reference
// list. Two versions with byte-identical content within a tenant share one
// Content row.
type Content struct {
	TenantID      string              `json:"tenantId"`
	ContentID     int64               `json:"contentId"`
	Bytes         []byte              `json:"bytes"`
	ContentHash   string              `json:"contentHash"`             // lowercase hex SHA-256 of Bytes
	CanonicalHash string              `json:"canonicalHash,omitempty"` // lowercase hex SHA-256, may be backfilled
	DeclaredType  string              `json:"declaredType"`
	References    []ArtifactReference `json:"references,omitempty"`
}

// RuleScope distinguishes a global rule from an artifact-scoped one.
type RuleScope string

const (
	RuleScopeGlobal   RuleScope = "GLOBAL"
	RuleScopeArtifact RuleScope = "ARTIFACT"
)

// Rule is either global (keyed by RuleType) or artifact-scoped (keyed by
// TenantID, GroupID, ArtifactID, RuleType). Config is opaque to the core.
type Rule struct {
	TenantID   string    `json:"tenantId"`
	Scope      RuleScope `json:"scope"`
	GroupID    string    `json:"groupId,omitempty"`
	ArtifactID string    `json:"artifactId,omitempty"`
	RuleType   string    `json:"ruleType"`
	Config     string    `json:"config"`
}

// Comment is a free-text note attached to a version by GlobalID.
type Comment struct {
	TenantID  string    `json:"tenantId"`
	CommentID int64     `json:"commentId"`
	GlobalID  int64     `json:"globalId"`
	Owner     string    `json:"owner"`
	CreatedOn time.Time `json:"createdOn"`
	Value     string    `json:"value"`
}

// RoleMapping grants a principal a role within a tenant.
type RoleMapping struct {
	TenantID      string `json:"tenantId"`
	PrincipalID   string `json:"principalId"`
	PrincipalName string `json:"principalName,omitempty"`
	Role          string `json:"role"`
}

// Download is an ephemeral single-use token whose Context is opaque to the
// core (the collaborator that created it knows how to interpret it — e.g.
// "export all artifacts in group g1").
type Download struct {
	TenantID   string    `json:"tenantId"`
	DownloadID string    `json:"downloadId"`
	Context    string    `json:"context"`
	ExpiresAt  time.Time `json:"expiresAt"`
	Consumed   bool      `json:"consumed"`
}

// ConfigProperty is a per-tenant dynamic key/value setting.
type ConfigProperty struct {
	TenantID   string    `json:"tenantId"`
	Key        string    `json:"key"`
	Value      string    `json:"value"`
	ModifiedOn time.Time `json:"modifiedOn"`
}

// SearchOrderDir is the sort direction for search operations.
type SearchOrderDir string

const (
	OrderAsc  SearchOrderDir = "ASC"
	OrderDesc SearchOrderDir = "DESC"
)

// ArtifactFilter is the closed set of filters searchArtifacts accepts. Each
// field is either an equals or a substring match depending on its declared
// semantics (Name/Description/Labels/Properties are substring;
// Group/Owner/GlobalID/ContentID are exact).
type ArtifactFilter struct {
	Name        string
	Group       string
	Description string
	Owner       string
	Labels      map[string]string
	Properties  map[string]string
	GlobalID    *int64
	ContentID   *int64
}

// SearchParams controls ordering and pagination shared by every search op.
type SearchParams struct {
	OrderBy  string
	OrderDir SearchOrderDir
	Offset   int
	Limit    int
}
