// Package codec defines the typed key/payload envelope every mutation
// travels in as it moves through the journal, the Bootstrap sentinel, and
// tombstone detection. The envelope is versioned so a future field
// addition stays forward-compatible with records already on the log.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/curator/pkg/types"
)

// EnvelopeVersion is bumped whenever a payload shape changes in a way that
// isn't purely additive.
const EnvelopeVersion = 1

// MessageType identifies which facade write operation a record encodes.
type MessageType string

const (
	Bootstrap MessageType = "BOOTSTRAP"

	CreateGroup  MessageType = "CREATE_GROUP"
	DeleteGroup  MessageType = "DELETE_GROUP"

	CreateArtifact MessageType = "CREATE_ARTIFACT"
	UpdateArtifact MessageType = "UPDATE_ARTIFACT"
	DeleteArtifact MessageType = "DELETE_ARTIFACT"

	CreateVersion          MessageType = "CREATE_VERSION"
	UpdateVersion          MessageType = "UPDATE_VERSION"
	TransitionVersionState MessageType = "TRANSITION_VERSION_STATE"
	DeleteVersion          MessageType = "DELETE_VERSION"
	UpdateCanonicalHash    MessageType = "UPDATE_CANONICAL_HASH"

	PutGlobalRule    MessageType = "PUT_GLOBAL_RULE"
	DeleteGlobalRule MessageType = "DELETE_GLOBAL_RULE"
	PutArtifactRule  MessageType = "PUT_ARTIFACT_RULE"
	DeleteArtifactRule MessageType = "DELETE_ARTIFACT_RULE"

	CreateComment MessageType = "CREATE_COMMENT"
	DeleteComment MessageType = "DELETE_COMMENT"

	PutRoleMapping    MessageType = "PUT_ROLE_MAPPING"
	DeleteRoleMapping MessageType = "DELETE_ROLE_MAPPING"

	CreateDownload  MessageType = "CREATE_DOWNLOAD"
	ConsumeDownload MessageType = "CONSUME_DOWNLOAD"

	PutConfig    MessageType = "PUT_CONFIG"
	DeleteConfig MessageType = "DELETE_CONFIG"

	PutMarkdown MessageType = "PUT_MARKDOWN"

	DeleteAllUserData MessageType = "DELETE_ALL_USER_DATA"

	ReserveGlobalID  MessageType = "RESERVE_GLOBAL_ID"
	ReserveContentID MessageType = "RESERVE_CONTENT_ID"
	ResetGlobalID    MessageType = "RESET_GLOBAL_ID"
	ResetContentID   MessageType = "RESET_CONTENT_ID"
	ResetCommentID   MessageType = "RESET_COMMENT_ID"
)

// Key is the routing/identity header every record carries. UUID is the
// Submitter-generated correlation id the Coordinator keys its slot by.
type Key struct {
	MessageType MessageType `json:"messageType"`
	UUID        string      `json:"uuid"`
}

// Envelope is the full record body. A Bootstrap key always has a nil
// Payload. A non-Bootstrap key with a nil Payload is a tombstone and the
// Sink skips it without dispatch.
type Envelope struct {
	Version int             `json:"version"`
	Key     Key             `json:"key"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// IsBootstrap reports whether this envelope is a Bootstrap sentinel.
func (e *Envelope) IsBootstrap() bool { return e.Key.MessageType == Bootstrap }

// IsTombstone reports whether this is a null-payload, non-Bootstrap record.
func (e *Envelope) IsTombstone() bool { return !e.IsBootstrap() && len(e.Payload) == 0 }

// NewBootstrap builds the sentinel a node submits on startup, carrying a
// locally-generated bootstrapId as its UUID.
func NewBootstrap(bootstrapID string) *Envelope {
	return &Envelope{Version: EnvelopeVersion, Key: Key{MessageType: Bootstrap, UUID: bootstrapID}}
}

// NewTombstone builds a null-payload record for messageType/uuid.
func NewTombstone(messageType MessageType, uuid string) *Envelope {
	return &Envelope{Version: EnvelopeVersion, Key: Key{MessageType: messageType, UUID: uuid}}
}

// New builds an envelope around a typed payload, marshaled to the generic
// payload field.
func New(messageType MessageType, uuid string, payload interface{}) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for %s: %w", messageType, err)
	}
	return &Envelope{Version: EnvelopeVersion, Key: Key{MessageType: messageType, UUID: uuid}, Payload: data}, nil
}

// Encode serializes an envelope to the bytes stored in the journal record.
func Encode(e *Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses a journal record's raw bytes into an Envelope. A decode
// failure is logged and the record skipped by the consumer loop rather
// than treated as fatal.
func Decode(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &e, nil
}

// DecodePayload unmarshals an envelope's payload into dst.
func DecodePayload(e *Envelope, dst interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("envelope for %s/%s has no payload", e.Key.MessageType, e.Key.UUID)
	}
	return json.Unmarshal(e.Payload, dst)
}

// --- Typed payloads, one per write operation's argument list ---

type CreateGroupPayload struct {
	TenantID    string            `json:"tenantId"`
	GroupID     string            `json:"groupId"`
	Owner       string            `json:"owner"`
	Description string            `json:"description,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
}

type DeleteGroupPayload struct {
	TenantID string `json:"tenantId"`
	GroupID  string `json:"groupId"`
}

type CreateArtifactPayload struct {
	TenantID     string                     `json:"tenantId"`
	GroupID      string                     `json:"groupId"`
	ArtifactID   string                     `json:"artifactId"`
	Type         string                     `json:"type"`
	Owner        string                     `json:"owner"`
	Name         string                     `json:"name,omitempty"`
	Description  string                     `json:"description,omitempty"`
	Labels       map[string]string          `json:"labels,omitempty"`
	Version      string                     `json:"version"`
	Content      []byte                     `json:"content"`
	DeclaredType string                     `json:"declaredType"`
	References   []types.ArtifactReference `json:"references,omitempty"`
	Properties   map[string]string          `json:"properties,omitempty"`
}

type UpdateArtifactPayload struct {
	TenantID    string            `json:"tenantId"`
	GroupID     string            `json:"groupId"`
	ArtifactID  string            `json:"artifactId"`
	Name        string            `json:"name,omitempty"`
	Description string            `json:"description,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
}

type DeleteArtifactPayload struct {
	TenantID   string `json:"tenantId"`
	GroupID    string `json:"groupId"`
	ArtifactID string `json:"artifactId"`
}

type CreateVersionPayload struct {
	TenantID     string                     `json:"tenantId"`
	GroupID      string                     `json:"groupId"`
	ArtifactID   string                     `json:"artifactId"`
	Version      string                     `json:"version"`
	Owner        string                     `json:"owner"`
	Content      []byte                     `json:"content"`
	DeclaredType string                     `json:"declaredType"`
	References   []types.ArtifactReference `json:"references,omitempty"`
	Labels       map[string]string          `json:"labels,omitempty"`
	Properties   map[string]string          `json:"properties,omitempty"`
	// PreassignedGlobalID is non-zero only for import with preserveGlobalId;
	// the caller must have reserved it first.
	PreassignedGlobalID int64 `json:"preassignedGlobalId,omitempty"`
}

type UpdateVersionPayload struct {
	TenantID    string            `json:"tenantId"`
	GroupID     string            `json:"groupId"`
	ArtifactID  string            `json:"artifactId"`
	Version     string            `json:"version"`
	Name        string            `json:"name,omitempty"`
	Description string            `json:"description,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	Properties  map[string]string `json:"properties,omitempty"`
}

type TransitionVersionStatePayload struct {
	TenantID   string             `json:"tenantId"`
	GroupID    string             `json:"groupId"`
	ArtifactID string             `json:"artifactId"`
	Version    string             `json:"version"`
	NewState   types.VersionState `json:"newState"`
}

type DeleteVersionPayload struct {
	TenantID   string `json:"tenantId"`
	GroupID    string `json:"groupId"`
	ArtifactID string `json:"artifactId"`
	Version    string `json:"version"`
}

type UpdateCanonicalHashPayload struct {
	TenantID            string `json:"tenantId"`
	ContentID           int64  `json:"contentId"`
	ExpectedContentHash string `json:"expectedContentHash"`
	NewCanonicalHash    string `json:"newCanonicalHash"`
}

type PutGlobalRulePayload struct {
	TenantID string `json:"tenantId"`
	RuleType string `json:"ruleType"`
	Config   string `json:"config"`
}

type DeleteGlobalRulePayload struct {
	TenantID string `json:"tenantId"`
	RuleType string `json:"ruleType"`
}

type PutArtifactRulePayload struct {
	TenantID   string `json:"tenantId"`
	GroupID    string `json:"groupId"`
	ArtifactID string `json:"artifactId"`
	RuleType   string `json:"ruleType"`
	Config     string `json:"config"`
}

type DeleteArtifactRulePayload struct {
	TenantID   string `json:"tenantId"`
	GroupID    string `json:"groupId"`
	ArtifactID string `json:"artifactId"`
	RuleType   string `json:"ruleType"`
}

type CreateCommentPayload struct {
	TenantID string `json:"tenantId"`
	GlobalID int64  `json:"globalId"`
	Owner    string `json:"owner"`
	Value    string `json:"value"`
}

type DeleteCommentPayload struct {
	TenantID  string `json:"tenantId"`
	GlobalID  int64  `json:"globalId"`
	CommentID int64  `json:"commentId"`
}

type PutRoleMappingPayload struct {
	TenantID      string `json:"tenantId"`
	PrincipalID   string `json:"principalId"`
	PrincipalName string `json:"principalName,omitempty"`
	Role          string `json:"role"`
}

type DeleteRoleMappingPayload struct {
	TenantID    string `json:"tenantId"`
	PrincipalID string `json:"principalId"`
}

type CreateDownloadPayload struct {
	TenantID   string `json:"tenantId"`
	DownloadID string `json:"downloadId"`
	Context    string `json:"context"`
	TTLSeconds int64  `json:"ttlSeconds"`
}

type ConsumeDownloadPayload struct {
	TenantID   string `json:"tenantId"`
	DownloadID string `json:"downloadId"`
}

type PutConfigPayload struct {
	TenantID string `json:"tenantId"`
	Key      string `json:"key"`
	Value    string `json:"value"`
}

type DeleteConfigPayload struct {
	TenantID string `json:"tenantId"`
	Key      string `json:"key"`
}

type PutMarkdownPayload struct {
	TenantID   string `json:"tenantId"`
	GroupID    string `json:"groupId"`
	ArtifactID string `json:"artifactId"`
	Version    string `json:"version"`
	Markdown   string `json:"markdown"`
}

type DeleteAllUserDataPayload struct {
	TenantID string `json:"tenantId"`
}

// ReserveGlobalIDPayload and ReserveContentIDPayload carry the explicit
// reservation an importer with preserveGlobalId must make before using a
// PreassignedGlobalID: reservation goes through the journal so the
// allocator's advance is agreed cluster-wide before any version referencing
// it is submitted.
type ReserveGlobalIDPayload struct {
	ID int64 `json:"id"`
}

type ReserveContentIDPayload struct {
	ID int64 `json:"id"`
}

// Reset*Payload carry no fields; the reset scans existing rows for their own
// max. They are still journal operations, not direct storage calls, so a
// reset is applied in log order on every replica rather than racing live
// allocations on whichever node an operator happens to reach.
type ResetGlobalIDPayload struct{}

type ResetContentIDPayload struct{}

type ResetCommentIDPayload struct{}
