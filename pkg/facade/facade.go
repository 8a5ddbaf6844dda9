// Package facade implements the Local Store Facade: the single synchronous
// API over the Content Store, Relational State and Id Allocator. Reads run
// directly against storage. Writes have two entry points: Execute methods
// evaluate rules, submit to the journal, and block on the Coordinator;
// ApplyLocally performs the actual transactional mutation and is called
// only by the Sink once a record is decided.
package facade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/curator/journal/codec"
	"github.com/cuemby/curator/pkg/curatorerr"
	"github.com/cuemby/curator/pkg/rules"
	"github.com/cuemby/curator/pkg/storage"
	"github.com/cuemby/curator/pkg/types"
)

// Submitter is the subset of *submitter.Submitter the facade needs to
// execute a write and block for its result.
type Submitter interface {
	Execute(ctx context.Context, messageType codec.MessageType, payload interface{}, timeout time.Duration) (interface{}, error)
}

// strictReferencesConfigKey is the per-tenant ConfigProperty that overrides
// the default StrictReferences policy. Any value other than "false" is
// treated as strict.
const strictReferencesConfigKey = "registry.references.strict"

// Facade is the Local Store Facade. Construct with New; a zero value has a
// nil store and panics on first use.
type Facade struct {
	store     storage.Store
	submitter Submitter
	evaluator rules.Evaluator
	timeout   time.Duration
}

// New builds a Facade. evaluator may be rules.NoopEvaluator{} when no rule
// checking is configured.
func New(store storage.Store, submitter Submitter, evaluator rules.Evaluator, timeout time.Duration) *Facade {
	if evaluator == nil {
		evaluator = rules.NoopEvaluator{}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Facade{store: store, submitter: submitter, evaluator: evaluator, timeout: timeout}
}

// SetSubmitter wires the Submitter after construction, for callers (core.New)
// that must build the Facade before the Submitter's own dependency (the
// journal) exists.
func (f *Facade) SetSubmitter(submitter Submitter) { f.submitter = submitter }

// --- Reads: direct to storage, no replication involved ---

func (f *Facade) GetGroup(tenantID, groupID string) (*types.Group, error) {
	return f.store.GetGroup(tenantID, groupID)
}

func (f *Facade) SearchGroups(tenantID string, filter storage.GroupFilter, params types.SearchParams) ([]*types.Group, int, error) {
	return f.store.SearchGroups(tenantID, filter, params)
}

func (f *Facade) GetArtifact(tenantID, groupID, artifactID string) (*types.Artifact, error) {
	return f.store.GetArtifact(tenantID, groupID, artifactID)
}

func (f *Facade) SearchArtifacts(tenantID string, filter types.ArtifactFilter, params types.SearchParams) ([]*types.Artifact, int, error) {
	return f.store.SearchArtifacts(tenantID, filter, params)
}

func (f *Facade) CountArtifactVersions(tenantID, groupID, artifactID string) (int, error) {
	return f.store.CountArtifactVersions(tenantID, groupID, artifactID)
}

func (f *Facade) GetVersion(tenantID, groupID, artifactID, version string) (*types.Version, error) {
	return f.store.GetVersion(tenantID, groupID, artifactID, version)
}

func (f *Facade) GetVersionByGlobalID(tenantID string, globalID int64) (*types.Version, error) {
	return f.store.GetVersionByGlobalID(tenantID, globalID)
}

func (f *Facade) SearchVersions(tenantID, groupID, artifactID string, params types.SearchParams) ([]*types.Version, int, error) {
	return f.store.SearchVersions(tenantID, groupID, artifactID, params)
}

func (f *Facade) LatestVersion(tenantID, groupID, artifactID string) (*types.Version, error) {
	return f.store.LatestVersion(tenantID, groupID, artifactID)
}

func (f *Facade) GetContentByID(tenantID string, contentID int64) (*types.Content, error) {
	return f.store.GetContentByID(tenantID, contentID)
}

func (f *Facade) GetContentByHash(tenantID, contentHash string) (*types.Content, error) {
	return f.store.GetContentByHash(tenantID, contentHash)
}

func (f *Facade) ListGlobalRules(tenantID string) ([]*types.Rule, error) { return f.store.ListGlobalRules(tenantID) }

func (f *Facade) GetGlobalRule(tenantID, ruleType string) (*types.Rule, error) {
	return f.store.GetGlobalRule(tenantID, ruleType)
}

func (f *Facade) ListArtifactRules(tenantID, groupID, artifactID string) ([]*types.Rule, error) {
	return f.store.ListArtifactRules(tenantID, groupID, artifactID)
}

func (f *Facade) ListComments(tenantID string, globalID int64) ([]*types.Comment, error) {
	return f.store.ListComments(tenantID, globalID)
}

func (f *Facade) GetRoleMapping(tenantID, principalID string) (*types.RoleMapping, error) {
	return f.store.GetRoleMapping(tenantID, principalID)
}

func (f *Facade) ListRoleMappings(tenantID string) ([]*types.RoleMapping, error) {
	return f.store.ListRoleMappings(tenantID)
}

func (f *Facade) GetConfig(tenantID, key string) (*types.ConfigProperty, error) {
	return f.store.GetConfig(tenantID, key)
}

func (f *Facade) ListConfig(tenantID string) ([]*types.ConfigProperty, error) {
	return f.store.ListConfig(tenantID)
}

func (f *Facade) GetMarkdown(tenantID, groupID, artifactID, version string) (string, error) {
	return f.store.GetMarkdown(tenantID, groupID, artifactID, version)
}

// evaluateRules runs every global and artifact-scoped rule registered for
// the coordinates against the candidate write, before anything is
// submitted to the journal, so validation errors never enter the journal.
func (f *Facade) evaluateRules(tenantID, groupID, artifactID string, content []byte, declaredType string, refs []types.ArtifactReference) error {
	global, err := f.store.ListGlobalRules(tenantID)
	if err != nil {
		return err
	}
	artifact, err := f.store.ListArtifactRules(tenantID, groupID, artifactID)
	if err != nil {
		return err
	}
	for _, r := range append(global, artifact...) {
		if err := f.evaluator.Evaluate(r.RuleType, r.Config, content, declaredType, refs); err != nil {
			return curatorerr.Wrap(curatorerr.RuleViolation, fmt.Sprintf("rule %s rejected content", r.RuleType), err)
		}
	}
	return nil
}

// referencesStrict reports the StrictReferences policy for tenantID: strict
// by default, overridable per-tenant via the registry.references.strict
// ConfigProperty.
func (f *Facade) referencesStrict(tenantID string) bool {
	prop, err := f.store.GetConfig(tenantID, strictReferencesConfigKey)
	if err != nil {
		return true
	}
	return prop.Value != "false"
}

// --- Writes: evaluate rules (content-bearing ops only), submit, block ---

func (f *Facade) CreateGroup(ctx context.Context, g *types.Group) (*types.Group, error) {
	payload := codec.CreateGroupPayload{TenantID: g.TenantID, GroupID: g.GroupID, Owner: g.Owner, Description: g.Description, Labels: g.Labels}
	v, err := f.submitter.Execute(ctx, codec.CreateGroup, payload, f.timeout)
	if err != nil {
		return nil, err
	}
	return v.(*types.Group), nil
}

func (f *Facade) DeleteGroup(ctx context.Context, tenantID, groupID string) error {
	payload := codec.DeleteGroupPayload{TenantID: tenantID, GroupID: groupID}
	_, err := f.submitter.Execute(ctx, codec.DeleteGroup, payload, f.timeout)
	return err
}

// CreateArtifact creates both the artifact and its first version in one
// submission: an artifact cannot exist without at least one version.
func (f *Facade) CreateArtifact(ctx context.Context, p codec.CreateArtifactPayload) (*types.Version, error) {
	if err := f.evaluateRules(p.TenantID, p.GroupID, p.ArtifactID, p.Content, p.DeclaredType, p.References); err != nil {
		return nil, err
	}
	if err := f.store.ValidateReferences(p.TenantID, p.References, f.referencesStrict(p.TenantID)); err != nil {
		return nil, err
	}
	v, err := f.submitter.Execute(ctx, codec.CreateArtifact, p, f.timeout)
	if err != nil {
		return nil, err
	}
	return v.(*types.Version), nil
}

func (f *Facade) UpdateArtifact(ctx context.Context, p codec.UpdateArtifactPayload) (*types.Artifact, error) {
	v, err := f.submitter.Execute(ctx, codec.UpdateArtifact, p, f.timeout)
	if err != nil {
		return nil, err
	}
	return v.(*types.Artifact), nil
}

func (f *Facade) DeleteArtifact(ctx context.Context, tenantID, groupID, artifactID string) error {
	payload := codec.DeleteArtifactPayload{TenantID: tenantID, GroupID: groupID, ArtifactID: artifactID}
	_, err := f.submitter.Execute(ctx, codec.DeleteArtifact, payload, f.timeout)
	return err
}

func (f *Facade) CreateVersion(ctx context.Context, p codec.CreateVersionPayload) (*types.Version, error) {
	if err := f.evaluateRules(p.TenantID, p.GroupID, p.ArtifactID, p.Content, p.DeclaredType, p.References); err != nil {
		return nil, err
	}
	if err := f.store.ValidateReferences(p.TenantID, p.References, f.referencesStrict(p.TenantID)); err != nil {
		return nil, err
	}
	v, err := f.submitter.Execute(ctx, codec.CreateVersion, p, f.timeout)
	if err != nil {
		return nil, err
	}
	return v.(*types.Version), nil
}

func (f *Facade) UpdateVersion(ctx context.Context, p codec.UpdateVersionPayload) (*types.Version, error) {
	v, err := f.submitter.Execute(ctx, codec.UpdateVersion, p, f.timeout)
	if err != nil {
		return nil, err
	}
	return v.(*types.Version), nil
}

func (f *Facade) TransitionVersionState(ctx context.Context, p codec.TransitionVersionStatePayload) error {
	_, err := f.submitter.Execute(ctx, codec.TransitionVersionState, p, f.timeout)
	return err
}

func (f *Facade) DeleteVersion(ctx context.Context, p codec.DeleteVersionPayload) error {
	_, err := f.submitter.Execute(ctx, codec.DeleteVersion, p, f.timeout)
	return err
}

func (f *Facade) UpdateCanonicalHash(ctx context.Context, p codec.UpdateCanonicalHashPayload) error {
	_, err := f.submitter.Execute(ctx, codec.UpdateCanonicalHash, p, f.timeout)
	return err
}

func (f *Facade) PutGlobalRule(ctx context.Context, p codec.PutGlobalRulePayload) error {
	_, err := f.submitter.Execute(ctx, codec.PutGlobalRule, p, f.timeout)
	return err
}

func (f *Facade) DeleteGlobalRule(ctx context.Context, p codec.DeleteGlobalRulePayload) error {
	_, err := f.submitter.Execute(ctx, codec.DeleteGlobalRule, p, f.timeout)
	return err
}

func (f *Facade) PutArtifactRule(ctx context.Context, p codec.PutArtifactRulePayload) error {
	_, err := f.submitter.Execute(ctx, codec.PutArtifactRule, p, f.timeout)
	return err
}

func (f *Facade) DeleteArtifactRule(ctx context.Context, p codec.DeleteArtifactRulePayload) error {
	_, err := f.submitter.Execute(ctx, codec.DeleteArtifactRule, p, f.timeout)
	return err
}

func (f *Facade) CreateComment(ctx context.Context, p codec.CreateCommentPayload) (*types.Comment, error) {
	v, err := f.submitter.Execute(ctx, codec.CreateComment, p, f.timeout)
	if err != nil {
		return nil, err
	}
	return v.(*types.Comment), nil
}

func (f *Facade) DeleteComment(ctx context.Context, p codec.DeleteCommentPayload) error {
	_, err := f.submitter.Execute(ctx, codec.DeleteComment, p, f.timeout)
	return err
}

func (f *Facade) PutRoleMapping(ctx context.Context, p codec.PutRoleMappingPayload) error {
	_, err := f.submitter.Execute(ctx, codec.PutRoleMapping, p, f.timeout)
	return err
}

func (f *Facade) DeleteRoleMapping(ctx context.Context, p codec.DeleteRoleMappingPayload) error {
	_, err := f.submitter.Execute(ctx, codec.DeleteRoleMapping, p, f.timeout)
	return err
}

func (f *Facade) CreateDownload(ctx context.Context, p codec.CreateDownloadPayload) (*types.Download, error) {
	v, err := f.submitter.Execute(ctx, codec.CreateDownload, p, f.timeout)
	if err != nil {
		return nil, err
	}
	return v.(*types.Download), nil
}

// ConsumeDownload redeems a single-use download token. It goes through the
// journal like any other write so redemption is agreed cluster-wide: a
// token issued on one node and redeemed via a request landing on another
// must still be single-use.
func (f *Facade) ConsumeDownload(ctx context.Context, tenantID, downloadID string) (*types.Download, error) {
	payload := codec.ConsumeDownloadPayload{TenantID: tenantID, DownloadID: downloadID}
	v, err := f.submitter.Execute(ctx, codec.ConsumeDownload, payload, f.timeout)
	if err != nil {
		return nil, err
	}
	return v.(*types.Download), nil
}

func (f *Facade) PutConfig(ctx context.Context, p codec.PutConfigPayload) error {
	_, err := f.submitter.Execute(ctx, codec.PutConfig, p, f.timeout)
	return err
}

func (f *Facade) DeleteConfig(ctx context.Context, p codec.DeleteConfigPayload) error {
	_, err := f.submitter.Execute(ctx, codec.DeleteConfig, p, f.timeout)
	return err
}

func (f *Facade) PutMarkdown(ctx context.Context, p codec.PutMarkdownPayload) error {
	_, err := f.submitter.Execute(ctx, codec.PutMarkdown, p, f.timeout)
	return err
}

func (f *Facade) DeleteAllUserData(ctx context.Context, tenantID string) error {
	payload := codec.DeleteAllUserDataPayload{TenantID: tenantID}
	_, err := f.submitter.Execute(ctx, codec.DeleteAllUserData, payload, f.timeout)
	return err
}

// --- Id Allocator admin: reservation and reset, both journal operations ---

// ReserveGlobalID advances the globalId counter past id so a subsequent
// CreateVersion with PreassignedGlobalID: id cannot race a concurrent
// allocation. Returns a Conflict error if id was already issued.
func (f *Facade) ReserveGlobalID(ctx context.Context, id int64) error {
	payload := codec.ReserveGlobalIDPayload{ID: id}
	_, err := f.submitter.Execute(ctx, codec.ReserveGlobalID, payload, f.timeout)
	return err
}

// ReserveContentID is ReserveGlobalID's counterpart for the contentId
// counter.
func (f *Facade) ReserveContentID(ctx context.Context, id int64) error {
	payload := codec.ReserveContentIDPayload{ID: id}
	_, err := f.submitter.Execute(ctx, codec.ReserveContentID, payload, f.timeout)
	return err
}

// ResetGlobalID rescans every Version's GlobalID and advances the counter to
// max+1. Used after a bulk import that wrote rows directly rather than
// through CreateVersion.
func (f *Facade) ResetGlobalID(ctx context.Context) error {
	_, err := f.submitter.Execute(ctx, codec.ResetGlobalID, codec.ResetGlobalIDPayload{}, f.timeout)
	return err
}

// ResetContentID is ResetGlobalID's counterpart for the contentId counter.
func (f *Facade) ResetContentID(ctx context.Context) error {
	_, err := f.submitter.Execute(ctx, codec.ResetContentID, codec.ResetContentIDPayload{}, f.timeout)
	return err
}

// ResetCommentID is ResetGlobalID's counterpart for the commentId counter.
func (f *Facade) ResetCommentID(ctx context.Context) error {
	_, err := f.submitter.Execute(ctx, codec.ResetCommentID, codec.ResetCommentIDPayload{}, f.timeout)
	return err
}

// Canonicalizer computes a content-defined canonical hash for one content
// row, independent of ContentHash (which hashes the raw bytes verbatim).
// Only types with a canonical form (e.g. a schema whose whitespace and key
// order don't change its meaning) implement this meaningfully; others may
// return the empty string to report "no canonical form".
type Canonicalizer interface {
	Canonicalize(declaredType string, content []byte) (string, error)
}

// BackfillCanonicalHashes walks every content row for tenantID still missing
// a CanonicalHash and submits an UpdateCanonicalHash for each one the
// canonicalizer can compute. Rows a canonicalizer declines (empty result, no
// error) are left alone. Errors from individual rows are joined rather than
// aborting the walk, so one bad row doesn't block the rest of the backfill.
func (f *Facade) BackfillCanonicalHashes(ctx context.Context, tenantID string, canonicalizer Canonicalizer) error {
	pending, err := f.store.ListContentMissingCanonicalHash(tenantID)
	if err != nil {
		return err
	}

	var errs []error
	for _, c := range pending {
		canonicalHash, err := canonicalizer.Canonicalize(c.DeclaredType, c.Bytes)
		if err != nil {
			errs = append(errs, fmt.Errorf("canonicalize content %d: %w", c.ContentID, err))
			continue
		}
		if canonicalHash == "" {
			continue
		}
		payload := codec.UpdateCanonicalHashPayload{
			TenantID:            tenantID,
			ContentID:           c.ContentID,
			ExpectedContentHash: c.ContentHash,
			NewCanonicalHash:    canonicalHash,
		}
		if _, err := f.submitter.Execute(ctx, codec.UpdateCanonicalHash, payload, f.timeout); err != nil {
			errs = append(errs, fmt.Errorf("update canonical hash for content %d: %w", c.ContentID, err))
		}
	}
	return errors.Join(errs...)
}
