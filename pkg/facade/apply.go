package facade

import (
	"time"

	"github.com/cuemby/curator/journal/codec"
	"github.com/cuemby/curator/pkg/curatorerr"
	"github.com/cuemby/curator/pkg/types"
)

// ApplyLocally performs the actual transactional mutation a decoded journal
// record describes. Only the Sink calls this — it is the "apply mode" half
// of the facade's dual-mode write surface: no rule evaluation (already done
// before submission) and no journal round-trip, just storage plus the Id
// Allocator.
func (f *Facade) ApplyLocally(env *codec.Envelope) (interface{}, error) {
	switch env.Key.MessageType {
	case codec.CreateGroup:
		var p codec.CreateGroupPayload
		if err := codec.DecodePayload(env, &p); err != nil {
			return nil, curatorerr.Wrap(curatorerr.Fatal, "decode CreateGroup", err)
		}
		return f.applyCreateGroup(p)

	case codec.DeleteGroup:
		var p codec.DeleteGroupPayload
		if err := codec.DecodePayload(env, &p); err != nil {
			return nil, curatorerr.Wrap(curatorerr.Fatal, "decode DeleteGroup", err)
		}
		return nil, f.store.DeleteGroup(p.TenantID, p.GroupID)

	case codec.CreateArtifact:
		var p codec.CreateArtifactPayload
		if err := codec.DecodePayload(env, &p); err != nil {
			return nil, curatorerr.Wrap(curatorerr.Fatal, "decode CreateArtifact", err)
		}
		return f.applyCreateArtifact(p)

	case codec.UpdateArtifact:
		var p codec.UpdateArtifactPayload
		if err := codec.DecodePayload(env, &p); err != nil {
			return nil, curatorerr.Wrap(curatorerr.Fatal, "decode UpdateArtifact", err)
		}
		return f.applyUpdateArtifact(p)

	case codec.DeleteArtifact:
		var p codec.DeleteArtifactPayload
		if err := codec.DecodePayload(env, &p); err != nil {
			return nil, curatorerr.Wrap(curatorerr.Fatal, "decode DeleteArtifact", err)
		}
		return nil, f.store.DeleteArtifact(p.TenantID, p.GroupID, p.ArtifactID)

	case codec.CreateVersion:
		var p codec.CreateVersionPayload
		if err := codec.DecodePayload(env, &p); err != nil {
			return nil, curatorerr.Wrap(curatorerr.Fatal, "decode CreateVersion", err)
		}
		return f.applyCreateVersion(p)

	case codec.UpdateVersion:
		var p codec.UpdateVersionPayload
		if err := codec.DecodePayload(env, &p); err != nil {
			return nil, curatorerr.Wrap(curatorerr.Fatal, "decode UpdateVersion", err)
		}
		return f.applyUpdateVersion(p)

	case codec.TransitionVersionState:
		var p codec.TransitionVersionStatePayload
		if err := codec.DecodePayload(env, &p); err != nil {
			return nil, curatorerr.Wrap(curatorerr.Fatal, "decode TransitionVersionState", err)
		}
		return nil, f.store.TransitionVersionState(p.TenantID, p.GroupID, p.ArtifactID, p.Version, p.NewState)

	case codec.DeleteVersion:
		var p codec.DeleteVersionPayload
		if err := codec.DecodePayload(env, &p); err != nil {
			return nil, curatorerr.Wrap(curatorerr.Fatal, "decode DeleteVersion", err)
		}
		return nil, f.store.DeleteVersion(p.TenantID, p.GroupID, p.ArtifactID, p.Version)

	case codec.UpdateCanonicalHash:
		var p codec.UpdateCanonicalHashPayload
		if err := codec.DecodePayload(env, &p); err != nil {
			return nil, curatorerr.Wrap(curatorerr.Fatal, "decode UpdateCanonicalHash", err)
		}
		return nil, f.store.UpdateCanonicalHash(p.TenantID, p.ContentID, p.ExpectedContentHash, p.NewCanonicalHash)

	case codec.PutGlobalRule:
		var p codec.PutGlobalRulePayload
		if err := codec.DecodePayload(env, &p); err != nil {
			return nil, curatorerr.Wrap(curatorerr.Fatal, "decode PutGlobalRule", err)
		}
		r := &types.Rule{TenantID: p.TenantID, Scope: types.RuleScopeGlobal, RuleType: p.RuleType, Config: p.Config}
		return nil, f.store.PutGlobalRule(r)

	case codec.DeleteGlobalRule:
		var p codec.DeleteGlobalRulePayload
		if err := codec.DecodePayload(env, &p); err != nil {
			return nil, curatorerr.Wrap(curatorerr.Fatal, "decode DeleteGlobalRule", err)
		}
		return nil, f.store.DeleteGlobalRule(p.TenantID, p.RuleType)

	case codec.PutArtifactRule:
		var p codec.PutArtifactRulePayload
		if err := codec.DecodePayload(env, &p); err != nil {
			return nil, curatorerr.Wrap(curatorerr.Fatal, "decode PutArtifactRule", err)
		}
		r := &types.Rule{TenantID: p.TenantID, Scope: types.RuleScopeArtifact, GroupID: p.GroupID, ArtifactID: p.ArtifactID, RuleType: p.RuleType, Config: p.Config}
		return nil, f.store.PutArtifactRule(r)

	case codec.DeleteArtifactRule:
		var p codec.DeleteArtifactRulePayload
		if err := codec.DecodePayload(env, &p); err != nil {
			return nil, curatorerr.Wrap(curatorerr.Fatal, "decode DeleteArtifactRule", err)
		}
		return nil, f.store.DeleteArtifactRule(p.TenantID, p.GroupID, p.ArtifactID, p.RuleType)

	case codec.CreateComment:
		var p codec.CreateCommentPayload
		if err := codec.DecodePayload(env, &p); err != nil {
			return nil, curatorerr.Wrap(curatorerr.Fatal, "decode CreateComment", err)
		}
		return f.applyCreateComment(p)

	case codec.DeleteComment:
		var p codec.DeleteCommentPayload
		if err := codec.DecodePayload(env, &p); err != nil {
			return nil, curatorerr.Wrap(curatorerr.Fatal, "decode DeleteComment", err)
		}
		return nil, f.store.DeleteComment(p.TenantID, p.GlobalID, p.CommentID)

	case codec.PutRoleMapping:
		var p codec.PutRoleMappingPayload
		if err := codec.DecodePayload(env, &p); err != nil {
			return nil, curatorerr.Wrap(curatorerr.Fatal, "decode PutRoleMapping", err)
		}
		rm := &types.RoleMapping{TenantID: p.TenantID, PrincipalID: p.PrincipalID, PrincipalName: p.PrincipalName, Role: p.Role}
		return nil, f.store.PutRoleMapping(rm)

	case codec.DeleteRoleMapping:
		var p codec.DeleteRoleMappingPayload
		if err := codec.DecodePayload(env, &p); err != nil {
			return nil, curatorerr.Wrap(curatorerr.Fatal, "decode DeleteRoleMapping", err)
		}
		return nil, f.store.DeleteRoleMapping(p.TenantID, p.PrincipalID)

	case codec.CreateDownload:
		var p codec.CreateDownloadPayload
		if err := codec.DecodePayload(env, &p); err != nil {
			return nil, curatorerr.Wrap(curatorerr.Fatal, "decode CreateDownload", err)
		}
		d := &types.Download{TenantID: p.TenantID, DownloadID: p.DownloadID, Context: p.Context, ExpiresAt: time.Now().UTC().Add(time.Duration(p.TTLSeconds) * time.Second)}
		if err := f.store.CreateDownload(d); err != nil {
			return nil, err
		}
		return d, nil

	case codec.ConsumeDownload:
		var p codec.ConsumeDownloadPayload
		if err := codec.DecodePayload(env, &p); err != nil {
			return nil, curatorerr.Wrap(curatorerr.Fatal, "decode ConsumeDownload", err)
		}
		return f.store.ConsumeDownload(p.TenantID, p.DownloadID)

	case codec.PutConfig:
		var p codec.PutConfigPayload
		if err := codec.DecodePayload(env, &p); err != nil {
			return nil, curatorerr.Wrap(curatorerr.Fatal, "decode PutConfig", err)
		}
		c := &types.ConfigProperty{TenantID: p.TenantID, Key: p.Key, Value: p.Value, ModifiedOn: time.Now().UTC()}
		return nil, f.store.PutConfig(c)

	case codec.DeleteConfig:
		var p codec.DeleteConfigPayload
		if err := codec.DecodePayload(env, &p); err != nil {
			return nil, curatorerr.Wrap(curatorerr.Fatal, "decode DeleteConfig", err)
		}
		return nil, f.store.DeleteConfig(p.TenantID, p.Key)

	case codec.PutMarkdown:
		var p codec.PutMarkdownPayload
		if err := codec.DecodePayload(env, &p); err != nil {
			return nil, curatorerr.Wrap(curatorerr.Fatal, "decode PutMarkdown", err)
		}
		return nil, f.store.PutMarkdown(p.TenantID, p.GroupID, p.ArtifactID, p.Version, p.Markdown)

	case codec.DeleteAllUserData:
		var p codec.DeleteAllUserDataPayload
		if err := codec.DecodePayload(env, &p); err != nil {
			return nil, curatorerr.Wrap(curatorerr.Fatal, "decode DeleteAllUserData", err)
		}
		return nil, f.store.DeleteAllUserData(p.TenantID)

	case codec.ReserveGlobalID:
		var p codec.ReserveGlobalIDPayload
		if err := codec.DecodePayload(env, &p); err != nil {
			return nil, curatorerr.Wrap(curatorerr.Fatal, "decode ReserveGlobalID", err)
		}
		return nil, f.store.ReserveGlobalID(p.ID)

	case codec.ReserveContentID:
		var p codec.ReserveContentIDPayload
		if err := codec.DecodePayload(env, &p); err != nil {
			return nil, curatorerr.Wrap(curatorerr.Fatal, "decode ReserveContentID", err)
		}
		return nil, f.store.ReserveContentID(p.ID)

	case codec.ResetGlobalID:
		return nil, f.store.ResetGlobalID()

	case codec.ResetContentID:
		return nil, f.store.ResetContentID()

	case codec.ResetCommentID:
		return nil, f.store.ResetCommentID()

	default:
		return nil, curatorerr.Newf(curatorerr.Fatal, "unknown message type %s", env.Key.MessageType)
	}
}

func (f *Facade) applyCreateGroup(p codec.CreateGroupPayload) (*types.Group, error) {
	now := time.Now().UTC()
	g := &types.Group{TenantID: p.TenantID, GroupID: p.GroupID, Owner: p.Owner, Description: p.Description, Labels: p.Labels, CreatedOn: now, ModifiedOn: now}
	if err := f.store.CreateGroup(g); err != nil {
		return nil, err
	}
	return g, nil
}

// applyCreateArtifact creates the artifact and its first version together:
// an artifact can never exist with zero versions.
func (f *Facade) applyCreateArtifact(p codec.CreateArtifactPayload) (*types.Version, error) {
	contentID, _, err := f.store.PutContent(p.TenantID, p.Content, p.DeclaredType, p.References)
	if err != nil {
		return nil, err
	}
	globalID, err := f.store.NextGlobalID()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	artifact := &types.Artifact{
		TenantID: p.TenantID, GroupID: p.GroupID, ArtifactID: p.ArtifactID,
		Type: p.Type, Owner: p.Owner, Name: p.Name, Description: p.Description,
		Labels: p.Labels, CreatedOn: now, ModifiedOn: now,
	}
	if err := f.store.CreateArtifact(artifact); err != nil {
		return nil, err
	}

	ordinal, err := f.store.NextVersionOrdinal(p.TenantID, p.GroupID, p.ArtifactID)
	if err != nil {
		return nil, err
	}

	version := &types.Version{
		TenantID: p.TenantID, GroupID: p.GroupID, ArtifactID: p.ArtifactID, Version: p.Version,
		GlobalID: globalID, VersionOrdinal: ordinal, ContentID: contentID, Owner: p.Owner,
		State: types.VersionEnabled, Properties: p.Properties, CreatedOn: now, ModifiedOn: now,
	}
	if err := f.store.CreateVersion(version); err != nil {
		return nil, err
	}
	return version, nil
}

func (f *Facade) applyUpdateArtifact(p codec.UpdateArtifactPayload) (*types.Artifact, error) {
	a, err := f.store.GetArtifact(p.TenantID, p.GroupID, p.ArtifactID)
	if err != nil {
		return nil, err
	}
	a.Name = p.Name
	a.Description = p.Description
	a.Labels = p.Labels
	a.ModifiedOn = time.Now().UTC()
	if err := f.store.UpdateArtifact(a); err != nil {
		return nil, err
	}
	return a, nil
}

// applyCreateVersion allocates a globalId (or honors a caller-reserved one
// for imports), a contentId via content dedup, and the artifact's next
// VersionOrdinal from its own counter — never from the live version count,
// which would let a deleted ordinal be reissued to a later version.
func (f *Facade) applyCreateVersion(p codec.CreateVersionPayload) (*types.Version, error) {
	contentID, _, err := f.store.PutContent(p.TenantID, p.Content, p.DeclaredType, p.References)
	if err != nil {
		return nil, err
	}

	var globalID int64
	if p.PreassignedGlobalID != 0 {
		globalID = p.PreassignedGlobalID
	} else {
		globalID, err = f.store.NextGlobalID()
		if err != nil {
			return nil, err
		}
	}

	ordinal, err := f.store.NextVersionOrdinal(p.TenantID, p.GroupID, p.ArtifactID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	version := &types.Version{
		TenantID: p.TenantID, GroupID: p.GroupID, ArtifactID: p.ArtifactID, Version: p.Version,
		GlobalID: globalID, VersionOrdinal: ordinal, ContentID: contentID, Owner: p.Owner,
		State: types.VersionEnabled, Labels: p.Labels, Properties: p.Properties, CreatedOn: now, ModifiedOn: now,
	}
	if err := f.store.CreateVersion(version); err != nil {
		return nil, err
	}
	return version, nil
}

func (f *Facade) applyUpdateVersion(p codec.UpdateVersionPayload) (*types.Version, error) {
	v, err := f.store.GetVersion(p.TenantID, p.GroupID, p.ArtifactID, p.Version)
	if err != nil {
		return nil, err
	}
	v.Name = p.Name
	v.Description = p.Description
	v.Labels = p.Labels
	v.Properties = p.Properties
	v.ModifiedOn = time.Now().UTC()
	if err := f.store.UpdateVersion(v); err != nil {
		return nil, err
	}
	return v, nil
}

func (f *Facade) applyCreateComment(p codec.CreateCommentPayload) (*types.Comment, error) {
	commentID, err := f.store.NextCommentID()
	if err != nil {
		return nil, err
	}
	c := &types.Comment{TenantID: p.TenantID, CommentID: commentID, GlobalID: p.GlobalID, Owner: p.Owner, Value: p.Value, CreatedOn: time.Now().UTC()}
	if err := f.store.CreateComment(c); err != nil {
		return nil, err
	}
	return c, nil
}
