package skill

import (
	"context"
	"fmt"

	"github.com/wishub/skillhub/artifact"
	"github.com/wishub/skillhub/errcode"
)

// Registrar is the entry point for "register a new skill version": it
// decodes the submitted code blob, uploads it to an artifact.Store, and
// only then admits the metadata row to a Catalog. If catalog admission
// fails (e.g. duplicate version), the uploaded blob is removed so the
// store never accumulates orphans.
type Registrar struct {
	catalog Catalog
	store   artifact.Store
}

// NewRegistrar wires a Catalog and an artifact.Store into one registration
// flow.
func NewRegistrar(catalog Catalog, store artifact.Store) *Registrar {
	return &Registrar{catalog: catalog, store: store}
}

// RegisterRequest is the caller-supplied payload for registering one skill
// version. EncodedCode is the skill's source, base64-encoded; Ext is the
// file extension to store it under (e.g. "py", "ts", "go").
type RegisterRequest struct {
	SkillID               string
	Version               string
	Language              Language
	EncodedCode           string
	Ext                   string
	Dependencies          []string
	InputSchema           []byte
	OutputSchema          []byte
	DefaultTimeoutSeconds int
	Metadata              Metadata
}

// Register decodes req's code, uploads it, and admits the resulting Skill
// to the catalog. On success it returns the admitted Skill, whose
// CodePointer resolves the uploaded blob via the configured artifact.Store.
func (r *Registrar) Register(ctx context.Context, req RegisterRequest) (*Skill, error) {
	code, err := DecodeCode(req.EncodedCode)
	if err != nil {
		return nil, errcode.Wrap(errcode.SkillInvalidEncoding, "code is not valid base64", err)
	}

	codePointer, err := r.store.Put(ctx, req.SkillID, req.Version, req.Ext, code)
	if err != nil {
		return nil, errcode.Wrap(errcode.SkillRegistrationFailed, "uploading code blob", err)
	}

	s := &Skill{
		SkillID:               req.SkillID,
		Version:               req.Version,
		Language:              req.Language,
		CodePointer:           codePointer,
		Dependencies:          req.Dependencies,
		InputSchema:           req.InputSchema,
		OutputSchema:          req.OutputSchema,
		DefaultTimeoutSeconds: req.DefaultTimeoutSeconds,
		Metadata:              req.Metadata,
	}

	if err := r.catalog.Put(ctx, s); err != nil {
		if delErr := r.store.Delete(ctx, req.SkillID, req.Version); delErr != nil {
			return nil, fmt.Errorf("registering skill: %w (cleanup also failed: %v)", err, delErr)
		}
		return nil, err
	}
	return s, nil
}
