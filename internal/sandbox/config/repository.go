package config

import (
	"context"
	"sort"
	"strings"

	"nextgen/internal/sandbox/profile"
	appErr "nextgen/pkg/errors"
)

// LanguageSpecRepository provides language specs.
type LanguageSpecRepository interface {
	GetLanguageSpec(ctx context.Context, id string) (profile.LanguageSpec, error)
	ListLanguageSpecs(ctx context.Context) []profile.LanguageSpec
}

// LocalRepository serves language specs from memory.
type LocalRepository struct {
	languages map[string]profile.LanguageSpec
}

// NewLocalRepository creates a repository from a config list.
// Entries without an id are skipped; ids are matched case-insensitively.
func NewLocalRepository(languages []profile.LanguageSpec) *LocalRepository {
	langMap := make(map[string]profile.LanguageSpec, len(languages))
	for _, lang := range languages {
		id := normalizeID(lang.ID)
		if id == "" {
			continue
		}
		lang.ID = id
		langMap[id] = lang
	}
	return &LocalRepository{languages: langMap}
}

// GetLanguageSpec returns a language spec.
func (r *LocalRepository) GetLanguageSpec(ctx context.Context, id string) (profile.LanguageSpec, error) {
	id = normalizeID(id)
	if id == "" {
		return profile.LanguageSpec{}, appErr.ValidationError("language", "required")
	}
	lang, ok := r.languages[id]
	if !ok {
		return profile.LanguageSpec{}, appErr.Newf(appErr.LanguageNotSupported, "language %q is not supported", id)
	}
	return lang, nil
}

// ListLanguageSpecs returns all specs ordered by id.
func (r *LocalRepository) ListLanguageSpecs(ctx context.Context) []profile.LanguageSpec {
	out := make([]profile.LanguageSpec, 0, len(r.languages))
	for _, lang := range r.languages {
		out = append(out, lang)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
