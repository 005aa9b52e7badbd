// Package exclusion blocks content from retrieval and purges it from the
// vector store.
package exclusion

import (
	"context"
	"log/slog"
	"time"

	"kbase/internal/kberr"
)

const (
	EntityURL      = "url"
	EntityPage     = "page"
	EntityProduct  = "product"
	EntityCategory = "category"
)

// Rule marks an entity whose chunks must not be served. Keyed on
// (entity_type, entity_id) so excluding twice is a no-op.
type Rule struct {
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	CreatedAt  time.Time `json:"created_at"`
}

func (r Rule) Valid() bool {
	switch r.EntityType {
	case EntityURL, EntityPage, EntityProduct, EntityCategory:
		return r.EntityID != ""
	}
	return false
}

// Ref is the source-ref form of the rule used against the vector store.
// Page rules cover everything underneath their URL; the rest match exactly.
func (r Rule) Ref() string {
	return r.EntityID
}

type Repository interface {
	Save(ctx context.Context, rule Rule) error
	List(ctx context.Context) ([]Rule, error)
	Count(ctx context.Context) (int, error)
}

type ChunkStore interface {
	DeleteBySourceRef(ctx context.Context, ref string) error
}

type JobDeleter interface {
	DeleteBySourceRef(ctx context.Context, ref string, prefix bool) (int, error)
}

type Service struct {
	repo       Repository
	chunkStore ChunkStore
	jobs       JobDeleter
}

func NewService(repo Repository, chunkStore ChunkStore, jobs JobDeleter) *Service {
	return &Service{repo: repo, chunkStore: chunkStore, jobs: jobs}
}

// Exclude persists the rule, removes matching chunks from the vector store,
// and deletes jobs that only served the excluded entity.
func (s *Service) Exclude(ctx context.Context, rule Rule) error {
	if !rule.Valid() {
		return kberr.Validation("entity_type must be one of url, page, product, category and entity_id is required")
	}

	if err := s.repo.Save(ctx, rule); err != nil {
		return err
	}
	if err := s.chunkStore.DeleteBySourceRef(ctx, rule.Ref()); err != nil {
		return err
	}

	if s.jobs != nil {
		n, err := s.jobs.DeleteBySourceRef(ctx, rule.Ref(), rule.EntityType == EntityPage)
		if err != nil {
			return err
		}
		if n > 0 {
			slog.InfoContext(ctx, "jobs removed for excluded entity",
				"entity_type", rule.EntityType, "entity_id", rule.EntityID, "jobs", n)
		}
	}
	return nil
}

// Cleanup re-applies every active rule against the vector store, catching
// chunks ingested after the rule was created.
func (s *Service) Cleanup(ctx context.Context) (int, error) {
	rules, err := s.repo.List(ctx)
	if err != nil {
		return 0, err
	}
	for _, rule := range rules {
		if err := s.chunkStore.DeleteBySourceRef(ctx, rule.Ref()); err != nil {
			return 0, err
		}
	}
	return len(rules), nil
}

// ActiveRefs lists the source refs retrieval must filter out.
func (s *Service) ActiveRefs(ctx context.Context) ([]string, error) {
	rules, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	refs := make([]string, 0, len(rules))
	for _, rule := range rules {
		refs = append(refs, rule.Ref())
	}
	return refs, nil
}
