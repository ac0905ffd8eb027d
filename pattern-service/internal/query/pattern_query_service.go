package query

import (
	"context"

	"github.com/patternvault/backend/shared/cqrs"
	"github.com/patternvault/backend/shared/models"
)

type PatternLister interface {
	List(ctx context.Context, q cqrs.ListPatternsQuery) ([]models.PatternView, int, error)
}

type PatternQueryService struct {
	readRepo PatternLister
}

func NewPatternQueryService(readRepo PatternLister) *PatternQueryService {
	return &PatternQueryService{readRepo: readRepo}
}

// ListPatterns returns one page of the owner's patterns, newest first, and
// the total count. Favorites-only listings are the same query filtered on
// is_favorite.
func (s *PatternQueryService) ListPatterns(ctx context.Context, q cqrs.ListPatternsQuery) ([]models.PatternView, int, error) {
	return s.readRepo.List(ctx, q)
}
