package catalog

import (
	"context"
	"strings"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// ListResult is one page of products.
type ListResult struct {
	Products   []Product         `json:"products"`
	Pagination shared.Pagination `json:"pagination"`
}

// Service answers product queries against the local store.
type Service struct {
	repo Repository
}

// NewService constructs a Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// List returns a filtered, paginated product listing.
func (s *Service) List(ctx context.Context, filters ListFilters) (ListResult, error) {
	filters.Limit = clampLimit(filters.Limit)
	if filters.Page <= 0 {
		filters.Page = 1
	}
	filters.SortDir = strings.ToLower(filters.SortDir)
	products, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{
		Products:   products,
		Pagination: shared.NewPagination(filters.Page, filters.Limit, total),
	}, nil
}

// Search matches name or code ignoring case and diacritics.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]Product, error) {
	if strings.TrimSpace(query) == "" {
		return []Product{}, nil
	}
	products, _, err := s.repo.List(ctx, ListFilters{Page: 1, Limit: clampLimit(limit), Search: query})
	return products, err
}

// Get returns one product or shared.ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (Product, error) {
	return s.repo.Get(ctx, id)
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultLimit
	case limit > maxLimit:
		return maxLimit
	default:
		return limit
	}
}
