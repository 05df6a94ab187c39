package catalog_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/catalog"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/db/dbtest"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

func TestMapProduct(t *testing.T) {
	var nested, flat, noID any
	require.NoError(t, json.Unmarshal([]byte(`{"id":12,"attributes":{"name":"Teh","product_price":"7.25","product_category_id":4,"code":"T1","images":["a.png"]}}`), &nested))
	require.NoError(t, json.Unmarshal([]byte(`{"id":"x9","name":"Kopi","price":"n/a","category":"Drinks"}`), &flat))
	require.NoError(t, json.Unmarshal([]byte(`{"attributes":{"name":"Ghost"}}`), &noID))

	p, ok := catalog.MapProduct(nested)
	require.True(t, ok)
	assert.Equal(t, "12", p.ID)
	assert.Equal(t, "Teh", p.Name)
	assert.InDelta(t, 7.25, p.Price, 0.0001)
	assert.Equal(t, "4", p.Category)
	assert.Equal(t, "T1", p.Code)
	assert.Contains(t, string(p.RawResponse), "a.png")

	p, ok = catalog.MapProduct(flat)
	require.True(t, ok)
	assert.Equal(t, "x9", p.ID)
	assert.Zero(t, p.Price)
	assert.Equal(t, "Drinks", p.Category)

	_, ok = catalog.MapProduct(noID)
	assert.False(t, ok)
	_, ok = catalog.MapProduct("scalar")
	assert.False(t, ok)
}

func seedProducts(t *testing.T) (catalog.Repository, *catalog.Service) {
	t.Helper()
	sqlDB := dbtest.Open(t)
	_, err := sqlDB.Exec(`INSERT INTO product_categories (id, name) VALUES ('5', 'Drinks')`)
	require.NoError(t, err)

	repo := catalog.NewRepository(sqlDB)
	products := []catalog.Product{
		{ID: "1", Name: "Café Crème", Price: 4, Category: "5", Code: "CF-01"},
		{ID: "2", Name: "Iced Tea", Price: 3, Category: "Drinks", Code: "IT-02"},
		{ID: "3", Name: "Croissant", Price: 5, Category: "7", Code: "BK-01"},
	}
	require.NoError(t, repo.CommitPage(context.Background(), products, catalog.Progress{ID: catalog.ProgressID, CurrentPage: 2, LastPage: 1, IsCompleted: true}))
	return repo, catalog.NewService(repo)
}

func ids(products []catalog.Product) []string {
	out := make([]string, 0, len(products))
	for _, p := range products {
		out = append(out, p.ID)
	}
	return out
}

func TestSearchIgnoresCaseAndDiacritics(t *testing.T) {
	_, svc := seedProducts(t)
	ctx := context.Background()

	for _, q := range []string{"creme", "CRÈME", "café", "cf-01"} {
		found, err := svc.Search(ctx, q, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"1"}, ids(found), q)
	}

	found, err := svc.Search(ctx, "  ", 10)
	require.NoError(t, err)
	assert.Empty(t, found)

	found, err = svc.Search(ctx, "100%", 10)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestListCategoryMatchesIDOrLegacyName(t *testing.T) {
	_, svc := seedProducts(t)
	ctx := context.Background()

	for _, category := range []string{"5", "Drinks", "drinks"} {
		res, err := svc.List(ctx, catalog.ListFilters{Category: category})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"1", "2"}, ids(res.Products), category)
	}
}

func TestListPaginatesAndSorts(t *testing.T) {
	_, svc := seedProducts(t)
	ctx := context.Background()

	res, err := svc.List(ctx, catalog.ListFilters{Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, ids(res.Products))
	assert.Equal(t, 3, res.Pagination.Total)
	assert.Equal(t, 2, res.Pagination.TotalPages)

	res, err = svc.List(ctx, catalog.ListFilters{SortBy: "price", SortDir: "DESC"})
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "1", "2"}, ids(res.Products))
}

func TestGetProduct(t *testing.T) {
	repo, _ := seedProducts(t)
	p, err := repo.Get(context.Background(), "3")
	require.NoError(t, err)
	assert.Equal(t, "Croissant", p.Name)
	assert.False(t, p.UpdatedAt.IsZero())

	_, err = repo.Get(context.Background(), "missing")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCommitPageUpserts(t *testing.T) {
	repo, _ := seedProducts(t)
	ctx := context.Background()
	require.NoError(t, repo.CommitPage(ctx, []catalog.Product{{ID: "1", Name: "Cafe Latte", Price: 6}}, catalog.Progress{ID: catalog.ProgressID, CurrentPage: 3, LastPage: 2, IsCompleted: true}))

	p, err := repo.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "Cafe Latte", p.Name)
	assert.Empty(t, p.Category)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	progress, _, err := repo.GetProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, progress.CurrentPage)
}
