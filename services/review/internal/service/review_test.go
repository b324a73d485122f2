package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	apperrors "github.com/Usmaexe/artisanal-moroccan-market/pkg/errors"
	"github.com/Usmaexe/artisanal-moroccan-market/services/review/internal/catalog"
	"github.com/Usmaexe/artisanal-moroccan-market/services/review/internal/domain"
	"github.com/Usmaexe/artisanal-moroccan-market/services/review/internal/query"
	"github.com/Usmaexe/artisanal-moroccan-market/services/review/internal/repository/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// --- Mock EventPublisher ---

type mockEvents struct {
	mock.Mock
}

func (m *mockEvents) PublishReviewCreated(ctx context.Context, review *domain.Review) error {
	return m.Called(ctx, review).Error(0)
}

func (m *mockEvents) PublishReviewUpdated(ctx context.Context, review *domain.Review, previousRating int) error {
	return m.Called(ctx, review, previousRating).Error(0)
}

func (m *mockEvents) PublishReviewDeleted(ctx context.Context, review *domain.Review) error {
	return m.Called(ctx, review).Error(0)
}

// --- Fake ResultCache ---

type fakeCache struct {
	mu          sync.Mutex
	entries     map[string]*query.Result
	invalidated []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*query.Result)}
}

func cacheKey(productID string, p query.Params) string {
	return fmt.Sprintf("%s|%s|%d|%d", productID, p.Sort, p.Page, p.Limit)
}

func (c *fakeCache) Lookup(_ context.Context, productID string, p query.Params) (*query.Result, int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.entries[cacheKey(productID, p)]
	return res, 0, ok
}

func (c *fakeCache) Store(_ context.Context, productID string, _ int64, p query.Params, res *query.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(productID, p)] = res
}

func (c *fakeCache) Invalidate(_ context.Context, productID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, productID)
	c.entries = make(map[string]*query.Result)
}

// --- Helpers ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

type fixture struct {
	svc      *ReviewService
	repo     *memory.ReviewRepository
	products *catalog.StaticLookup
	clockMu  sync.Mutex
	clock    time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		repo:     memory.NewReviewRepository(),
		products: catalog.NewStaticLookup("p1", "p2"),
		clock:    time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	tick := func() time.Time {
		f.clockMu.Lock()
		defer f.clockMu.Unlock()
		f.clock = f.clock.Add(time.Minute)
		return f.clock
	}
	opts = append([]Option{WithClock(tick)}, opts...)
	f.svc = NewReviewService(f.repo, f.products, testLogger(), opts...)
	return f
}

func (f *fixture) submit(t *testing.T, productID, customerID string, rating int) *domain.Review {
	t.Helper()
	review, err := f.svc.SubmitReview(context.Background(), &SubmitReviewInput{
		ProductID:  productID,
		CustomerID: customerID,
		Rating:     intPtr(rating),
	})
	require.NoError(t, err)
	return review
}

func list(t *testing.T, svc *ReviewService, productID string) *query.Result {
	t.Helper()
	res, err := svc.ListReviews(context.Background(), productID, query.DefaultParams())
	require.NoError(t, err)
	return res
}

// --- SubmitReview ---

func TestSubmitReview_Defaults(t *testing.T) {
	f := newFixture(t)

	review := f.submit(t, "p1", "c1", 4)

	assert.Equal(t, int64(1), review.ID)
	assert.Equal(t, "p1", review.ProductID)
	assert.Equal(t, "c1", review.CustomerID)
	assert.Equal(t, 4, review.Rating)
	assert.Equal(t, "", review.Comment)
	assert.Equal(t, domain.CustomerSnapshot{Name: domain.AnonymousName}, review.Customer)
	assert.False(t, review.CreatedAt.IsZero())
	assert.Equal(t, review.CreatedAt, review.UpdatedAt)
}

func TestSubmitReview_CanonicalisesIdentifiers(t *testing.T) {
	f := newFixture(t)
	f.products.Add("tapis-berbere")

	review, err := f.svc.SubmitReview(context.Background(), &SubmitReviewInput{
		ProductID:  " Tapis Berbère ",
		CustomerID: "  c7 ",
		Rating:     intPtr(5),
		Comment:    strPtr("Superbe"),
		Customer:   &domain.CustomerSnapshot{Name: " Amina ", Email: "amina@example.com"},
	})
	require.NoError(t, err)

	assert.Equal(t, "tapis-berbere", review.ProductID)
	assert.Equal(t, "c7", review.CustomerID)
	assert.Equal(t, "Superbe", review.Comment)
	assert.Equal(t, "Amina", review.Customer.Name)
	assert.Equal(t, "amina@example.com", review.Customer.Email)
}

func TestSubmitReview_TrimsSnapshotBeforeValidation(t *testing.T) {
	f := newFixture(t)

	review, err := f.svc.SubmitReview(context.Background(), &SubmitReviewInput{
		ProductID:  "p1",
		CustomerID: "c1",
		Rating:     intPtr(4),
		Customer: &domain.CustomerSnapshot{
			Email:    " a@b.com ",
			ImageURL: "\thttps://cdn.example.com/u/c1.png ",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.CustomerSnapshot{
		Name:     domain.AnonymousName,
		Email:    "a@b.com",
		ImageURL: "https://cdn.example.com/u/c1.png",
	}, review.Customer)
}

func TestSubmitReview_NonCanonicalSeedProducts(t *testing.T) {
	svc := NewReviewService(memory.NewReviewRepository(),
		catalog.NewStaticLookup("Tapis-Berbere", "SKU_42"), testLogger())
	ctx := context.Background()

	for _, raw := range []string{"Tapis-Berbere", "SKU_42"} {
		review, err := svc.SubmitReview(ctx, &SubmitReviewInput{
			ProductID:  raw,
			CustomerID: "c1",
			Rating:     intPtr(5),
		})
		require.NoError(t, err, raw)

		res, err := svc.ListReviews(ctx, raw, query.DefaultParams())
		require.NoError(t, err, raw)
		assert.Equal(t, 1, res.TotalCount)
		assert.Equal(t, review.ProductID, res.Reviews[0].ProductID)
	}

	// Slugging is lossy: both spellings name one product.
	_, err := svc.SubmitReview(ctx, &SubmitReviewInput{ProductID: "sku-42", CustomerID: "c1", Rating: intPtr(3)})
	assert.True(t, errors.Is(err, apperrors.ErrConflict))
}

func TestSubmitReview_SecondSubmissionConflicts(t *testing.T) {
	f := newFixture(t)
	f.submit(t, "p1", "c1", 5)

	_, err := f.svc.SubmitReview(context.Background(), &SubmitReviewInput{
		ProductID:  "p1",
		CustomerID: "c1",
		Rating:     intPtr(2),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrConflict))
	assert.Equal(t, 409, apperrors.HTTPStatus(err))
	assert.Equal(t, 1, f.repo.Len())

	// A different customer, or the same customer on another product, is fine.
	f.submit(t, "p1", "c2", 3)
	f.submit(t, "p2", "c1", 3)
}

func TestSubmitReview_ConcurrentDuplicates(t *testing.T) {
	f := newFixture(t)

	const n = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.SubmitReview(context.Background(), &SubmitReviewInput{
				ProductID:  "p1",
				CustomerID: "c1",
				Rating:     intPtr(4),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, apperrors.ErrConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, conflicts)
	assert.Equal(t, 1, f.repo.Len())
	assert.Zero(t, f.svc.pairs.size())
}

func TestSubmitReview_Validation(t *testing.T) {
	tests := []struct {
		name  string
		input SubmitReviewInput
	}{
		{"missing product", SubmitReviewInput{CustomerID: "c1", Rating: intPtr(3)}},
		{"blank product", SubmitReviewInput{ProductID: "  ", CustomerID: "c1", Rating: intPtr(3)}},
		{"missing customer", SubmitReviewInput{ProductID: "p1", Rating: intPtr(3)}},
		{"missing rating", SubmitReviewInput{ProductID: "p1", CustomerID: "c1"}},
		{"rating too low", SubmitReviewInput{ProductID: "p1", CustomerID: "c1", Rating: intPtr(0)}},
		{"rating too high", SubmitReviewInput{ProductID: "p1", CustomerID: "c1", Rating: intPtr(6)}},
		{"bad email", SubmitReviewInput{ProductID: "p1", CustomerID: "c1", Rating: intPtr(3),
			Customer: &domain.CustomerSnapshot{Email: "not-an-email"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			input := tt.input

			_, err := f.svc.SubmitReview(context.Background(), &input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
			assert.Equal(t, 400, apperrors.HTTPStatus(err))
			assert.Zero(t, f.repo.Len())
		})
	}
}

func TestSubmitReview_UnknownProduct(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SubmitReview(context.Background(), &SubmitReviewInput{
		ProductID:  "ghost",
		CustomerID: "c1",
		Rating:     intPtr(3),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.Zero(t, f.repo.Len())
}

func TestSubmitReview_PublishesAndInvalidates(t *testing.T) {
	events := new(mockEvents)
	cache := newFakeCache()
	f := newFixture(t, WithEvents(events), WithCache(cache))

	events.On("PublishReviewCreated", mock.Anything, mock.MatchedBy(func(r *domain.Review) bool {
		return r.ProductID == "p1" && r.CustomerID == "c1" && r.ID == 1
	})).Return(nil).Once()

	f.submit(t, "p1", "c1", 5)

	events.AssertExpectations(t)
	assert.Equal(t, []string{"p1"}, cache.invalidated)
}

func TestSubmitReview_PublishFailureDoesNotFail(t *testing.T) {
	events := new(mockEvents)
	f := newFixture(t, WithEvents(events))
	events.On("PublishReviewCreated", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	review := f.submit(t, "p1", "c1", 5)
	assert.NotNil(t, review)
	assert.Equal(t, 1, f.repo.Len())
}

// --- GetReview ---

func TestGetReview(t *testing.T) {
	f := newFixture(t)
	created := f.submit(t, "p1", "c1", 5)

	got, err := f.svc.GetReview(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)

	_, err = f.svc.GetReview(context.Background(), 999)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	_, err = f.svc.GetReview(context.Background(), 0)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

// --- UpdateReview ---

func TestUpdateReview_ChangesAverageNotIdentity(t *testing.T) {
	f := newFixture(t)
	r1 := f.submit(t, "p1", "c1", 5)
	f.submit(t, "p1", "c2", 3)
	require.Equal(t, 4.0, *list(t, f.svc, "p1").AverageRating)

	updated, err := f.svc.UpdateReview(context.Background(), &UpdateReviewInput{
		ReviewID: r1.ID,
		Actor:    Actor{UserID: "c1"},
		Rating:   intPtr(1),
	})
	require.NoError(t, err)

	assert.Equal(t, r1.ID, updated.ID)
	assert.Equal(t, r1.ProductID, updated.ProductID)
	assert.Equal(t, r1.CustomerID, updated.CustomerID)
	assert.Equal(t, r1.CreatedAt, updated.CreatedAt)
	assert.True(t, updated.UpdatedAt.After(r1.UpdatedAt))
	assert.Equal(t, 1, updated.Rating)
	assert.Equal(t, 2.0, *list(t, f.svc, "p1").AverageRating)
}

func TestUpdateReview_CommentOmittedIsUnchanged(t *testing.T) {
	f := newFixture(t)
	created, err := f.svc.SubmitReview(context.Background(), &SubmitReviewInput{
		ProductID: "p1", CustomerID: "c1", Rating: intPtr(4), Comment: strPtr("nice weave"),
	})
	require.NoError(t, err)

	updated, err := f.svc.UpdateReview(context.Background(), &UpdateReviewInput{
		ReviewID: created.ID, Actor: Actor{UserID: "c1"}, Rating: intPtr(5),
	})
	require.NoError(t, err)
	assert.Equal(t, "nice weave", updated.Comment)

	updated, err = f.svc.UpdateReview(context.Background(), &UpdateReviewInput{
		ReviewID: created.ID, Actor: Actor{UserID: "c1"}, Rating: intPtr(5), Comment: strPtr(""),
	})
	require.NoError(t, err)
	assert.Equal(t, "", updated.Comment)
}

func TestUpdateReview_Errors(t *testing.T) {
	f := newFixture(t)
	created := f.submit(t, "p1", "c1", 4)

	tests := []struct {
		name   string
		input  UpdateReviewInput
		target error
	}{
		{"missing rating", UpdateReviewInput{ReviewID: created.ID, Actor: Actor{UserID: "c1"}}, apperrors.ErrInvalidInput},
		{"rating out of range", UpdateReviewInput{ReviewID: created.ID, Actor: Actor{UserID: "c1"}, Rating: intPtr(9)}, apperrors.ErrInvalidInput},
		{"anonymous", UpdateReviewInput{ReviewID: created.ID, Rating: intPtr(3)}, apperrors.ErrUnauthorized},
		{"not found", UpdateReviewInput{ReviewID: 404, Actor: Actor{UserID: "c1"}, Rating: intPtr(3)}, apperrors.ErrNotFound},
		{"not found beats forbidden", UpdateReviewInput{ReviewID: 404, Actor: Actor{UserID: "c9"}, Rating: intPtr(3)}, apperrors.ErrNotFound},
		{"someone else", UpdateReviewInput{ReviewID: created.ID, Actor: Actor{UserID: "c9"}, Rating: intPtr(3)}, apperrors.ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := tt.input
			_, err := f.svc.UpdateReview(context.Background(), &input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.target), "got %v", err)
		})
	}

	got, err := f.svc.GetReview(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Rating)
}

func TestUpdateReview_AdminMayEditAnyReview(t *testing.T) {
	events := new(mockEvents)
	f := newFixture(t, WithEvents(events))
	events.On("PublishReviewCreated", mock.Anything, mock.Anything).Return(nil)
	events.On("PublishReviewUpdated", mock.Anything, mock.Anything, 4).Return(nil).Once()

	created := f.submit(t, "p1", "c1", 4)

	updated, err := f.svc.UpdateReview(context.Background(), &UpdateReviewInput{
		ReviewID: created.ID, Actor: Actor{UserID: "moderator", Role: RoleAdmin}, Rating: intPtr(2),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Rating)
	events.AssertExpectations(t)
}

// --- DeleteReview ---

func TestDeleteReview_OnlyReviewLeavesEmptyAggregate(t *testing.T) {
	f := newFixture(t)
	created := f.submit(t, "p2", "c1", 4)

	require.NoError(t, f.svc.DeleteReview(context.Background(), &DeleteReviewInput{
		ReviewID: created.ID, Actor: Actor{UserID: "c1"},
	}))

	res := list(t, f.svc, "p2")
	assert.Equal(t, 0, res.TotalCount)
	assert.Nil(t, res.AverageRating)
	assert.Empty(t, res.Reviews)
}

func TestDeleteReview_DecrementsTotalCount(t *testing.T) {
	f := newFixture(t)
	f.submit(t, "p1", "c1", 5)
	victim := f.submit(t, "p1", "c2", 1)
	f.submit(t, "p1", "c3", 4)

	before := list(t, f.svc, "p1")
	require.NoError(t, f.svc.DeleteReview(context.Background(), &DeleteReviewInput{
		ReviewID: victim.ID, Actor: Actor{UserID: "c2"},
	}))
	after := list(t, f.svc, "p1")

	assert.Equal(t, before.TotalCount-1, after.TotalCount)
	for _, r := range after.Reviews {
		assert.NotEqual(t, victim.ID, r.ID)
	}
	assert.Equal(t, 4.5, *after.AverageRating)
}

func TestDeleteReview_Errors(t *testing.T) {
	f := newFixture(t)
	created := f.submit(t, "p1", "c1", 4)

	err := f.svc.DeleteReview(context.Background(), &DeleteReviewInput{ReviewID: 77, Actor: Actor{UserID: "c1"}})
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	err = f.svc.DeleteReview(context.Background(), &DeleteReviewInput{ReviewID: created.ID, Actor: Actor{UserID: "c2"}})
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))

	err = f.svc.DeleteReview(context.Background(), &DeleteReviewInput{ReviewID: created.ID})
	assert.True(t, errors.Is(err, apperrors.ErrUnauthorized))

	assert.Equal(t, 1, f.repo.Len())
}

func TestDeleteReview_PublishesWithDeletedReview(t *testing.T) {
	events := new(mockEvents)
	cache := newFakeCache()
	f := newFixture(t, WithEvents(events), WithCache(cache))
	events.On("PublishReviewCreated", mock.Anything, mock.Anything).Return(nil)

	created := f.submit(t, "p1", "c1", 4)
	events.On("PublishReviewDeleted", mock.Anything, mock.MatchedBy(func(r *domain.Review) bool {
		return r.ID == created.ID && r.Rating == 4
	})).Return(nil).Once()

	require.NoError(t, f.svc.DeleteReview(context.Background(), &DeleteReviewInput{
		ReviewID: created.ID, Actor: Actor{UserID: "admin-1", Role: RoleAdmin},
	}))

	events.AssertExpectations(t)
	assert.Equal(t, []string{"p1", "p1"}, cache.invalidated)
}

// --- ListReviews ---

func TestListReviews_AverageAndPageCount(t *testing.T) {
	f := newFixture(t)
	for i, rating := range []int{5, 4, 5, 3, 5} {
		f.submit(t, "p1", fmt.Sprintf("c%d", i+1), rating)
	}

	res := list(t, f.svc, "p1")
	assert.Equal(t, 5, res.TotalCount)
	assert.Equal(t, 1, res.TotalPages)
	require.NotNil(t, res.AverageRating)
	assert.Equal(t, 4.4, *res.AverageRating)

	res, err := f.svc.ListReviews(context.Background(), "p1", query.Params{Page: 3, Limit: 2, Sort: domain.SortNewest})
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalPages)
	assert.Len(t, res.Reviews, 1)
	assert.Equal(t, 4.4, *res.AverageRating)
}

func TestListReviews_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ListReviews(context.Background(), "ghost", query.DefaultParams())
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	_, err = f.svc.ListReviews(context.Background(), "p1", query.Params{Page: 1, Limit: 5, Sort: "random"})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))

	_, err = f.svc.ListReviews(context.Background(), "", query.DefaultParams())
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestListReviews_UsesCache(t *testing.T) {
	cache := newFakeCache()
	f := newFixture(t, WithCache(cache))
	f.submit(t, "p1", "c1", 5)

	first := list(t, f.svc, "p1")
	// Bypass the service so the cache is not invalidated.
	require.NoError(t, f.repo.Insert(context.Background(), &domain.Review{ProductID: "p1", CustomerID: "c2", Rating: 1}))

	second := list(t, f.svc, "p1")
	assert.Same(t, first, second)

	f.submit(t, "p1", "c3", 3)
	third := list(t, f.svc, "p1")
	assert.Equal(t, 3, third.TotalCount)
}

// --- PurgeProduct ---

func TestPurgeProduct(t *testing.T) {
	cache := newFakeCache()
	f := newFixture(t, WithCache(cache))
	f.submit(t, "p1", "c1", 5)
	f.submit(t, "p1", "c2", 4)
	f.submit(t, "p2", "c1", 2)

	removed, err := f.svc.PurgeProduct(context.Background(), " P1 ")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, f.repo.Len())
	assert.Contains(t, cache.invalidated, "p1")

	// The product is forgotten by the catalog, so it can no longer be queried.
	_, err = f.svc.ListReviews(context.Background(), "p1", query.DefaultParams())
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	_, err = f.svc.PurgeProduct(context.Background(), "")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}
