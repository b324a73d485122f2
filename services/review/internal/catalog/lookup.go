// Package catalog answers whether a product exists. The product catalog is
// owned by another service; this package only consumes it.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	apperrors "github.com/Usmaexe/artisanal-moroccan-market/pkg/errors"
	"github.com/Usmaexe/artisanal-moroccan-market/pkg/httpclient"
	"github.com/Usmaexe/artisanal-moroccan-market/services/review/internal/domain"
)

// ProductLookup reports whether a product exists in the catalog.
type ProductLookup interface {
	Exists(ctx context.Context, productID string) (bool, error)
}

// Forgetter is implemented by lookups that cache answers and can drop one.
type Forgetter interface {
	Forget(ctx context.Context, productID string)
}

// HTTPLookup queries the product service over HTTP through a circuit breaker.
type HTTPLookup struct {
	client  *httpclient.CircuitBreakerClient
	baseURL string
	logger  *slog.Logger
}

// NewHTTPLookup creates a lookup against the product service at baseURL.
func NewHTTPLookup(client *httpclient.CircuitBreakerClient, baseURL string, logger *slog.Logger) *HTTPLookup {
	return &HTTPLookup{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// Exists calls GET /api/v1/products/{id}. 200 means the product exists and
// 404 means it does not; anything else is an error. An open breaker yields a
// ServiceUnavailable error.
func (l *HTTPLookup) Exists(ctx context.Context, productID string) (bool, error) {
	resp, err := l.client.Get(ctx, l.baseURL+"/api/v1/products/"+url.PathEscape(productID))
	if err != nil {
		if errors.Is(err, httpclient.ErrCircuitOpen) {
			return false, apperrors.ServiceUnavailable("product catalog is unavailable")
		}
		return false, fmt.Errorf("lookup product %s: %w", productID, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		return true, nil
	case http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		return false, nil
	default:
		err := httpclient.ParseResponseError(resp, "product-service")
		l.logger.WarnContext(ctx, "product lookup failed",
			slog.String("product_id", productID),
			slog.Int("status", resp.StatusCode),
			slog.String("error", err.Error()),
		)
		return false, fmt.Errorf("lookup product %s: %w", productID, err)
	}
}

// StaticLookup answers from a fixed in-memory set of product ids. It backs
// development runs without a product service and tests. Ids are stored and
// matched in canonical form.
type StaticLookup struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewStaticLookup returns a lookup that knows the given product ids.
func NewStaticLookup(ids ...string) *StaticLookup {
	s := &StaticLookup{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[domain.CanonicalProductID(id)] = struct{}{}
	}
	return s
}

// Exists reports whether productID was added.
func (s *StaticLookup) Exists(_ context.Context, productID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[domain.CanonicalProductID(productID)]
	return ok, nil
}

// Add registers product ids.
func (s *StaticLookup) Add(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.ids[domain.CanonicalProductID(id)] = struct{}{}
	}
}

// Forget removes a product id, as when the catalog deletes the product.
func (s *StaticLookup) Forget(_ context.Context, productID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, domain.CanonicalProductID(productID))
}
