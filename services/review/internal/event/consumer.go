package event

import (
	"context"
	"fmt"
	"log/slog"

	apperrors "github.com/Usmaexe/artisanal-moroccan-market/pkg/errors"
	pkgkafka "github.com/Usmaexe/artisanal-moroccan-market/pkg/kafka"
	"github.com/Usmaexe/artisanal-moroccan-market/services/review/internal/domain"
)

// TopicProductDeleted is published by the product service when a listing is removed.
var TopicProductDeleted = pkgkafka.Topic("product", "deleted")

// ProductDeletedData is the payload of a product.deleted event.
type ProductDeletedData struct {
	ID string `json:"id"`
}

// ProductPurger removes every review of a product.
type ProductPurger interface {
	PurgeProduct(ctx context.Context, productID string) (int, error)
}

// ProductDeletedHandler returns a handler that purges the reviews of deleted
// products. Malformed payloads are rejected so the consumer dead-letters them.
func ProductDeletedHandler(purger ProductPurger, logger *slog.Logger) pkgkafka.Handler {
	return func(ctx context.Context, event *pkgkafka.Event) error {
		if event.EventType != TopicProductDeleted {
			logger.DebugContext(ctx, "ignoring unexpected event type",
				slog.String("event_type", event.EventType),
				slog.String("event_id", event.EventID),
			)
			return nil
		}

		var data ProductDeletedData
		if err := event.UnmarshalData(&data); err != nil {
			return fmt.Errorf("decode %s payload: %w", event.EventType, err)
		}

		productID := data.ID
		if productID == "" {
			productID = event.AggregateID
		}
		productID = domain.CanonicalProductID(productID)
		if productID == "" {
			return apperrors.InvalidInput("product.deleted event without product id")
		}

		removed, err := purger.PurgeProduct(ctx, productID)
		if err != nil {
			return fmt.Errorf("purge reviews of product %s: %w", productID, err)
		}

		logger.InfoContext(ctx, "purged reviews of deleted product",
			slog.String("product_id", productID),
			slog.Int("removed", removed),
			slog.String("event_id", event.EventID),
		)
		return nil
	}
}
