package event

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	pkgkafka "github.com/Usmaexe/artisanal-moroccan-market/pkg/kafka"
	"github.com/Usmaexe/artisanal-moroccan-market/services/review/internal/domain"
)

// Kafka topics for review domain events.
var (
	TopicReviewCreated = pkgkafka.Topic("review", "created")
	TopicReviewUpdated = pkgkafka.Topic("review", "updated")
	TopicReviewDeleted = pkgkafka.Topic("review", "deleted")
)

// AggregateTypeReview is the aggregate type stamped on review events.
const AggregateTypeReview = "review"

// SourceReviewService identifies events originating from this service.
const SourceReviewService = "review-service"

// ReviewCreatedData is the payload for a review.created event.
type ReviewCreatedData struct {
	ReviewID   int64  `json:"review_id"`
	ProductID  string `json:"product_id"`
	CustomerID string `json:"customer_id"`
	Rating     int    `json:"rating"`
}

// ReviewUpdatedData is the payload for a review.updated event.
type ReviewUpdatedData struct {
	ReviewID       int64  `json:"review_id"`
	ProductID      string `json:"product_id"`
	CustomerID     string `json:"customer_id"`
	Rating         int    `json:"rating"`
	PreviousRating int    `json:"previous_rating"`
}

// ReviewDeletedData is the payload for a review.deleted event.
type ReviewDeletedData struct {
	ReviewID   int64  `json:"review_id"`
	ProductID  string `json:"product_id"`
	CustomerID string `json:"customer_id"`
	Rating     int    `json:"rating"`
}

// Publisher sends an event envelope to a topic. *pkgkafka.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes review domain events to Kafka.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer for the review service.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishReviewCreated publishes a review.created event.
func (p *Producer) PublishReviewCreated(ctx context.Context, review *domain.Review) error {
	data := ReviewCreatedData{
		ReviewID:   review.ID,
		ProductID:  review.ProductID,
		CustomerID: review.CustomerID,
		Rating:     review.Rating,
	}
	return p.publish(ctx, TopicReviewCreated, review, data)
}

// PublishReviewUpdated publishes a review.updated event.
func (p *Producer) PublishReviewUpdated(ctx context.Context, review *domain.Review, previousRating int) error {
	data := ReviewUpdatedData{
		ReviewID:       review.ID,
		ProductID:      review.ProductID,
		CustomerID:     review.CustomerID,
		Rating:         review.Rating,
		PreviousRating: previousRating,
	}
	return p.publish(ctx, TopicReviewUpdated, review, data)
}

// PublishReviewDeleted publishes a review.deleted event.
func (p *Producer) PublishReviewDeleted(ctx context.Context, review *domain.Review) error {
	data := ReviewDeletedData{
		ReviewID:   review.ID,
		ProductID:  review.ProductID,
		CustomerID: review.CustomerID,
		Rating:     review.Rating,
	}
	return p.publish(ctx, TopicReviewDeleted, review, data)
}

func (p *Producer) publish(ctx context.Context, topic string, review *domain.Review, data any) error {
	event, err := pkgkafka.NewEvent(topic, strconv.FormatInt(review.ID, 10), AggregateTypeReview, SourceReviewService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	event.WithMetadata("product_id", review.ProductID)

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published review event",
		slog.String("topic", topic),
		slog.Int64("review_id", review.ID),
		slog.String("product_id", review.ProductID),
	)

	return nil
}
