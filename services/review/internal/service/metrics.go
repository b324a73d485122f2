package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reasons recorded on reviews_rejected_total.
const (
	rejectValidation      = "validation"
	rejectProductNotFound = "product_not_found"
	rejectDuplicate       = "duplicate"
)

var (
	reviewsSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reviews_submitted_total",
			Help: "Total number of reviews accepted",
		},
	)

	reviewsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviews_rejected_total",
			Help: "Total number of review submissions rejected, by reason",
		},
		[]string{"reason"},
	)

	reviewsUpdated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reviews_updated_total",
			Help: "Total number of reviews updated",
		},
	)

	reviewsDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviews_deleted_total",
			Help: "Total number of reviews deleted, by cause",
		},
		[]string{"cause"},
	)

	queryCacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviews_query_cache_requests_total",
			Help: "Review query cache lookups, by result",
		},
		[]string{"result"},
	)
)
