package model

import "time"

// ContentType is a tagged variant over the classifier's output categories.
type ContentType string

const (
	ContentBlog    ContentType = "BLOG"
	ContentVideo   ContentType = "VIDEO"
	ContentSocial  ContentType = "SOCIAL"
	ContentNews    ContentType = "NEWS"
	ContentGeneral ContentType = "GENERAL"
)

// Valid reports whether ct is one of the known content types.
func (ct ContentType) Valid() bool {
	switch ct {
	case ContentBlog, ContentVideo, ContentSocial, ContentNews, ContentGeneral:
		return true
	default:
		return false
	}
}

// Priority is a totally ordered variant: LOW < NORMAL < HIGH.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityNormal:
		return "NORMAL"
	case PriorityHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// Priorities lists all priorities from lowest to highest, for range loops
// that must visit them in a deterministic, displacement-consistent order.
func Priorities() []Priority {
	return []Priority{PriorityLow, PriorityNormal, PriorityHigh}
}

// QueueItem is an Item wrapped with priority and bookkeeping fields, owned by
// the priority queue once enqueued (spec.md §3).
type QueueItem struct {
	Item        Item
	Priority    Priority
	ContentType ContentType
	EnqueuedAt  time.Time
	RetryCount  int
	ContentHash [32]byte
}

// DeliveryBatch is created by the deliverer at drain time (spec.md §3).
type DeliveryBatch struct {
	BatchID   string
	CreatedAt time.Time
	Items     []Item
	Attempts  int
}

// Category classifies an error for retry policy and metrics (spec.md §7).
type Category string

const (
	CategoryAPI            Category = "API"
	CategoryProcessing     Category = "Processing"
	CategoryDelivery       Category = "Delivery"
	CategoryRateLimit      Category = "RateLimit"
	CategorySystem         Category = "System"
	CategoryValidation     Category = "Validation"
	CategoryNetwork        Category = "Network"
	CategoryAuthentication Category = "Authentication"
	CategoryServer         Category = "Server"
	CategoryClient         Category = "Client"
)

// Severity ranks how urgently an error should be surfaced.
type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// ErrorContext is an immutable record of one handled error (spec.md §3).
type ErrorContext struct {
	ID               string
	Timestamp        time.Time
	Category         Category
	Severity         Severity
	Service          string
	RedactedMessage  string
	Details          map[string]string
	RetryCount       int
	MaxRetries       int
}

// BreakerState enumerates Closed, Open and HalfOpen. It carries no
// opened-at time; pkg/breaker keeps that inside the Breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}
