package store

import (
	"context"
	"encoding/json"
	"time"

	"clinicdesk/internal/models"
)

type CreateVisitInput struct {
	RequestID           string
	Name                string
	Phone               string
	Reason              string
	Age                 int
	ShowDetailsToPublic bool
	CreatedAt           time.Time
}

type TransitionInput struct {
	RequestID        string
	VisitID          string
	Action           string
	EvictAction      string
	RequiredAmount   int64
	ServicesRendered []string
	CustomLineItems  []models.LineItem
	AmountPaid       int64
	OccurredAt       time.Time
}

type ReorderInput struct {
	RequestID     string
	VisitID       string
	TargetVisitID string
}

type UpdateVisitInput struct {
	VisitID             string
	Name                *string
	Phone               *string
	Reason              *string
	Age                 *int
	ShowDetailsToPublic *bool
}

type ChatInput struct {
	SenderRole    string
	Body          string
	AttachmentURL string
	CreatedAt     time.Time
}

type DayStat struct {
	Date           string `json:"date"`
	VisitCount     int    `json:"visit_count"`
	CompletedCount int    `json:"completed_count"`
	TotalRequired  int64  `json:"total_required"`
	TotalPaid      int64  `json:"total_paid"`
}

type OutboxEvent struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type Offset struct {
	LastEventTime time.Time
	LastEventID   string
}

// VisitStore is the persistent queue collaborator. Implementations must
// treat ApplyTransition as atomic: either the full field mutation and its
// outbox event land, or nothing does.
type VisitStore interface {
	CreateVisit(ctx context.Context, input CreateVisitInput) (models.Visit, bool, error)
	GetVisit(ctx context.Context, visitID string) (models.Visit, bool, error)
	SnapshotVisits(ctx context.Context) ([]models.Visit, error)
	ApplyTransition(ctx context.Context, input TransitionInput) (models.Visit, error)
	ReorderVisit(ctx context.Context, input ReorderInput) (models.Visit, bool, error)
	UpdateVisitDetails(ctx context.Context, input UpdateVisitInput) (models.Visit, error)
	DeleteVisit(ctx context.Context, visitID string) error
	RangeStats(ctx context.Context, from, to time.Time) ([]DayStat, error)
	GetSettings(ctx context.Context) (models.ClinicSettings, error)
	UpdateSettings(ctx context.Context, settings models.ClinicSettings) error
	AppendChatMessage(ctx context.Context, input ChatInput) (models.ChatMessage, error)
	ListChatMessages(ctx context.Context, limit int) ([]models.ChatMessage, error)
	ListOutboxEvents(ctx context.Context, offset Offset, limit int) ([]OutboxEvent, error)
	GetOffset(ctx context.Context) (Offset, error)
	UpdateOffset(ctx context.Context, offset Offset) error
}
