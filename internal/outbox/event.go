package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is a durable delivery intent.
//
// Records are immutable after creation except for ProcessedAt, which is set
// exactly once after the registered handlers complete. Rows are never
// deleted; the table doubles as an audit trail.
type Event struct {
	ID          uuid.UUID
	AggregateID string // correlation key, e.g. "username#channelID"
	Type        string
	Payload     json.RawMessage
	OccurredAt  time.Time
	ProcessedAt *time.Time
}

// NewEvent builds an Event with a fresh id and the payload serialized.
func NewEvent(eventType, aggregateID string, payload any) (*Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return &Event{
		ID:          uuid.New(),
		AggregateID: aggregateID,
		Type:        eventType,
		Payload:     b,
		OccurredAt:  time.Now().UTC(),
	}, nil
}

// Store is the durable outbox contract. All methods must be called inside an
// existing transaction so a failure aborts the caller's transaction too.
//
// ClaimBatch returns up to limit unprocessed events in creation order and
// transitions them to a claimed state: no concurrent caller may receive the
// same rows. How claiming works (row locks vs status flip) is backend
// specific; the pre/post-conditions are not.
//
// MarkProcessed sets ProcessedAt and is idempotent: already-processed ids are
// a no-op.
type Store interface {
	Save(ctx context.Context, tx *sql.Tx, e *Event) error
	ClaimBatch(ctx context.Context, tx *sql.Tx, limit int) ([]Event, error)
	MarkProcessed(ctx context.Context, tx *sql.Tx, ids []uuid.UUID) error
}
