// Package events defines the outbound event contract. Publishing is
// best-effort and happens only after a transfer has committed.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const TopicTransactionCompleted = "transaction_completed"

type Publisher interface {
	Publish(topic string, event any) error
}

// TransactionCompleted announces one committed transfer.
type TransactionCompleted struct {
	ID        uuid.UUID       `json:"id"`
	Amount    decimal.Decimal `json:"amount"`
	Sender    uuid.UUID       `json:"sender"`
	Recipient uuid.UUID       `json:"recipient"`
	Timestamp time.Time       `json:"timestamp"`
}
