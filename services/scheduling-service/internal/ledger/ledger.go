// Package ledger declares the Commitment Ledger contract shared by the storage backends
// and the booking orchestrator.
package ledger

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/outbox"
)

// Tx is a view of one mentor's commitments inside an exclusive transaction scope.
// Reads observe every write committed before the scope was entered.
type Tx interface {
	ListBusy(ctx context.Context, mentorID string, from, to time.Time) ([]model.Commitment, error)
	Get(ctx context.Context, commitmentID string) (model.Commitment, error)
	ListGroup(ctx context.Context, groupID string) ([]model.Commitment, error)
	Insert(ctx context.Context, commitments []model.Commitment) error
	SetStatus(ctx context.Context, commitmentID string, status model.Status, reason string, at time.Time) (model.Commitment, error)
	Enqueue(ctx context.Context, evt outbox.Event) error
}

type TxFunc func(ctx context.Context, tx Tx) error

type Ledger interface {
	ListBusy(ctx context.Context, mentorID string, from, to time.Time) ([]model.Commitment, error)
	Get(ctx context.Context, commitmentID string) (model.Commitment, error)
	ListByLearner(ctx context.Context, learnerID string, from, to time.Time) ([]model.Commitment, error)

	// Atomically runs fn under the mentor's exclusive lock. All writes made through tx commit
	// together when fn returns nil and are discarded otherwise.
	Atomically(ctx context.Context, mentorID string, fn TxFunc) error
}
