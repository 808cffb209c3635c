package credits

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"server/internal/domain"
)

// Store is the durable balance the ledger moves credits against. Both
// operations must be atomic at the store; per-user serialization comes from
// row-level atomicity there, not from process locks here.
type Store interface {
	Debit(ctx context.Context, userID string, amount int) error
	Credit(ctx context.Context, userID string, amount int) error
}

// Ledger hands out pessimistic credit reservations. A reservation debits the
// balance immediately, so the funds are unavailable to other jobs until it is
// resolved by Commit or Release.
type Ledger struct {
	store  Store
	logger zerolog.Logger
}

func NewLedger(store Store, logger zerolog.Logger) *Ledger {
	return &Ledger{store: store, logger: logger}
}

type reservationState int

const (
	stateReserved reservationState = iota
	stateCommitted
	stateReleased
)

// Reservation is a provisional debit tied to one job. It must be resolved
// exactly once; resolving an already-resolved reservation has no further
// effect, which lets the orchestrator call Release from every error path
// without bookkeeping.
type Reservation struct {
	ID     string
	UserID string
	Amount int

	mu     sync.Mutex
	state  reservationState
	ledger *Ledger
}

// Reserve debits amount from the user's balance. It fails atomically with
// domain.ErrInsufficientCredits when the balance does not cover the amount,
// leaving no state behind.
func (l *Ledger) Reserve(ctx context.Context, userID string, amount int) (*Reservation, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: reservation amount must be positive", domain.ErrValidation)
	}
	if err := l.store.Debit(ctx, userID, amount); err != nil {
		return nil, err
	}
	res := &Reservation{
		ID:     uuid.NewString(),
		UserID: userID,
		Amount: amount,
		ledger: l,
	}
	l.logger.Debug().
		Str("reservation_id", res.ID).
		Str("user_id", userID).
		Int("amount", amount).
		Msg("credits reserved")
	return res, nil
}

// Commit confirms the debit stands. The funds were already taken at Reserve
// time, so this only flips the reservation to its terminal state.
func (r *Reservation) Commit(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != stateReserved {
		return nil
	}
	r.state = stateCommitted
	r.ledger.logger.Debug().
		Str("reservation_id", r.ID).
		Str("user_id", r.UserID).
		Int("amount", r.Amount).
		Msg("credits committed")
	return nil
}

// Release refunds the reserved amount in full. Releasing a reservation that
// was already committed or released is a no-op, so the compensation path can
// run unconditionally. If the refund itself fails the reservation stays
// reserved and the error is returned for the caller to report.
func (r *Reservation) Release(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != stateReserved {
		return nil
	}
	if err := r.ledger.store.Credit(ctx, r.UserID, r.Amount); err != nil {
		return fmt.Errorf("release reservation %s: %w", r.ID, err)
	}
	r.state = stateReleased
	r.ledger.logger.Debug().
		Str("reservation_id", r.ID).
		Str("user_id", r.UserID).
		Int("amount", r.Amount).
		Msg("credits released")
	return nil
}
