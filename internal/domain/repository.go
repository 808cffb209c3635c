package domain

import "context"

// ProjectRepository defines durable persistence for projects. Every method
// that mutates shared state does so through a single conditional statement at
// the store; callers never read-then-write.
type ProjectRepository interface {
	Create(ctx context.Context, project *Project) error
	GetForUser(ctx context.Context, id, userID string) (*Project, error)
	ListByUser(ctx context.Context, userID string) ([]Project, error)
	ListPublished(ctx context.Context) ([]Project, error)
	Delete(ctx context.Context, id, userID string) error

	// SetInputImages records the durable URLs of the uploaded source images.
	SetInputImages(ctx context.Context, id string, urls []string) error

	// FinishImage / FinishVideo store the generated output reference and
	// clear the in-flight flag in one statement.
	FinishImage(ctx context.Context, id, imageURL string) error
	FinishVideo(ctx context.Context, id, videoURL string) error

	// RecordFailure writes the terminal error (kind + message) and clears the
	// in-flight flag.
	RecordFailure(ctx context.Context, id, kind, message string) error

	SetPublished(ctx context.Context, id string, published bool) error

	// StartVideoGeneration atomically transitions is_generating false->true
	// for a project owned by userID that has a generated image and no video
	// yet. It returns the claimed project, or ErrNotFound / ErrProjectBusy /
	// ErrVideoExists / ErrImageMissing when the transition did not happen.
	StartVideoGeneration(ctx context.Context, id, userID string) (*Project, error)
}

// UserRepository defines account lookups and the two atomic balance moves the
// credit ledger is built on.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*User, error)

	// Debit subtracts amount if and only if the balance covers it, returning
	// ErrInsufficientCredits otherwise. The check and the subtraction are one
	// statement at the store.
	Debit(ctx context.Context, userID string, amount int) error

	// Credit adds amount back to the balance.
	Credit(ctx context.Context, userID string, amount int) error
}
