package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

const projectColumns = `id, user_id, name, product_name, product_description, user_prompt,
aspect_ratio, target_length, input_images, generated_image, generated_video,
is_generating, is_published, error_kind, error_message, created_at`

// ProjectRepositoryPG implements domain.ProjectRepository backed by PostgreSQL.
type ProjectRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewProjectRepository creates a new ProjectRepositoryPG.
func NewProjectRepository(pool *pgxpool.Pool) *ProjectRepositoryPG {
	return &ProjectRepositoryPG{pool: pool}
}

// Create inserts a new project row.
func (r *ProjectRepositoryPG) Create(ctx context.Context, p *domain.Project) error {
	query := `
INSERT INTO projects (id, user_id, name, product_name, product_description, user_prompt,
                      aspect_ratio, target_length, input_images, is_generating)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING created_at;
`
	row := r.pool.QueryRow(ctx, query,
		p.ID,
		p.UserID,
		p.Name,
		p.ProductName,
		p.ProductDescription,
		p.UserPrompt,
		p.AspectRatio,
		p.TargetLength,
		p.InputImages,
		p.IsGenerating,
	)
	return row.Scan(&p.CreatedAt)
}

// GetForUser fetches a project owned by userID.
func (r *ProjectRepositoryPG) GetForUser(ctx context.Context, id, userID string) (*domain.Project, error) {
	query := fmt.Sprintf(`SELECT %s FROM projects WHERE id = $1 AND user_id = $2`, projectColumns)
	return scanProject(r.pool.QueryRow(ctx, query, id, userID))
}

// ListByUser returns all projects owned by userID, newest first.
func (r *ProjectRepositoryPG) ListByUser(ctx context.Context, userID string) ([]domain.Project, error) {
	query := fmt.Sprintf(`SELECT %s FROM projects WHERE user_id = $1 ORDER BY created_at DESC`, projectColumns)
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProjects(rows)
}

// ListPublished returns all published projects.
func (r *ProjectRepositoryPG) ListPublished(ctx context.Context) ([]domain.Project, error) {
	query := fmt.Sprintf(`SELECT %s FROM projects WHERE is_published ORDER BY created_at DESC`, projectColumns)
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProjects(rows)
}

// Delete removes a project owned by userID.
func (r *ProjectRepositoryPG) Delete(ctx context.Context, id, userID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetInputImages records the durable URLs of the uploaded source images.
func (r *ProjectRepositoryPG) SetInputImages(ctx context.Context, id string, urls []string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE projects SET input_images = $2 WHERE id = $1`, id, urls)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// FinishImage stores the generated image reference and clears the in-flight
// flag in one statement.
func (r *ProjectRepositoryPG) FinishImage(ctx context.Context, id, imageURL string) error {
	query := `
UPDATE projects
SET generated_image = $2,
    is_generating = FALSE,
    error_kind = '',
    error_message = ''
WHERE id = $1;
`
	tag, err := r.pool.Exec(ctx, query, id, imageURL)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// FinishVideo stores the generated video reference and clears the in-flight
// flag in one statement.
func (r *ProjectRepositoryPG) FinishVideo(ctx context.Context, id, videoURL string) error {
	query := `
UPDATE projects
SET generated_video = $2,
    is_generating = FALSE,
    error_kind = '',
    error_message = ''
WHERE id = $1;
`
	tag, err := r.pool.Exec(ctx, query, id, videoURL)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// RecordFailure writes the terminal error onto the project and clears the
// in-flight flag.
func (r *ProjectRepositoryPG) RecordFailure(ctx context.Context, id, kind, message string) error {
	query := `
UPDATE projects
SET is_generating = FALSE,
    error_kind = $2,
    error_message = $3
WHERE id = $1;
`
	tag, err := r.pool.Exec(ctx, query, id, kind, message)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetPublished flips the published flag.
func (r *ProjectRepositoryPG) SetPublished(ctx context.Context, id string, published bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE projects SET is_published = $2 WHERE id = $1`, id, published)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// StartVideoGeneration claims the project for a video job with a single
// conditional update. The precondition check and the flag transition are one
// statement, so concurrent starts on the same project serialize at the store:
// exactly one caller observes the false->true transition.
func (r *ProjectRepositoryPG) StartVideoGeneration(ctx context.Context, id, userID string) (*domain.Project, error) {
	query := fmt.Sprintf(`
UPDATE projects
SET is_generating = TRUE,
    error_kind = '',
    error_message = ''
WHERE id = $1
  AND user_id = $2
  AND is_generating = FALSE
  AND generated_video = ''
  AND generated_image <> ''
RETURNING %s;
`, projectColumns)

	project, err := scanProject(r.pool.QueryRow(ctx, query, id, userID))
	if err == nil {
		return project, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	// The transition did not happen. Re-read only to classify the refusal;
	// the read plays no part in the mutual exclusion.
	current, getErr := r.GetForUser(ctx, id, userID)
	if getErr != nil {
		return nil, getErr
	}
	switch {
	case current.IsGenerating:
		return nil, domain.ErrProjectBusy
	case current.GeneratedVideo != "":
		return nil, domain.ErrVideoExists
	case current.GeneratedImage == "":
		return nil, domain.ErrImageMissing
	default:
		// Lost a race that resolved between the update and the read.
		return nil, domain.ErrProjectBusy
	}
}

func scanProject(row pgx.Row) (*domain.Project, error) {
	var p domain.Project
	if err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.Name,
		&p.ProductName,
		&p.ProductDescription,
		&p.UserPrompt,
		&p.AspectRatio,
		&p.TargetLength,
		&p.InputImages,
		&p.GeneratedImage,
		&p.GeneratedVideo,
		&p.IsGenerating,
		&p.IsPublished,
		&p.ErrorKind,
		&p.ErrorMessage,
		&p.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func collectProjects(rows pgx.Rows) ([]domain.Project, error) {
	var projects []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return projects, nil
}
