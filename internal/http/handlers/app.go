package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/job"
	"server/internal/middleware"
)

// JobRunner executes the generation pipelines on behalf of HTTP handlers.
type JobRunner interface {
	ComposeImage(ctx context.Context, req job.ImageJobRequest) (*domain.Project, error)
	SynthesizeVideo(ctx context.Context, userID, projectID string) (string, error)
	DeleteProject(ctx context.Context, userID, projectID string) error
}

// App bundles the dependencies shared by all HTTP handlers.
type App struct {
	Config   *infra.Config
	Logger   *infra.Logger
	Projects domain.ProjectRepository
	Users    domain.UserRepository
	Jobs     JobRunner
}

func (a *App) json(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.Logger.Error().Err(err).Msg("encode response")
	}
}

func (a *App) error(w http.ResponseWriter, status int, message string) {
	a.json(w, status, map[string]string{"message": message})
}

// replyError translates a domain error into the HTTP response contract.
func (a *App) replyError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	a.error(w, status, err.Error())
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInsufficientCredits),
		errors.Is(err, domain.ErrProjectBusy),
		errors.Is(err, domain.ErrVideoExists),
		errors.Is(err, domain.ErrImageMissing):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (a *App) currentUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "Unauthorized")
		return "", false
	}
	return userID, true
}
