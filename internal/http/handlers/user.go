package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
)

// Credits returns the caller's current balance. A user row that does not
// exist yet reads as a zero balance, not an error.
func (a *App) Credits(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.currentUserID(w, r)
	if !ok {
		return
	}

	user, err := a.Users.GetByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.json(w, http.StatusOK, map[string]int{"credits": 0})
			return
		}
		a.replyError(w, r, err)
		return
	}

	a.json(w, http.StatusOK, map[string]int{"credits": user.Credits})
}

// UserProjects lists the caller's projects, newest first.
func (a *App) UserProjects(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.currentUserID(w, r)
	if !ok {
		return
	}

	projects, err := a.Projects.ListByUser(r.Context(), userID)
	if err != nil {
		a.replyError(w, r, err)
		return
	}

	a.json(w, http.StatusOK, map[string]any{"projects": projects})
}

// ProjectByID returns one project owned by the caller.
func (a *App) ProjectByID(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.currentUserID(w, r)
	if !ok {
		return
	}

	project, err := a.Projects.GetForUser(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "Project not found")
			return
		}
		a.replyError(w, r, err)
		return
	}

	a.json(w, http.StatusOK, map[string]any{"project": project})
}

// TogglePublish flips a project's published flag. A project with no generated
// output cannot be published.
func (a *App) TogglePublish(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.currentUserID(w, r)
	if !ok {
		return
	}

	projectID := chi.URLParam(r, "id")
	project, err := a.Projects.GetForUser(r.Context(), projectID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "Project not found")
			return
		}
		a.replyError(w, r, err)
		return
	}

	next := !project.IsPublished
	if next && !project.Publishable() {
		a.error(w, http.StatusBadRequest, "Image or video not generated")
		return
	}

	if err := a.Projects.SetPublished(r.Context(), projectID, next); err != nil {
		a.replyError(w, r, err)
		return
	}

	a.json(w, http.StatusOK, map[string]any{
		"success":     true,
		"isPublished": next,
	})
}
