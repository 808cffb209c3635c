package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
	"server/internal/job"
)

// Uploads above this size are rejected before reading file contents.
const maxUploadBytes = 25 << 20

// The compose pipeline takes exactly one person shot and one product shot.
const maxSourceImages = 2

// CreateProject accepts a multipart form with at least two source images under
// the "image" field and kicks off the image-compose job synchronously.
func (a *App) CreateProject(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.currentUserID(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		a.error(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	files := r.MultipartForm.File["image"]
	if len(files) > maxSourceImages {
		a.error(w, http.StatusBadRequest, "Too many images uploaded")
		return
	}
	images := make([]job.SourceImage, 0, len(files))
	for _, header := range files {
		f, err := header.Open()
		if err != nil {
			a.error(w, http.StatusBadRequest, "Unable to read uploaded image")
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			a.error(w, http.StatusBadRequest, "Unable to read uploaded image")
			return
		}
		mime := header.Header.Get("Content-Type")
		if mime == "" {
			mime = http.DetectContentType(data)
		}
		images = append(images, job.SourceImage{Data: data, MimeType: mime})
	}

	targetLength := 0
	if v := r.FormValue("targetLength"); v != "" {
		targetLength, _ = strconv.Atoi(v)
	}

	project, err := a.Jobs.ComposeImage(r.Context(), job.ImageJobRequest{
		UserID:             userID,
		Name:               r.FormValue("name"),
		ProductName:        r.FormValue("productName"),
		ProductDescription: r.FormValue("productDescription"),
		UserPrompt:         r.FormValue("prompt"),
		AspectRatio:        r.FormValue("aspectRatio"),
		TargetLength:       targetLength,
		Images:             images,
	})
	if err != nil {
		a.replyError(w, r, err)
		return
	}

	a.json(w, http.StatusOK, map[string]any{"projectId": project.ID})
}

// CreateVideo starts the video-synthesize job for an existing project and
// blocks until it reaches a terminal state.
func (a *App) CreateVideo(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.currentUserID(w, r)
	if !ok {
		return
	}

	var body struct {
		ProjectID string `json:"projectId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.error(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	videoURL, err := a.Jobs.SynthesizeVideo(r.Context(), userID, body.ProjectID)
	if err != nil {
		a.replyError(w, r, err)
		return
	}

	a.json(w, http.StatusOK, map[string]any{
		"message":  "Video generation completed",
		"videoUrl": videoURL,
	})
}

// PublishedProjects lists all published projects across users. No
// authentication is required.
func (a *App) PublishedProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := a.Projects.ListPublished(r.Context())
	if err != nil {
		a.replyError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"projects": projects})
}

// DeleteProject removes a project owned by the caller along with its stored
// artifacts.
func (a *App) DeleteProject(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.currentUserID(w, r)
	if !ok {
		return
	}

	projectID := chi.URLParam(r, "id")
	if err := a.Jobs.DeleteProject(r.Context(), userID, projectID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "Project not found")
			return
		}
		a.replyError(w, r, err)
		return
	}

	a.json(w, http.StatusOK, map[string]string{"message": "Project deleted successfully"})
}
