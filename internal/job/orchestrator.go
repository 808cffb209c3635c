package job

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"server/internal/credits"
	"server/internal/domain"
	"server/internal/providers/genai"
)

// Credit costs per job kind.
const (
	ImageJobCost = 5
	VideoJobCost = 10
)

const (
	defaultPollInterval = 10 * time.Second
	defaultPollTimeout  = 10 * time.Minute
)

// Gateway is the generative-media capability the orchestrator drives: one
// synchronous compose call and one asynchronous synthesis observed through a
// pollable operation handle.
type Gateway interface {
	ComposeImage(ctx context.Context, req genai.ComposeImageRequest) (*genai.ImagePayload, error)
	SynthesizeVideo(ctx context.Context, req genai.VideoRequest) (*genai.Operation, error)
	PollOperation(ctx context.Context, op *genai.Operation) (*genai.OperationStatus, error)
}

// ArtifactStore uploads binary content in exchange for a durable URL, fetches
// previously stored content back and removes it when its project goes away.
type ArtifactStore interface {
	Store(ctx context.Context, key, contentType string, data []byte) (string, error)
	Fetch(ctx context.Context, url string) ([]byte, error)
	Delete(ctx context.Context, keys []string) error
}

// Orchestrator drives a job from request to terminal state. Its contract: a
// credit reservation taken for a job is always resolved, committed on
// completion and released in full on any failure after it was taken, and the
// project row always ends in a clean terminal state (output set, or error
// recorded with the in-flight flag cleared).
//
// The orchestrator keeps no shared mutable state across jobs; the in-flight
// flag and the balance live in the durable store and are only ever moved by
// atomic conditional updates there.
type Orchestrator struct {
	Projects  domain.ProjectRepository
	Ledger    *credits.Ledger
	Gateway   Gateway
	Artifacts ArtifactStore
	Logger    zerolog.Logger

	// PollInterval is the fixed wait between operation polls. PollTimeout is
	// the hard ceiling on the total poll phase; exceeding it is a terminal
	// timeout failure, never an open-ended wait.
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// SourceImage is one uploaded source image payload.
type SourceImage struct {
	Data     []byte
	MimeType string
}

// ImageJobRequest carries the validated-at-the-edge inputs of an
// image-compose job.
type ImageJobRequest struct {
	UserID             string
	Name               string
	ProductName        string
	ProductDescription string
	UserPrompt         string
	AspectRatio        string
	TargetLength       int
	Images             []SourceImage
}

// ComposeImage runs the image-compose job: create the project row, reserve
// credits, upload inputs, invoke the gateway, store the output and commit.
// The project row is created before the reservation so a durable audit record
// exists even when the reservation fails.
func (o *Orchestrator) ComposeImage(ctx context.Context, req ImageJobRequest) (project *domain.Project, err error) {
	if req.UserID == "" {
		return nil, domain.ErrUnauthorized
	}
	if len(req.Images) < 2 {
		return nil, fmt.Errorf("%w: at least 2 images are required", domain.ErrValidation)
	}
	if strings.TrimSpace(req.ProductName) == "" {
		return nil, fmt.Errorf("%w: product name is required", domain.ErrValidation)
	}
	aspect, ok := domain.ParseAspectRatio(req.AspectRatio)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported aspect ratio %q", domain.ErrValidation, req.AspectRatio)
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "New Project"
	}
	targetLength := req.TargetLength
	if targetLength <= 0 {
		targetLength = 5
	}

	// The job must reach a terminal state even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	project = &domain.Project{
		ID:                 uuid.NewString(),
		UserID:             req.UserID,
		Name:               name,
		ProductName:        strings.TrimSpace(req.ProductName),
		ProductDescription: strings.TrimSpace(req.ProductDescription),
		UserPrompt:         strings.TrimSpace(req.UserPrompt),
		AspectRatio:        aspect,
		TargetLength:       targetLength,
		InputImages:        []string{},
		IsGenerating:       true,
	}
	if err := o.Projects.Create(ctx, project); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}

	projectID := project.ID
	reservation, err := o.Ledger.Reserve(ctx, req.UserID, ImageJobCost)
	defer func() {
		if err != nil {
			o.compensate(ctx, reservation, projectID, err)
		}
	}()
	if err != nil {
		return nil, err
	}

	inputURLs := make([]string, 0, len(req.Images))
	for i, img := range req.Images {
		key := fmt.Sprintf("projects/%s/input-%02d%s", project.ID, i+1, extensionForMIME(img.MimeType))
		url, storeErr := o.Artifacts.Store(ctx, key, img.MimeType, img.Data)
		if storeErr != nil {
			err = fmt.Errorf("%w: store source image: %v", domain.ErrExternalService, storeErr)
			return nil, err
		}
		inputURLs = append(inputURLs, url)
	}
	if err = o.Projects.SetInputImages(ctx, project.ID, inputURLs); err != nil {
		err = fmt.Errorf("record input images: %w", err)
		return nil, err
	}
	project.InputImages = inputURLs

	images := make([]genai.InlineImage, 0, len(req.Images))
	for _, img := range req.Images {
		images = append(images, genai.InlineImage{MimeType: img.MimeType, Data: img.Data})
	}
	payload, composeErr := o.Gateway.ComposeImage(ctx, genai.ComposeImageRequest{
		Images:      images,
		Prompt:      buildImagePrompt(project.UserPrompt),
		AspectRatio: string(aspect),
	})
	if composeErr != nil {
		err = composeErr
		return nil, err
	}

	key := fmt.Sprintf("projects/%s/generated-image%s", project.ID, extensionForMIME(payload.MimeType))
	imageURL, storeErr := o.Artifacts.Store(ctx, key, payload.MimeType, payload.Data)
	if storeErr != nil {
		err = fmt.Errorf("%w: store generated image: %v", domain.ErrExternalService, storeErr)
		return nil, err
	}

	if err = o.Projects.FinishImage(ctx, project.ID, imageURL); err != nil {
		err = fmt.Errorf("finish project: %w", err)
		return nil, err
	}
	if commitErr := reservation.Commit(ctx); commitErr != nil {
		o.Logger.Error().Err(commitErr).Str("project_id", project.ID).Msg("job: commit reservation failed")
	}

	project.GeneratedImage = imageURL
	project.IsGenerating = false
	o.Logger.Info().
		Str("project_id", project.ID).
		Str("user_id", req.UserID).
		Msg("job: image compose completed")
	return project, nil
}

// SynthesizeVideo runs the video-synthesize job against an existing project.
// Credits are reserved before the project is claimed, so a reservation failure
// leaves the project row untouched; a refused claim releases the reservation
// in full. The claim itself is a single conditional flag transition at the
// repository; no lock is held for the life of the job.
func (o *Orchestrator) SynthesizeVideo(ctx context.Context, userID, projectID string) (videoURL string, err error) {
	if userID == "" {
		return "", domain.ErrUnauthorized
	}
	if strings.TrimSpace(projectID) == "" {
		return "", fmt.Errorf("%w: project id is required", domain.ErrValidation)
	}

	ctx = context.WithoutCancel(ctx)

	reservation, err := o.Ledger.Reserve(ctx, userID, VideoJobCost)
	if err != nil {
		return "", err
	}

	project, err := o.Projects.StartVideoGeneration(ctx, projectID, userID)
	if err != nil {
		if releaseErr := reservation.Release(ctx); releaseErr != nil {
			o.Logger.Error().Err(releaseErr).
				Str("project_id", projectID).
				Msg("job: release reservation failed")
		}
		return "", err
	}

	defer func() {
		if err != nil {
			o.compensate(ctx, reservation, projectID, err)
		}
	}()

	imageData, fetchErr := o.Artifacts.Fetch(ctx, project.GeneratedImage)
	if fetchErr != nil {
		err = fmt.Errorf("%w: fetch generated image: %v", domain.ErrExternalService, fetchErr)
		return "", err
	}

	operation, startErr := o.Gateway.SynthesizeVideo(ctx, genai.VideoRequest{
		ImageData:     imageData,
		ImageMimeType: http.DetectContentType(imageData),
		Prompt:        buildVideoPrompt(project),
		AspectRatio:   string(project.AspectRatio),
	})
	if startErr != nil {
		err = startErr
		return "", err
	}

	video, pollErr := o.awaitVideo(ctx, operation)
	if pollErr != nil {
		err = pollErr
		return "", err
	}

	key := fmt.Sprintf("projects/%s/generated-video%s", projectID, extensionForMIME(video.MimeType))
	videoURL, storeErr := o.Artifacts.Store(ctx, key, video.MimeType, video.Video)
	if storeErr != nil {
		err = fmt.Errorf("%w: store generated video: %v", domain.ErrExternalService, storeErr)
		return "", err
	}

	if err = o.Projects.FinishVideo(ctx, projectID, videoURL); err != nil {
		err = fmt.Errorf("finish project: %w", err)
		return "", err
	}
	if commitErr := reservation.Commit(ctx); commitErr != nil {
		o.Logger.Error().Err(commitErr).Str("project_id", projectID).Msg("job: commit reservation failed")
	}

	o.Logger.Info().
		Str("project_id", projectID).
		Str("user_id", userID).
		Msg("job: video synthesis completed")
	return videoURL, nil
}

// DeleteProject removes the project row and then, best effort, the stored
// artifacts behind it. The row is the source of truth; an artifact cleanup
// failure is logged, not surfaced, since the orphaned objects are unreachable
// once the row is gone.
func (o *Orchestrator) DeleteProject(ctx context.Context, userID, projectID string) error {
	if userID == "" {
		return domain.ErrUnauthorized
	}
	project, err := o.Projects.GetForUser(ctx, projectID, userID)
	if err != nil {
		return err
	}
	if err := o.Projects.Delete(ctx, projectID, userID); err != nil {
		return err
	}

	if keys := artifactKeys(project); len(keys) > 0 {
		if err := o.Artifacts.Delete(context.WithoutCancel(ctx), keys); err != nil {
			o.Logger.Warn().Err(err).
				Str("project_id", projectID).
				Msg("job: artifact cleanup failed")
		}
	}
	return nil
}

// artifactKeys recovers the bucket keys from the durable URLs recorded on the
// project. Every key the orchestrator writes sits under projects/{id}/.
func artifactKeys(p *domain.Project) []string {
	prefix := "/projects/" + p.ID + "/"
	urls := make([]string, 0, len(p.InputImages)+2)
	urls = append(urls, p.InputImages...)
	urls = append(urls, p.GeneratedImage, p.GeneratedVideo)

	var keys []string
	for _, u := range urls {
		if u == "" {
			continue
		}
		if idx := strings.Index(u, prefix); idx >= 0 {
			keys = append(keys, u[idx+1:])
		}
	}
	return keys
}

// awaitVideo polls the operation at a fixed interval until it reports done or
// the hard deadline passes. A done-but-unsuccessful operation carries the
// model's rejection reason and is terminal, not retried.
func (o *Orchestrator) awaitVideo(ctx context.Context, op *genai.Operation) (*genai.OperationStatus, error) {
	interval := o.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	timeout := o.PollTimeout
	if timeout <= 0 {
		timeout = defaultPollTimeout
	}
	deadline := time.Now().Add(timeout)

	for {
		status, err := o.Gateway.PollOperation(ctx, op)
		if err != nil {
			return nil, err
		}
		if status.Done {
			if len(status.Video) == 0 {
				reason := status.RejectionReason
				if reason == "" {
					reason = "video generation failed"
				}
				return nil, &domain.RejectionError{Reason: reason}
			}
			return status, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: operation still pending after %s", domain.ErrTimeout, timeout)
		}
		time.Sleep(interval)
	}
}

// compensate is the orchestrator's top-level guarantee: release the
// reservation (if one was taken) and record the failure on the project,
// clearing the in-flight flag. Failures inside compensation are logged and
// never mask the original error.
func (o *Orchestrator) compensate(ctx context.Context, reservation *credits.Reservation, projectID string, cause error) {
	if reservation != nil {
		if releaseErr := reservation.Release(ctx); releaseErr != nil {
			o.Logger.Error().Err(releaseErr).
				Str("project_id", projectID).
				Msg("job: release reservation failed")
		}
	}
	if recordErr := o.Projects.RecordFailure(ctx, projectID, domain.ErrorKind(cause), cause.Error()); recordErr != nil {
		o.Logger.Error().Err(recordErr).
			Str("project_id", projectID).
			Msg("job: record failure failed")
	}
	o.Logger.Warn().Err(cause).
		Str("project_id", projectID).
		Str("error_kind", domain.ErrorKind(cause)).
		Msg("job: failed")
}

const imagePromptBase = `Combine the person and product into a realistic photo.
Make the person naturally hold or use the product.
Match lighting, shadows, scale and perspective.
Make the person stand in professional studio lighting.
Output ecommerce-quality photo realistic imagery.`

func buildImagePrompt(userPrompt string) string {
	if userPrompt == "" {
		return imagePromptBase
	}
	return imagePromptBase + "\n" + userPrompt
}

func buildVideoPrompt(p *domain.Project) string {
	prompt := "make the person showcase the product which is " + p.ProductName
	if p.ProductDescription != "" {
		prompt += " and Product Description: " + p.ProductDescription
	}
	return prompt
}

func extensionForMIME(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	default:
		return ".bin"
	}
}
