package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/infra"
)

// Options controls how the generative-media client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	ImageModel string
	VideoModel string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client is a thin facade over the Gemini REST API. It exposes exactly the
// two capabilities the orchestrator needs: a synchronous image composition
// call and an asynchronous video synthesis call observed through an
// operation handle. Model behavior and quality are opaque here; only the
// request/response/poll contract matters.
type Client struct {
	apiKey     string
	baseURL    string
	imageModel string
	videoModel string
	httpClient *http.Client
	logger     *infra.Logger
}

// InlineImage is a raw image payload sent inline with a generation request.
type InlineImage struct {
	MimeType string
	Data     []byte
}

// ComposeImageRequest carries the inputs for a synchronous image composition.
type ComposeImageRequest struct {
	Images      []InlineImage
	Prompt      string
	AspectRatio string
}

// ImagePayload is the single generated image returned by ComposeImage.
type ImagePayload struct {
	MimeType string
	Data     []byte
}

// VideoRequest carries the inputs for an asynchronous video synthesis.
type VideoRequest struct {
	ImageData     []byte
	ImageMimeType string
	Prompt        string
	AspectRatio   string
}

// Operation is an opaque handle to an in-progress video synthesis.
type Operation struct {
	Name string
}

// OperationStatus is one observation of an operation. Done with an empty
// Video and a non-empty RejectionReason means the model declined the request
// terminally.
type OperationStatus struct {
	Done            bool
	Video           []byte
	MimeType        string
	RejectionReason string
}

type generateContentRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts,omitempty"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string     `json:"responseModalities,omitempty"`
	ImageConfig        *imageConfig `json:"imageConfig,omitempty"`
}

type imageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

type predictVideoRequest struct {
	Instances  []videoInstance  `json:"instances"`
	Parameters *videoParameters `json:"parameters,omitempty"`
}

type videoInstance struct {
	Prompt string      `json:"prompt"`
	Image  *videoImage `json:"image,omitempty"`
}

type videoImage struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded,omitempty"`
	MimeType           string `json:"mimeType,omitempty"`
}

type videoParameters struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
	SampleCount int    `json:"sampleCount,omitempty"`
	Resolution  string `json:"resolution,omitempty"`
}

type operationResponse struct {
	Name  string `json:"name"`
	Done  bool   `json:"done"`
	Error *struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error,omitempty"`
	Response *struct {
		GenerateVideoResponse *struct {
			GeneratedSamples []struct {
				Video struct {
					URI string `json:"uri,omitempty"`
				} `json:"video"`
			} `json:"generatedSamples"`
			RAIMediaFilteredReasons []string `json:"raiMediaFilteredReasons,omitempty"`
		} `json:"generateVideoResponse,omitempty"`
	} `json:"response,omitempty"`
}

type apiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// NewClient constructs a client with sane defaults. A nil HTTP client gets a
// reusable one with a long timeout suitable for inline image payloads.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}

	imageModel := opts.ImageModel
	if imageModel == "" {
		imageModel = "gemini-3-pro-image-preview"
	}
	videoModel := opts.VideoModel
	if videoModel == "" {
		videoModel = "veo-3.1-generate-preview"
	}

	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}

	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		imageModel: imageModel,
		videoModel: videoModel,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// ComposeImage runs a synchronous composition over the supplied source
// images. The response must contain exactly one inline image part; its
// absence is a terminal external-service failure, not a retryable condition.
func (c *Client) ComposeImage(ctx context.Context, req ComposeImageRequest) (*ImagePayload, error) {
	parts := make([]part, 0, len(req.Images)+1)
	for _, img := range req.Images {
		parts = append(parts, part{InlineData: &inlineData{
			MimeType: img.MimeType,
			Data:     base64.StdEncoding.EncodeToString(img.Data),
		}})
	}
	parts = append(parts, part{Text: req.Prompt})

	payload := generateContentRequest{
		Contents: []content{{Role: "user", Parts: parts}},
		GenerationConfig: &generationConfig{
			ResponseModalities: []string{"IMAGE"},
			ImageConfig:        &imageConfig{AspectRatio: req.AspectRatio},
		},
	}

	var response generateContentResponse
	path := fmt.Sprintf("/models/%s:generateContent", url.PathEscape(c.imageModel))
	if err := c.invoke(ctx, http.MethodPost, path, payload, &response); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExternalService, err)
	}

	for _, candidate := range response.Candidates {
		for _, p := range candidate.Content.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("%w: decode image payload: %v", domain.ErrExternalService, err)
			}
			mime := p.InlineData.MimeType
			if mime == "" {
				mime = "image/png"
			}
			c.logger.Debug().
				Str("model", c.imageModel).
				Int("bytes", len(data)).
				Msg("genai: composed image")
			return &ImagePayload{MimeType: mime, Data: data}, nil
		}
	}
	return nil, fmt.Errorf("%w: no image part in response", domain.ErrExternalService)
}

// SynthesizeVideo starts an asynchronous video synthesis and returns the
// operation handle to poll.
func (c *Client) SynthesizeVideo(ctx context.Context, req VideoRequest) (*Operation, error) {
	payload := predictVideoRequest{
		Instances: []videoInstance{{
			Prompt: req.Prompt,
			Image: &videoImage{
				BytesBase64Encoded: base64.StdEncoding.EncodeToString(req.ImageData),
				MimeType:           req.ImageMimeType,
			},
		}},
		Parameters: &videoParameters{
			AspectRatio: req.AspectRatio,
			SampleCount: 1,
			Resolution:  "720p",
		},
	}

	var response operationResponse
	path := fmt.Sprintf("/models/%s:predictLongRunning", url.PathEscape(c.videoModel))
	if err := c.invoke(ctx, http.MethodPost, path, payload, &response); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExternalService, err)
	}
	if response.Name == "" {
		return nil, fmt.Errorf("%w: operation name missing", domain.ErrExternalService)
	}
	c.logger.Debug().
		Str("model", c.videoModel).
		Str("operation", response.Name).
		Msg("genai: video synthesis started")
	return &Operation{Name: response.Name}, nil
}

// PollOperation re-queries an operation handle once. When the operation is
// done with a video sample, the sample is downloaded and returned as bytes.
// Done without a sample carries the model's rejection reason.
func (c *Client) PollOperation(ctx context.Context, op *Operation) (*OperationStatus, error) {
	if op == nil || op.Name == "" {
		return nil, fmt.Errorf("%w: empty operation handle", domain.ErrExternalService)
	}

	var response operationResponse
	if err := c.invoke(ctx, http.MethodGet, "/"+strings.TrimLeft(op.Name, "/"), nil, &response); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExternalService, err)
	}
	if !response.Done {
		return &OperationStatus{}, nil
	}
	if response.Error != nil && response.Error.Message != "" {
		return &OperationStatus{Done: true, RejectionReason: response.Error.Message}, nil
	}

	reason := "video generation failed"
	if vr := videoResult(&response); vr != nil {
		if len(vr.GeneratedSamples) > 0 && vr.GeneratedSamples[0].Video.URI != "" {
			data, mime, err := c.downloadFile(ctx, vr.GeneratedSamples[0].Video.URI)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrExternalService, err)
			}
			if mime == "" {
				mime = "video/mp4"
			}
			return &OperationStatus{Done: true, Video: data, MimeType: mime}, nil
		}
		if len(vr.RAIMediaFilteredReasons) > 0 {
			reason = vr.RAIMediaFilteredReasons[0]
		}
	}
	return &OperationStatus{Done: true, RejectionReason: reason}, nil
}

func videoResult(op *operationResponse) *struct {
	GeneratedSamples []struct {
		Video struct {
			URI string `json:"uri,omitempty"`
		} `json:"video"`
	} `json:"generatedSamples"`
	RAIMediaFilteredReasons []string `json:"raiMediaFilteredReasons,omitempty"`
} {
	if op.Response == nil {
		return nil
	}
	return op.Response.GenerateVideoResponse
}

func (c *Client) invoke(ctx context.Context, method, path string, payload, out any) error {
	endpoint := c.baseURL + path
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		q := req.URL.Query()
		q.Set("key", c.apiKey)
		req.URL.RawQuery = q.Encode()
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("invoke gemini: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("gemini status %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		data, _ := io.ReadAll(resp.Body)
		if len(data) > 0 {
			return fmt.Errorf("gemini status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		}
		return fmt.Errorf("gemini status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gemini response: %w", err)
	}
	return nil
}

func (c *Client) downloadFile(ctx context.Context, uri string) ([]byte, string, error) {
	target := uri
	if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
		target = c.baseURL + "/" + strings.TrimLeft(uri, "/")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create download request: %w", err)
	}
	if c.apiKey != "" {
		q := req.URL.Query()
		q.Set("key", c.apiKey)
		req.URL.RawQuery = q.Encode()
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		return nil, "", fmt.Errorf("download file status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read file: %w", err)
	}
	return blob, resp.Header.Get("Content-Type"), nil
}
