package genai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"server/internal/domain"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Options{
		APIKey:  "test-key",
		BaseURL: server.URL,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, server
}

func TestComposeImageExtractsInlinePart(t *testing.T) {
	want := []byte("generated-bytes")
	var gotBody generateContentRequest

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":generateContent") {
			t.Errorf("path = %q, want generateContent call", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("key = %q, want test-key", r.URL.Query().Get("key"))
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"parts": []map[string]any{
						{"text": "here is your image"},
						{"inlineData": map[string]any{
							"mimeType": "image/png",
							"data":     base64.StdEncoding.EncodeToString(want),
						}},
					},
				},
			}},
		})
	}))

	payload, err := client.ComposeImage(context.Background(), ComposeImageRequest{
		Images: []InlineImage{
			{MimeType: "image/png", Data: []byte("a")},
			{MimeType: "image/jpeg", Data: []byte("b")},
		},
		Prompt:      "compose",
		AspectRatio: "9:16",
	})
	if err != nil {
		t.Fatalf("ComposeImage: %v", err)
	}
	if string(payload.Data) != string(want) {
		t.Errorf("data = %q, want %q", payload.Data, want)
	}
	if payload.MimeType != "image/png" {
		t.Errorf("mime = %q, want image/png", payload.MimeType)
	}

	if len(gotBody.Contents) != 1 || len(gotBody.Contents[0].Parts) != 3 {
		t.Fatalf("request parts = %+v, want 2 images + 1 prompt", gotBody.Contents)
	}
	if gotBody.GenerationConfig == nil || gotBody.GenerationConfig.ImageConfig == nil ||
		gotBody.GenerationConfig.ImageConfig.AspectRatio != "9:16" {
		t.Errorf("generation config = %+v, want aspect ratio forwarded", gotBody.GenerationConfig)
	}
}

func TestComposeImageNoImagePart(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"parts": []map[string]any{{"text": "sorry, text only"}},
				},
			}},
		})
	}))

	_, err := client.ComposeImage(context.Background(), ComposeImageRequest{Prompt: "compose"})
	if !errors.Is(err, domain.ErrExternalService) {
		t.Fatalf("err = %v, want ErrExternalService", err)
	}
}

func TestComposeImageUpstreamError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": 429, "message": "quota exceeded"},
		})
	}))

	_, err := client.ComposeImage(context.Background(), ComposeImageRequest{Prompt: "compose"})
	if !errors.Is(err, domain.ErrExternalService) {
		t.Fatalf("err = %v, want ErrExternalService", err)
	}
	if !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("err = %v, want upstream message preserved", err)
	}
}

func TestSynthesizeVideoReturnsOperation(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":predictLongRunning") {
			t.Errorf("path = %q, want predictLongRunning call", r.URL.Path)
		}
		var body predictVideoRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(body.Instances) != 1 || body.Instances[0].Image == nil {
			t.Errorf("instances = %+v, want one instance with inline image", body.Instances)
		}
		if body.Parameters == nil || body.Parameters.SampleCount != 1 {
			t.Errorf("parameters = %+v, want sampleCount 1", body.Parameters)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"name": "operations/op-123"})
	}))

	op, err := client.SynthesizeVideo(context.Background(), VideoRequest{
		ImageData:     []byte("img"),
		ImageMimeType: "image/png",
		Prompt:        "showcase",
		AspectRatio:   "9:16",
	})
	if err != nil {
		t.Fatalf("SynthesizeVideo: %v", err)
	}
	if op.Name != "operations/op-123" {
		t.Errorf("operation = %q, want operations/op-123", op.Name)
	}
}

func TestPollOperationPending(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"name": "operations/op-123", "done": false})
	}))

	status, err := client.PollOperation(context.Background(), &Operation{Name: "operations/op-123"})
	if err != nil {
		t.Fatalf("PollOperation: %v", err)
	}
	if status.Done {
		t.Error("expected pending status")
	}
}

func TestPollOperationDownloadsVideo(t *testing.T) {
	videoBytes := []byte("mp4-bytes")

	var server *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/operations/op-123", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"name": "operations/op-123",
			"done": true,
			"response": map[string]any{
				"generateVideoResponse": map[string]any{
					"generatedSamples": []map[string]any{
						{"video": map[string]any{"uri": server.URL + "/files/video-1"}},
					},
				},
			},
		})
	})
	mux.HandleFunc("/files/video-1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write(videoBytes)
	})

	client, srv := newTestClient(t, mux)
	server = srv

	status, err := client.PollOperation(context.Background(), &Operation{Name: "operations/op-123"})
	if err != nil {
		t.Fatalf("PollOperation: %v", err)
	}
	if !status.Done {
		t.Fatal("expected done status")
	}
	if string(status.Video) != string(videoBytes) {
		t.Errorf("video = %q, want %q", status.Video, videoBytes)
	}
	if status.MimeType != "video/mp4" {
		t.Errorf("mime = %q, want video/mp4", status.MimeType)
	}
}

func TestPollOperationFilteredReason(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"name": "operations/op-123",
			"done": true,
			"response": map[string]any{
				"generateVideoResponse": map[string]any{
					"generatedSamples":        []map[string]any{},
					"raiMediaFilteredReasons": []string{"policy"},
				},
			},
		})
	}))

	status, err := client.PollOperation(context.Background(), &Operation{Name: "operations/op-123"})
	if err != nil {
		t.Fatalf("PollOperation: %v", err)
	}
	if !status.Done {
		t.Fatal("expected done status")
	}
	if len(status.Video) != 0 {
		t.Error("expected no video payload")
	}
	if status.RejectionReason != "policy" {
		t.Errorf("reason = %q, want policy", status.RejectionReason)
	}
}

func TestPollOperationErrorMessage(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"name":  "operations/op-123",
			"done":  true,
			"error": map[string]any{"code": 3, "message": "prompt violates safety guidelines"},
		})
	}))

	status, err := client.PollOperation(context.Background(), &Operation{Name: "operations/op-123"})
	if err != nil {
		t.Fatalf("PollOperation: %v", err)
	}
	if status.RejectionReason != "prompt violates safety guidelines" {
		t.Errorf("reason = %q, want upstream message verbatim", status.RejectionReason)
	}
}

func TestPollOperationEmptyHandle(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	if _, err := client.PollOperation(context.Background(), nil); !errors.Is(err, domain.ErrExternalService) {
		t.Errorf("nil operation err = %v, want ErrExternalService", err)
	}
	if _, err := client.PollOperation(context.Background(), &Operation{}); !errors.Is(err, domain.ErrExternalService) {
		t.Errorf("empty operation err = %v, want ErrExternalService", err)
	}
}
