package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	storage_go "github.com/supabase-community/storage-go"
)

// SupabaseStore persists binary artifacts in a Supabase storage bucket and
// addresses them by public URL. It also fetches previously stored artifacts
// back as raw bytes for re-use in generation calls.
type SupabaseStore struct {
	client     *storage_go.Client
	bucket     string
	baseURL    string
	httpClient *http.Client
}

// NewSupabaseStore configures a store against the given project URL, service
// role key and bucket.
func NewSupabaseStore(projectURL, serviceKey, bucket string) (*SupabaseStore, error) {
	projectURL = strings.TrimRight(strings.TrimSpace(projectURL), "/")
	if projectURL == "" {
		return nil, errors.New("storage: project url is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("storage: bucket is required")
	}
	client := storage_go.NewClient(projectURL+"/storage/v1", serviceKey, nil)
	return &SupabaseStore{
		client:     client,
		bucket:     bucket,
		baseURL:    projectURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// Store uploads data under key and returns the durable public URL.
func (s *SupabaseStore) Store(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	upsert := true
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.UploadFile(s.bucket, key, bytes.NewReader(data), storage_go.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return "", fmt.Errorf("storage: upload %s: %w", key, err)
	}
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, s.bucket, key), nil
}

// Fetch downloads the artifact behind any durable URL previously returned by
// Store (or any other reachable URL) as raw bytes.
func (s *SupabaseStore) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: create fetch request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("storage: fetch %s: status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("storage: read artifact: %w", err)
	}
	return data, nil
}

// Delete removes stored objects; used when a project is deleted.
func (s *SupabaseStore) Delete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.client.RemoveFile(s.bucket, keys); err != nil {
		return fmt.Errorf("storage: delete: %w", err)
	}
	return nil
}
