package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/opsforge/opsforge/agent-plane/internal/registry"
	"github.com/opsforge/opsforge/agent-plane/pkg/models"
)

const (
	defaultGCSEndpoint = "https://storage.googleapis.com"

	// gcsListLimit is the default page size for object listings.
	gcsListLimit = 10

	// gcsPreviewBytes bounds how much downloaded content is folded
	// into the transcript.
	gcsPreviewBytes = 500
)

// GCSConfig configures the Cloud Storage tool client.
type GCSConfig struct {
	ProjectID   string
	Bucket      string
	AccessToken string
	BaseURL     string // override for tests
	Timeout     time.Duration
}

// GCSClient talks to the Cloud Storage JSON API on behalf of the
// agent. All operations target the configured artifact bucket.
type GCSClient struct {
	bucket      string
	accessToken string
	baseURL     string
	hc          *http.Client
}

// NewGCSClient builds a client. Zero config fields fall back to the
// public API endpoint and a 30s request timeout.
func NewGCSClient(cfg GCSConfig) *GCSClient {
	base := cfg.BaseURL
	if base == "" {
		base = defaultGCSEndpoint
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &GCSClient{
		bucket:      cfg.Bucket,
		accessToken: cfg.AccessToken,
		baseURL:     strings.TrimRight(base, "/"),
		hc:          &http.Client{Timeout: timeout},
	}
}

func (c *GCSClient) do(ctx context.Context, method, path string, body io.Reader, contentType string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, b, nil
}

// Upload writes content to an object in the artifact bucket.
func (c *GCSClient) Upload(ctx context.Context, fileName, content, destination string) (*models.ToolOutput, error) {
	path := fmt.Sprintf("/upload/storage/v1/b/%s/o?uploadType=media&name=%s",
		url.PathEscape(c.bucket), url.QueryEscape(destination))

	status, body, err := c.do(ctx, http.MethodPost, path, strings.NewReader(content), "application/octet-stream")
	if err != nil {
		return nil, fmt.Errorf("Error uploading to GCS: %v", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("Error uploading to GCS: %d - %s", status, strings.TrimSpace(string(body)))
	}

	publicURL := fmt.Sprintf("gs://%s/%s", c.bucket, destination)
	return &models.ToolOutput{
		Value:        fmt.Sprintf("Successfully uploaded %s to GCS. URL: %s", fileName, publicURL),
		ArtifactRefs: []string{publicURL},
	}, nil
}

// Download reads an object and returns a bounded preview of its
// content.
func (c *GCSClient) Download(ctx context.Context, source string) (*models.ToolOutput, error) {
	path := fmt.Sprintf("/storage/v1/b/%s/o/%s?alt=media",
		url.PathEscape(c.bucket), url.PathEscape(source))

	status, body, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, fmt.Errorf("Error downloading from GCS: %v", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("Error downloading from GCS: %d - %s", status, strings.TrimSpace(string(body)))
	}

	preview := string(body)
	if len(preview) > gcsPreviewBytes {
		preview = preview[:gcsPreviewBytes]
	}

	return &models.ToolOutput{
		Value: fmt.Sprintf("Successfully downloaded %s. Content:\n%s...", source, preview),
	}, nil
}

// ListFiles lists objects in the artifact bucket, optionally filtered
// by prefix.
func (c *GCSClient) ListFiles(ctx context.Context, prefix string, maxResults int) (*models.ToolOutput, error) {
	if maxResults <= 0 {
		maxResults = gcsListLimit
	}
	path := fmt.Sprintf("/storage/v1/b/%s/o?maxResults=%d", url.PathEscape(c.bucket), maxResults)
	if prefix != "" {
		path += "&prefix=" + url.QueryEscape(prefix)
	}

	status, body, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, fmt.Errorf("Error listing GCS files: %v", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("Error listing GCS files: %d - %s", status, strings.TrimSpace(string(body)))
	}

	var listing struct {
		Items []struct {
			Name    string `json:"name"`
			Size    string `json:"size"`
			Updated string `json:"updated"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("Error listing GCS files: %v", err)
	}

	if len(listing.Items) == 0 {
		return &models.ToolOutput{Value: "No files found in the bucket."}, nil
	}

	lines := make([]string, 0, len(listing.Items))
	for _, item := range listing.Items {
		lines = append(lines, fmt.Sprintf("- %s (Size: %s bytes, Updated: %s)", item.Name, item.Size, item.Updated))
	}

	return &models.ToolOutput{
		Value: fmt.Sprintf("Files in gs://%s:\n%s", c.bucket, strings.Join(lines, "\n")),
	}, nil
}

// Delete removes an object from the artifact bucket.
func (c *GCSClient) Delete(ctx context.Context, filePath string) (*models.ToolOutput, error) {
	path := fmt.Sprintf("/storage/v1/b/%s/o/%s", url.PathEscape(c.bucket), url.PathEscape(filePath))

	status, body, err := c.do(ctx, http.MethodDelete, path, nil, "")
	if err != nil {
		return nil, fmt.Errorf("Error deleting from GCS: %v", err)
	}
	if status != http.StatusNoContent && status != http.StatusOK {
		return nil, fmt.Errorf("Error deleting from GCS: %d - %s", status, strings.TrimSpace(string(body)))
	}

	return &models.ToolOutput{
		Value: fmt.Sprintf("Successfully deleted %s from GCS.", filePath),
	}, nil
}

// ── Catalog entries ──────────────────────────────────────────────────────

// Tools returns the Cloud Storage portion of the agent's tool catalog.
func (c *GCSClient) Tools() []registry.Tool {
	return []registry.Tool{
		{
			Name:        "upload_to_gcs",
			Description: "Upload a file to Google Cloud Storage.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"file_name":        map[string]any{"type": "string", "description": "Name of the file"},
					"file_content":     map[string]any{"type": "string", "description": "Content of the file as string"},
					"destination_path": map[string]any{"type": "string", "description": "Destination path in the bucket (folder/filename)"},
				},
				"required":             []any{"file_name", "file_content", "destination_path"},
				"additionalProperties": false,
			},
			Handler: func(ctx context.Context, args map[string]any) (*models.ToolOutput, error) {
				return c.Upload(ctx,
					argString(args, "file_name"),
					argString(args, "file_content"),
					argString(args, "destination_path"))
			},
		},
		{
			Name:        "download_from_gcs",
			Description: "Download a file from Google Cloud Storage.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"source_path": map[string]any{"type": "string", "description": "Source path in the bucket (folder/filename)"},
				},
				"required":             []any{"source_path"},
				"additionalProperties": false,
			},
			Handler: func(ctx context.Context, args map[string]any) (*models.ToolOutput, error) {
				return c.Download(ctx, argString(args, "source_path"))
			},
		},
		{
			Name:        "list_gcs_files",
			Description: "List files in Google Cloud Storage bucket.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"prefix":      map[string]any{"type": "string", "description": "Filter files by prefix (folder path)"},
					"max_results": map[string]any{"type": "integer", "description": "Maximum number of results to return"},
				},
				"additionalProperties": false,
			},
			Handler: func(ctx context.Context, args map[string]any) (*models.ToolOutput, error) {
				return c.ListFiles(ctx, argString(args, "prefix"), argInt(args, "max_results", gcsListLimit))
			},
		},
		{
			Name:        "delete_from_gcs",
			Description: "Delete a file from Google Cloud Storage.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"file_path": map[string]any{"type": "string", "description": "Path to the file in the bucket"},
				},
				"required":             []any{"file_path"},
				"additionalProperties": false,
			},
			Handler: func(ctx context.Context, args map[string]any) (*models.ToolOutput, error) {
				return c.Delete(ctx, argString(args, "file_path"))
			},
		},
	}
}
