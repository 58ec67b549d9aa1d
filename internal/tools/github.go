package tools

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/opsforge/opsforge/agent-plane/internal/registry"
	"github.com/opsforge/opsforge/agent-plane/pkg/models"
)

const (
	defaultGitHubEndpoint = "https://api.github.com"

	// repoListLimit caps repository listings so the transcript stays
	// readable.
	repoListLimit = 10
)

// GitHubConfig configures the GitHub tool client.
type GitHubConfig struct {
	Token      string
	DefaultOrg string
	BaseURL    string // override for tests
	Timeout    time.Duration
}

// GitHubClient talks to the GitHub REST API on behalf of the agent.
type GitHubClient struct {
	token      string
	defaultOrg string
	baseURL    string
	hc         *http.Client
}

// NewGitHubClient builds a client. Zero config fields fall back to the
// public API endpoint and a 30s request timeout.
func NewGitHubClient(cfg GitHubConfig) *GitHubClient {
	base := cfg.BaseURL
	if base == "" {
		base = defaultGitHubEndpoint
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &GitHubClient{
		token:      cfg.Token,
		defaultOrg: cfg.DefaultOrg,
		baseURL:    strings.TrimRight(base, "/"),
		hc:         &http.Client{Timeout: timeout},
	}
}

func (c *GitHubClient) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		b, _ := json.Marshal(payload)
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
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

// CreateRepo creates a repository for the authenticated user.
func (c *GitHubClient) CreateRepo(ctx context.Context, name, description string, private bool) (*models.ToolOutput, error) {
	payload := map[string]any{
		"name":        name,
		"description": description,
		"private":     private,
		"auto_init":   true,
	}

	status, body, err := c.do(ctx, http.MethodPost, "/user/repos", payload)
	if err != nil {
		return nil, fmt.Errorf("Error creating repository: %v", err)
	}
	if status != http.StatusCreated {
		return nil, fmt.Errorf("Error creating repository: %d - %s", status, strings.TrimSpace(string(body)))
	}

	var repo struct {
		HTMLURL string `json:"html_url"`
	}
	if err := json.Unmarshal(body, &repo); err != nil {
		return nil, fmt.Errorf("Error creating repository: %v", err)
	}

	return &models.ToolOutput{
		Value:        fmt.Sprintf("Successfully created repository: %s", repo.HTMLURL),
		ArtifactRefs: []string{repo.HTMLURL},
	}, nil
}

// CommitFile creates or updates a single file in a repository. When
// the file already exists on the branch its blob SHA is carried into
// the update so GitHub accepts the write.
func (c *GitHubClient) CommitFile(ctx context.Context, repo, path, content, message, branch string) (*models.ToolOutput, error) {
	contentsPath := fmt.Sprintf("/repos/%s/contents/%s", repo, path)

	payload := map[string]any{
		"message": message,
		"content": base64.StdEncoding.EncodeToString([]byte(content)),
		"branch":  branch,
	}

	verb := "created"
	status, body, err := c.do(ctx, http.MethodGet, contentsPath+"?ref="+branch, nil)
	if err != nil {
		return nil, fmt.Errorf("Error committing file: %v", err)
	}
	if status == http.StatusOK {
		var existing struct {
			SHA string `json:"sha"`
		}
		if err := json.Unmarshal(body, &existing); err == nil && existing.SHA != "" {
			payload["sha"] = existing.SHA
			verb = "updated"
		}
	}

	status, body, err = c.do(ctx, http.MethodPut, contentsPath, payload)
	if err != nil {
		return nil, fmt.Errorf("Error committing file: %v", err)
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, fmt.Errorf("Error committing file: %d - %s", status, strings.TrimSpace(string(body)))
	}

	var result struct {
		Commit struct {
			SHA string `json:"sha"`
		} `json:"commit"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("Error committing file: %v", err)
	}

	return &models.ToolOutput{
		Value: fmt.Sprintf("Successfully %s file: %s. Commit SHA: %s", verb, path, result.Commit.SHA),
	}, nil
}

// CreatePullRequest opens a pull request.
func (c *GitHubClient) CreatePullRequest(ctx context.Context, repo, title, body, head, base string) (*models.ToolOutput, error) {
	payload := map[string]any{
		"title": title,
		"body":  body,
		"head":  head,
		"base":  base,
	}

	status, respBody, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/pulls", repo), payload)
	if err != nil {
		return nil, fmt.Errorf("Error creating pull request: %v", err)
	}
	if status != http.StatusCreated {
		return nil, fmt.Errorf("Error creating pull request: %d - %s", status, strings.TrimSpace(string(respBody)))
	}

	var pr struct {
		HTMLURL string `json:"html_url"`
	}
	if err := json.Unmarshal(respBody, &pr); err != nil {
		return nil, fmt.Errorf("Error creating pull request: %v", err)
	}

	return &models.ToolOutput{
		Value:        fmt.Sprintf("Successfully created pull request: %s", pr.HTMLURL),
		ArtifactRefs: []string{pr.HTMLURL},
	}, nil
}

// ListRepos lists repositories for an organization, falling back to
// the configured default org and then the authenticated user.
func (c *GitHubClient) ListRepos(ctx context.Context, org string) (*models.ToolOutput, error) {
	if org == "" {
		org = c.defaultOrg
	}
	path := fmt.Sprintf("/user/repos?per_page=%d", repoListLimit)
	if org != "" {
		path = fmt.Sprintf("/orgs/%s/repos?per_page=%d", org, repoListLimit)
	}

	status, body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("Error listing repositories: %v", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("Error listing repositories: %d - %s", status, strings.TrimSpace(string(body)))
	}

	var repos []struct {
		FullName    string `json:"full_name"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(body, &repos); err != nil {
		return nil, fmt.Errorf("Error listing repositories: %v", err)
	}

	lines := make([]string, 0, len(repos))
	for _, r := range repos {
		if len(lines) >= repoListLimit {
			break
		}
		desc := r.Description
		if desc == "" {
			desc = "No description"
		}
		lines = append(lines, fmt.Sprintf("%s - %s", r.FullName, desc))
	}

	return &models.ToolOutput{
		Value: "Repositories:\n" + strings.Join(lines, "\n"),
	}, nil
}

// ── Catalog entries ──────────────────────────────────────────────────────

// Tools returns the GitHub portion of the agent's tool catalog.
func (c *GitHubClient) Tools() []registry.Tool {
	return []registry.Tool{
		{
			Name:        "create_github_repo",
			Description: "Create a new GitHub repository.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"repo_name":   map[string]any{"type": "string", "description": "Name of the repository to create"},
					"description": map[string]any{"type": "string", "description": "Repository description"},
					"private":     map[string]any{"type": "boolean", "description": "Whether the repository should be private"},
				},
				"required":             []any{"repo_name"},
				"additionalProperties": false,
			},
			Handler: func(ctx context.Context, args map[string]any) (*models.ToolOutput, error) {
				return c.CreateRepo(ctx, argString(args, "repo_name"), argString(args, "description"), argBool(args, "private"))
			},
		},
		{
			Name:        "commit_file_to_github",
			Description: "Commit a file to a GitHub repository.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"repo_name":      map[string]any{"type": "string", "description": "Repository name (format: owner/repo)"},
					"file_path":      map[string]any{"type": "string", "description": "Path where the file should be stored in the repo"},
					"file_content":   map[string]any{"type": "string", "description": "Content of the file"},
					"commit_message": map[string]any{"type": "string", "description": "Commit message"},
					"branch":         map[string]any{"type": "string", "description": "Branch name (default: main)"},
				},
				"required":             []any{"repo_name", "file_path", "file_content", "commit_message"},
				"additionalProperties": false,
			},
			Handler: func(ctx context.Context, args map[string]any) (*models.ToolOutput, error) {
				return c.CommitFile(ctx,
					argString(args, "repo_name"),
					argString(args, "file_path"),
					argString(args, "file_content"),
					argString(args, "commit_message"),
					argStringDefault(args, "branch", "main"))
			},
		},
		{
			Name:        "create_pull_request",
			Description: "Create a pull request in a GitHub repository.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"repo_name":   map[string]any{"type": "string", "description": "Repository name (format: owner/repo)"},
					"title":       map[string]any{"type": "string", "description": "Pull request title"},
					"body":        map[string]any{"type": "string", "description": "Pull request description"},
					"head_branch": map[string]any{"type": "string", "description": "Source branch"},
					"base_branch": map[string]any{"type": "string", "description": "Target branch (default: main)"},
				},
				"required":             []any{"repo_name", "title", "body", "head_branch"},
				"additionalProperties": false,
			},
			Handler: func(ctx context.Context, args map[string]any) (*models.ToolOutput, error) {
				return c.CreatePullRequest(ctx,
					argString(args, "repo_name"),
					argString(args, "title"),
					argString(args, "body"),
					argString(args, "head_branch"),
					argStringDefault(args, "base_branch", "main"))
			},
		},
		{
			Name:        "list_github_repos",
			Description: "List GitHub repositories for a user or organization.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"org_name": map[string]any{"type": "string", "description": "Organization name (optional, defaults to authenticated user)"},
				},
				"additionalProperties": false,
			},
			Handler: func(ctx context.Context, args map[string]any) (*models.ToolOutput, error) {
				return c.ListRepos(ctx, argString(args, "org_name"))
			},
		},
	}
}
