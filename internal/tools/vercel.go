package tools

import (
	"bytes"
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
	defaultVercelEndpoint = "https://api.vercel.com"

	// deploymentListLimit is the default page size for deployment
	// listings.
	deploymentListLimit = 5
)

// VercelConfig configures the Vercel tool client.
type VercelConfig struct {
	Token   string
	TeamID  string
	BaseURL string // override for tests
	Timeout time.Duration
}

// VercelClient talks to the Vercel REST API on behalf of the agent.
type VercelClient struct {
	token   string
	teamID  string
	baseURL string
	hc      *http.Client
}

// NewVercelClient builds a client. Zero config fields fall back to the
// public API endpoint and a 60s request timeout, which covers the
// slower deployment creation calls.
func NewVercelClient(cfg VercelConfig) *VercelClient {
	base := cfg.BaseURL
	if base == "" {
		base = defaultVercelEndpoint
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &VercelClient{
		token:   cfg.Token,
		teamID:  cfg.TeamID,
		baseURL: strings.TrimRight(base, "/"),
		hc:      &http.Client{Timeout: timeout},
	}
}

func (c *VercelClient) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
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
	req.Header.Set("Content-Type", "application/json")
	if c.teamID != "" {
		req.Header.Set("X-Vercel-Team-Id", c.teamID)
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

// CreateProject creates a new Vercel project.
func (c *VercelClient) CreateProject(ctx context.Context, name, framework string) (*models.ToolOutput, error) {
	payload := map[string]any{
		"name":      name,
		"framework": framework,
	}

	status, body, err := c.do(ctx, http.MethodPost, "/v10/projects", payload)
	if err != nil {
		return nil, fmt.Errorf("Error creating Vercel project: %v", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("Error creating project: %d - %s", status, strings.TrimSpace(string(body)))
	}

	var project struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &project); err != nil {
		return nil, fmt.Errorf("Error creating Vercel project: %v", err)
	}

	return &models.ToolOutput{
		Value: fmt.Sprintf("Successfully created Vercel project: %s. ID: %s", name, project.ID),
	}, nil
}

// Deploy triggers a deployment of a GitHub repository.
func (c *VercelClient) Deploy(ctx context.Context, project, gitRepoURL, branch string) (*models.ToolOutput, error) {
	payload := map[string]any{
		"name": project,
		"gitSource": map[string]any{
			"type": "github",
			"repo": gitRepoURL,
			"ref":  branch,
		},
	}

	status, body, err := c.do(ctx, http.MethodPost, "/v13/deployments", payload)
	if err != nil {
		return nil, fmt.Errorf("Error deploying to Vercel: %v", err)
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, fmt.Errorf("Error deploying: %d - %s", status, strings.TrimSpace(string(body)))
	}

	var deployment struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &deployment); err != nil {
		return nil, fmt.Errorf("Error deploying to Vercel: %v", err)
	}

	deploymentURL := "https://" + deployment.URL
	return &models.ToolOutput{
		Value:        fmt.Sprintf("Successfully deployed to Vercel. URL: %s", deploymentURL),
		ArtifactRefs: []string{deploymentURL},
	}, nil
}

// ListDeployments lists recent deployments for a project.
func (c *VercelClient) ListDeployments(ctx context.Context, project string, limit int) (*models.ToolOutput, error) {
	if limit <= 0 {
		limit = deploymentListLimit
	}
	path := fmt.Sprintf("/v6/deployments?projectId=%s&limit=%d", url.QueryEscape(project), limit)

	status, body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("Error listing Vercel deployments: %v", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("Error listing deployments: %d - %s", status, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Deployments []struct {
			URL     string `json:"url"`
			State   string `json:"state"`
			Created int64  `json:"created"`
		} `json:"deployments"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("Error listing Vercel deployments: %v", err)
	}

	if len(payload.Deployments) == 0 {
		return &models.ToolOutput{Value: "No deployments found."}, nil
	}

	lines := make([]string, 0, len(payload.Deployments))
	for _, d := range payload.Deployments {
		if len(lines) >= limit {
			break
		}
		lines = append(lines, fmt.Sprintf("- %s (State: %s, Created: %d)", d.URL, d.State, d.Created))
	}

	return &models.ToolOutput{
		Value: "Recent deployments:\n" + strings.Join(lines, "\n"),
	}, nil
}

// ProjectInfo fetches project metadata.
func (c *VercelClient) ProjectInfo(ctx context.Context, project string) (*models.ToolOutput, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/v9/projects/"+url.PathEscape(project), nil)
	if err != nil {
		return nil, fmt.Errorf("Error getting Vercel project info: %v", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("Error getting project info: %d - %s", status, strings.TrimSpace(string(body)))
	}

	var info struct {
		Name      string `json:"name"`
		ID        string `json:"id"`
		Framework string `json:"framework"`
		Targets   struct {
			Production struct {
				URL string `json:"url"`
			} `json:"production"`
		} `json:"targets"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("Error getting Vercel project info: %v", err)
	}

	return &models.ToolOutput{
		Value: fmt.Sprintf("Project: %s\nID: %s\nFramework: %s\nProduction URL: %s",
			info.Name, info.ID, info.Framework, info.Targets.Production.URL),
	}, nil
}

// ── Catalog entries ──────────────────────────────────────────────────────

// Tools returns the Vercel portion of the agent's tool catalog.
func (c *VercelClient) Tools() []registry.Tool {
	return []registry.Tool{
		{
			Name:        "create_vercel_project",
			Description: "Create a new Vercel project.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"project_name": map[string]any{"type": "string", "description": "Name of the project to create"},
					"framework":    map[string]any{"type": "string", "description": "Framework type (nextjs, vite, other, etc.)"},
				},
				"required":             []any{"project_name"},
				"additionalProperties": false,
			},
			Handler: func(ctx context.Context, args map[string]any) (*models.ToolOutput, error) {
				return c.CreateProject(ctx, argString(args, "project_name"), argStringDefault(args, "framework", "other"))
			},
		},
		{
			Name:        "deploy_to_vercel",
			Description: "Deploy a GitHub repository to Vercel.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"project_name": map[string]any{"type": "string", "description": "Vercel project name"},
					"git_repo_url": map[string]any{"type": "string", "description": "GitHub repository URL"},
					"branch":       map[string]any{"type": "string", "description": "Git branch to deploy (default: main)"},
				},
				"required":             []any{"project_name", "git_repo_url"},
				"additionalProperties": false,
			},
			Handler: func(ctx context.Context, args map[string]any) (*models.ToolOutput, error) {
				return c.Deploy(ctx,
					argString(args, "project_name"),
					argString(args, "git_repo_url"),
					argStringDefault(args, "branch", "main"))
			},
		},
		{
			Name:        "list_vercel_deployments",
			Description: "List recent deployments for a Vercel project.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"project_name": map[string]any{"type": "string", "description": "Vercel project name"},
					"limit":        map[string]any{"type": "integer", "description": "Number of deployments to return (default: 5)"},
				},
				"required":             []any{"project_name"},
				"additionalProperties": false,
			},
			Handler: func(ctx context.Context, args map[string]any) (*models.ToolOutput, error) {
				return c.ListDeployments(ctx, argString(args, "project_name"), argInt(args, "limit", deploymentListLimit))
			},
		},
		{
			Name:        "get_vercel_project_info",
			Description: "Get information about a Vercel project.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"project_name": map[string]any{"type": "string", "description": "Vercel project name or ID"},
				},
				"required":             []any{"project_name"},
				"additionalProperties": false,
			},
			Handler: func(ctx context.Context, args map[string]any) (*models.ToolOutput, error) {
				return c.ProjectInfo(ctx, argString(args, "project_name"))
			},
		},
	}
}
