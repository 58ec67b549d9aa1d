package tools_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/opsforge/opsforge/agent-plane/internal/tools"
)

func vercelClient(srv *httptest.Server) *tools.VercelClient {
	return tools.NewVercelClient(tools.VercelConfig{Token: "vc-token", BaseURL: srv.URL})
}

func TestCreateProject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v10/projects" {
			t.Errorf("request = %s %s, want POST /v10/projects", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer vc-token" {
			t.Errorf("Authorization = %q, want the bearer token", got)
		}
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		if payload["name"] != "landing" || payload["framework"] != "nextjs" {
			t.Errorf("payload = %v", payload)
		}
		json.NewEncoder(w).Encode(map[string]any{"id": "prj_123"})
	}))
	defer srv.Close()

	out, err := vercelClient(srv).CreateProject(context.Background(), "landing", "nextjs")
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	if out.Value != "Successfully created Vercel project: landing. ID: prj_123" {
		t.Errorf("Value = %q", out.Value)
	}
}

func TestCreateProject_SendsTeamHeader(t *testing.T) {
	var gotTeam string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTeam = r.Header.Get("X-Vercel-Team-Id")
		json.NewEncoder(w).Encode(map[string]any{"id": "prj_123"})
	}))
	defer srv.Close()

	c := tools.NewVercelClient(tools.VercelConfig{Token: "vc-token", TeamID: "team_acme", BaseURL: srv.URL})
	if _, err := c.CreateProject(context.Background(), "landing", "other"); err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	if gotTeam != "team_acme" {
		t.Errorf("X-Vercel-Team-Id = %q, want team_acme", gotTeam)
	}
}

func TestDeploy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v13/deployments" {
			t.Errorf("path = %s, want /v13/deployments", r.URL.Path)
		}
		var payload struct {
			Name      string `json:"name"`
			GitSource struct {
				Type string `json:"type"`
				Repo string `json:"repo"`
				Ref  string `json:"ref"`
			} `json:"gitSource"`
		}
		json.NewDecoder(r.Body).Decode(&payload)
		if payload.GitSource.Type != "github" || payload.GitSource.Ref != "main" {
			t.Errorf("gitSource = %+v", payload.GitSource)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"url": "landing-abc.vercel.app"})
	}))
	defer srv.Close()

	out, err := vercelClient(srv).Deploy(context.Background(), "landing", "acme/landing", "main")
	if err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}
	if out.Value != "Successfully deployed to Vercel. URL: https://landing-abc.vercel.app" {
		t.Errorf("Value = %q", out.Value)
	}
	if len(out.ArtifactRefs) != 1 || out.ArtifactRefs[0] != "https://landing-abc.vercel.app" {
		t.Errorf("ArtifactRefs = %v, want the deployment URL", out.ArtifactRefs)
	}
}

func TestDeploy_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error": {"message": "not authorized"}}`)
	}))
	defer srv.Close()

	_, err := vercelClient(srv).Deploy(context.Background(), "landing", "acme/landing", "main")
	if err == nil {
		t.Fatal("Deploy() should surface the API error")
	}
	if !strings.Contains(err.Error(), "Error deploying: 403") {
		t.Errorf("error = %q, want the status code named", err)
	}
}

func TestListDeployments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("projectId") != "landing" || q.Get("limit") != "2" {
			t.Errorf("query = %v", q)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"deployments": []map[string]any{
				{"url": "landing-abc.vercel.app", "state": "READY", "created": 1712000000000},
				{"url": "landing-def.vercel.app", "state": "ERROR", "created": 1711000000000},
			},
		})
	}))
	defer srv.Close()

	out, err := vercelClient(srv).ListDeployments(context.Background(), "landing", 2)
	if err != nil {
		t.Fatalf("ListDeployments() error = %v", err)
	}
	want := "Recent deployments:\n" +
		"- landing-abc.vercel.app (State: READY, Created: 1712000000000)\n" +
		"- landing-def.vercel.app (State: ERROR, Created: 1711000000000)"
	if out.Value != want {
		t.Errorf("Value = %q, want %q", out.Value, want)
	}
}

func TestListDeployments_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"deployments": []map[string]any{}})
	}))
	defer srv.Close()

	out, err := vercelClient(srv).ListDeployments(context.Background(), "landing", 0)
	if err != nil {
		t.Fatalf("ListDeployments() error = %v", err)
	}
	if out.Value != "No deployments found." {
		t.Errorf("Value = %q", out.Value)
	}
}

func TestProjectInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v9/projects/landing" {
			t.Errorf("path = %s, want /v9/projects/landing", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"name":      "landing",
			"id":        "prj_123",
			"framework": "nextjs",
			"targets": map[string]any{
				"production": map[string]any{"url": "landing.vercel.app"},
			},
		})
	}))
	defer srv.Close()

	out, err := vercelClient(srv).ProjectInfo(context.Background(), "landing")
	if err != nil {
		t.Fatalf("ProjectInfo() error = %v", err)
	}
	want := "Project: landing\nID: prj_123\nFramework: nextjs\nProduction URL: landing.vercel.app"
	if out.Value != want {
		t.Errorf("Value = %q, want %q", out.Value, want)
	}
}
