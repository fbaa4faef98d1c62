package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/reposyncd/internal/config"
)

func newTestClient(t *testing.T, handler http.Handler) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewGiteaClient(config.RemoteConfig{
		BaseURL:        srv.URL,
		Token:          "test-token",
		RequestTimeout: config.Duration(5 * time.Second),
		DefaultBranch:  "main",
	}, nil)
}

func repoJSON(id int64, owner, name string, private bool) map[string]any {
	return map[string]any{
		"id":             id,
		"name":           name,
		"description":    "a project",
		"private":        private,
		"clone_url":      fmt.Sprintf("https://git.example.org/%s/%s.git", owner, name),
		"html_url":       fmt.Sprintf("https://git.example.org/%s/%s", owner, name),
		"default_branch": "main",
		"owner":          map[string]any{"login": owner},
	}
}

func TestGetRepository(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token test-token", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/api/v1/repos/alice/thesis":
			json.NewEncoder(w).Encode(repoJSON(7, "alice", "thesis", true))
		default:
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"message": "user does not exist"})
		}
	}))

	repo, err := client.GetRepository(context.Background(), "alice", "thesis")
	require.NoError(t, err)
	assert.Equal(t, int64(7), repo.ID)
	assert.Equal(t, "alice", repo.Owner)
	assert.Equal(t, "thesis", repo.Name)
	assert.True(t, repo.Private)
	assert.Equal(t, "https://git.example.org/alice/thesis.git", repo.CloneURL)

	_, err = client.GetRepository(context.Background(), "alice", "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsConflict(err))
}

func TestCreateRepositoryConflict(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/admin/users/alice/repos", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["name"] == "taken" {
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]string{"message": "repository already exists"})
			return
		}
		assert.Equal(t, true, body["auto_init"])
		assert.Equal(t, "main", body["default_branch"])
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(repoJSON(11, "alice", body["name"].(string), body["private"].(bool)))
	}))

	repo, err := client.CreateRepository(context.Background(), "alice", CreateOptions{
		Name: "fresh", Private: true, AutoInit: true, DefaultBranch: "main",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(11), repo.ID)

	_, err = client.CreateRepository(context.Background(), "alice", CreateOptions{Name: "taken"})
	require.Error(t, err)
	assert.True(t, IsConflict(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, KindConflict, apiErr.Kind)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "already exists")
}

func TestDeleteRepositoryNotFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		if r.URL.Path == "/api/v1/repos/alice/gone" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	require.NoError(t, client.DeleteRepository(context.Background(), "alice", "thesis"))

	err := client.DeleteRepository(context.Background(), "alice", "gone")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestListRepositoriesPaginates(t *testing.T) {
	// Two full pages plus a short one.
	total := listPageSize*2 + 3
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/users/alice/repos", r.URL.Path)
		page := r.URL.Query().Get("page")

		start := 0
		switch page {
		case "1":
		case "2":
			start = listPageSize
		case "3":
			start = listPageSize * 2
		default:
			t.Fatalf("unexpected page %q", page)
		}

		var repos []map[string]any
		for i := start; i < start+listPageSize && i < total; i++ {
			repos = append(repos, repoJSON(int64(i+1), "alice", fmt.Sprintf("repo-%03d", i), false))
		}
		json.NewEncoder(w).Encode(repos)
	}))

	repos, err := client.ListRepositories(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, repos, total)
	assert.Equal(t, "repo-000", repos[0].Name)
	assert.Equal(t, fmt.Sprintf("repo-%03d", total-1), repos[total-1].Name)
}

func TestUpdateVisibility(t *testing.T) {
	var patched []bool
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		patched = append(patched, body["private"].(bool))
		json.NewEncoder(w).Encode(repoJSON(7, "alice", "thesis", body["private"].(bool)))
	}))

	require.NoError(t, client.UpdateVisibility(context.Background(), "alice", "thesis", true))
	require.NoError(t, client.UpdateVisibility(context.Background(), "alice", "thesis", false))
	assert.Equal(t, []bool{true, false}, patched)
}

func TestEnsureUser(t *testing.T) {
	var created int
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/users/existing":
			json.NewEncoder(w).Encode(map[string]any{"login": "existing"})
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/users/newcomer":
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/admin/users":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "newcomer", body["username"])
			assert.Equal(t, false, body["must_change_password"])
			created++
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{"login": "newcomer"})
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))

	require.NoError(t, client.EnsureUser(context.Background(), "existing"))
	assert.Equal(t, 0, created)

	require.NoError(t, client.EnsureUser(context.Background(), "newcomer"))
	assert.Equal(t, 1, created)
}

func TestConnectivityClassification(t *testing.T) {
	// Point at a server that is already closed.
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client := NewGiteaClient(config.RemoteConfig{
		BaseURL:        srv.URL,
		RequestTimeout: config.Duration(2 * time.Second),
	}, nil)

	err := client.Ping(context.Background())
	require.Error(t, err)
	assert.True(t, IsConnectivity(err))

	_, err = client.GetRepository(context.Background(), "alice", "thesis")
	require.Error(t, err)
	assert.True(t, IsConnectivity(err))
}
