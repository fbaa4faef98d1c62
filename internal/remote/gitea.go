package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reposyncd/internal/config"
)

// listPageSize is the page size used when enumerating repositories.
const listPageSize = 50

// giteaClient implements Client against the Gitea-compatible REST API
// (Gitea, Forgejo, Gogs with the v1 API).
type giteaClient struct {
	baseURL string
	token   config.Secret
	http    *http.Client
	logger  *zap.Logger
}

// NewGiteaClient creates a Client for a Gitea-compatible host.
func NewGiteaClient(cfg config.RemoteConfig, logger *zap.Logger) Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &giteaClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http: &http.Client{
			Timeout: cfg.RequestTimeout.Duration(),
		},
		logger: logger.Named("remote"),
	}
}

// repoPayload is the wire representation of a repository.
type repoPayload struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	Private       bool   `json:"private"`
	CloneURL      string `json:"clone_url"`
	HTMLURL       string `json:"html_url"`
	DefaultBranch string `json:"default_branch"`
	Owner         struct {
		Login string `json:"login"`
	} `json:"owner"`
}

func (p *repoPayload) toRepository() *Repository {
	return &Repository{
		ID:            p.ID,
		Name:          p.Name,
		Owner:         p.Owner.Login,
		Description:   p.Description,
		Private:       p.Private,
		CloneURL:      p.CloneURL,
		HTMLURL:       p.HTMLURL,
		DefaultBranch: p.DefaultBranch,
	}
}

// errorPayload is the host's error response body.
type errorPayload struct {
	Message string `json:"message"`
}

func (c *giteaClient) Ping(ctx context.Context) error {
	return c.do(ctx, "ping", http.MethodGet, "/api/v1/version", nil, nil)
}

func (c *giteaClient) GetRepository(ctx context.Context, owner, name string) (*Repository, error) {
	var payload repoPayload
	path := fmt.Sprintf("/api/v1/repos/%s/%s", url.PathEscape(owner), url.PathEscape(name))
	if err := c.do(ctx, "get repository", http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	return payload.toRepository(), nil
}

func (c *giteaClient) CreateRepository(ctx context.Context, owner string, opts CreateOptions) (*Repository, error) {
	body := map[string]any{
		"name":        opts.Name,
		"description": opts.Description,
		"private":     opts.Private,
		"auto_init":   opts.AutoInit,
	}
	if opts.DefaultBranch != "" {
		body["default_branch"] = opts.DefaultBranch
	}

	var payload repoPayload
	path := fmt.Sprintf("/api/v1/admin/users/%s/repos", url.PathEscape(owner))
	if err := c.do(ctx, "create repository", http.MethodPost, path, body, &payload); err != nil {
		return nil, err
	}

	c.logger.Info("created remote repository",
		zap.String("owner", owner),
		zap.String("name", opts.Name),
		zap.Int64("id", payload.ID),
	)
	return payload.toRepository(), nil
}

func (c *giteaClient) DeleteRepository(ctx context.Context, owner, name string) error {
	path := fmt.Sprintf("/api/v1/repos/%s/%s", url.PathEscape(owner), url.PathEscape(name))
	if err := c.do(ctx, "delete repository", http.MethodDelete, path, nil, nil); err != nil {
		return err
	}

	c.logger.Info("deleted remote repository",
		zap.String("owner", owner),
		zap.String("name", name),
	)
	return nil
}

func (c *giteaClient) ListRepositories(ctx context.Context, owner string) ([]*Repository, error) {
	var repos []*Repository

	for page := 1; ; page++ {
		var payloads []repoPayload
		path := fmt.Sprintf("/api/v1/users/%s/repos?page=%d&limit=%d", url.PathEscape(owner), page, listPageSize)
		if err := c.do(ctx, "list repositories", http.MethodGet, path, nil, &payloads); err != nil {
			return nil, err
		}

		for i := range payloads {
			repos = append(repos, payloads[i].toRepository())
		}
		if len(payloads) < listPageSize {
			return repos, nil
		}
	}
}

func (c *giteaClient) UpdateVisibility(ctx context.Context, owner, name string, private bool) error {
	body := map[string]any{"private": private}
	path := fmt.Sprintf("/api/v1/repos/%s/%s", url.PathEscape(owner), url.PathEscape(name))
	if err := c.do(ctx, "update visibility", http.MethodPatch, path, body, nil); err != nil {
		return err
	}

	c.logger.Info("updated remote visibility",
		zap.String("owner", owner),
		zap.String("name", name),
		zap.Bool("private", private),
	)
	return nil
}

func (c *giteaClient) EnsureUser(ctx context.Context, owner string) error {
	path := fmt.Sprintf("/api/v1/users/%s", url.PathEscape(owner))
	err := c.do(ctx, "get user", http.MethodGet, path, nil, nil)
	if err == nil {
		return nil
	}
	if !IsNotFound(err) {
		return err
	}

	// The account is host-internal; logins happen through the platform,
	// so the password is a throwaway the user never sees.
	body := map[string]any{
		"username":             owner,
		"email":                fmt.Sprintf("%s@users.noreply.local", owner),
		"password":             uuid.NewString(),
		"must_change_password": false,
	}
	if err := c.do(ctx, "create user", http.MethodPost, "/api/v1/admin/users", body, nil); err != nil {
		return err
	}

	c.logger.Info("provisioned remote user", zap.String("owner", owner))
	return nil
}

// do issues one request and classifies any failure into an *APIError.
// This is the only place response status codes are interpreted.
func (c *giteaClient) do(ctx context.Context, op, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &APIError{Kind: KindRemote, Op: op, Message: fmt.Sprintf("encode request: %v", err), err: err}
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return &APIError{Kind: KindRemote, Op: op, Message: fmt.Sprintf("build request: %v", err), err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token.IsSet() {
		req.Header.Set("Authorization", "token "+c.token.Value())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &APIError{Kind: KindConnectivity, Op: op, Message: err.Error(), err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return &APIError{Kind: KindRemote, Op: op, StatusCode: resp.StatusCode,
					Message: fmt.Sprintf("decode response: %v", err), err: err}
			}
		}
		return nil
	}

	message := fmt.Sprintf("unexpected status %d", resp.StatusCode)
	var errPayload errorPayload
	if decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&errPayload); decodeErr == nil && errPayload.Message != "" {
		message = errPayload.Message
	}

	kind := KindRemote
	switch resp.StatusCode {
	case http.StatusNotFound:
		kind = KindNotFound
	case http.StatusConflict, http.StatusUnprocessableEntity:
		kind = KindConflict
	}

	return &APIError{Kind: kind, Op: op, StatusCode: resp.StatusCode, Message: message}
}
