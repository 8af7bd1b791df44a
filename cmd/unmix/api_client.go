package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"unmix/internal/api"
	"unmix/internal/config"
)

var errJobAPIUnavailable = errors.New("job API unavailable; check that the daemon is running and paths.api_bind is set")

// jobAPIClient talks to the daemon's HTTP job API. Submission and per-job
// status go over HTTP so the CLI sees exactly what remote clients see.
type jobAPIClient struct {
	base  *url.URL
	token string
	http  *http.Client
}

func newJobAPIClient(cfg *config.Config) (*jobAPIClient, error) {
	if cfg == nil {
		return nil, errJobAPIUnavailable
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, errJobAPIUnavailable
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, fmt.Errorf("parse api_bind: %w", err)
	}
	if strings.HasPrefix(base.Host, ":") {
		base.Host = "127.0.0.1" + base.Host
	}
	if host, port, splitErr := net.SplitHostPort(base.Host); splitErr == nil && (host == "0.0.0.0" || host == "::") {
		base.Host = net.JoinHostPort("127.0.0.1", port)
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""
	return &jobAPIClient{
		base:  base,
		token: strings.TrimSpace(cfg.Paths.APIToken),
		http:  &http.Client{},
	}, nil
}

func (c *jobAPIClient) Run(ctx context.Context, req api.RunRequest) (api.JobStatus, error) {
	return c.submit(ctx, "/run", req, 30*time.Second)
}

func (c *jobAPIClient) RunSync(ctx context.Context, req api.RunRequest, wait time.Duration) (api.JobStatus, error) {
	if wait <= 0 {
		wait = 90 * time.Second
	}
	return c.submit(ctx, "/runsync", req, wait+30*time.Second)
}

func (c *jobAPIClient) submit(ctx context.Context, path string, req api.RunRequest, timeout time.Duration) (api.JobStatus, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return api.JobStatus{}, fmt.Errorf("encode request: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(body))
}

func (c *jobAPIClient) Status(ctx context.Context, uuid string) (api.JobStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return c.do(ctx, http.MethodGet, "/status/"+url.PathEscape(uuid), nil)
}

func (c *jobAPIClient) Cancel(ctx context.Context, uuid string) (api.JobStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return c.do(ctx, http.MethodPost, "/cancel/"+url.PathEscape(uuid), nil)
}

type healthPayload struct {
	Status       string                 `json:"status"`
	Queue        map[string]int         `json:"queue"`
	Stages       []api.StageHealth      `json:"stages"`
	Dependencies []api.DependencyStatus `json:"dependencies"`
}

func (c *jobAPIClient) Health(ctx context.Context) (healthPayload, int, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	endpoint := c.base.ResolveReference(&url.URL{Path: "/health"})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return healthPayload{}, 0, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return healthPayload{}, 0, wrapJobAPIError(err)
	}
	defer resp.Body.Close()

	var payload healthPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return healthPayload{}, resp.StatusCode, fmt.Errorf("decode health response: %w", err)
	}
	return payload, resp.StatusCode, nil
}

func (c *jobAPIClient) do(ctx context.Context, method, path string, body io.Reader) (api.JobStatus, error) {
	endpoint := c.base.ResolveReference(&url.URL{Path: path})
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return api.JobStatus{}, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return api.JobStatus{}, wrapJobAPIError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return api.JobStatus{}, fmt.Errorf("job API: %s", apiErr.Error)
		}
		return api.JobStatus{}, fmt.Errorf("job API returned status %d", resp.StatusCode)
	}

	var status api.JobStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return api.JobStatus{}, fmt.Errorf("decode response: %w", err)
	}
	return status, nil
}

func wrapJobAPIError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		var opErr *net.OpError
		if errors.As(urlErr.Err, &opErr) {
			return errJobAPIUnavailable
		}
	}
	return err
}
