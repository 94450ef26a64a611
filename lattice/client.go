// Copyright (c) Skyfleet Robotics
// SPDX-License-Identifier: MPL-2.0

// Package lattice is the REST client for the C2 platform: entity
// publishing, task status updates, and the listen-as-agent long poll.
package lattice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"

	"github.com/skyfleet/latticebridge/helper"
	"github.com/skyfleet/latticebridge/structs"
)

const (
	// listenTimeout bounds the listen-as-agent long poll. The server
	// holds the request open for up to ~330s before returning empty.
	listenTimeout = 330 * time.Second

	// requestTimeout bounds ordinary publish/status calls.
	requestTimeout = 30 * time.Second

	// defaultPublishInfoInterval rate limits publish-success INFO
	// logs per drone; successes in between log at debug.
	defaultPublishInfoInterval = 300 * time.Second

	// DefaultIntegrationName identifies this process to the C2.
	DefaultIntegrationName = "latticebridge"
)

// ErrListenTimeout marks a long poll that ended without a request.
// Callers treat it as a normal completion and immediately re-poll.
var ErrListenTimeout = errors.New("listen-as-agent poll timed out")

// Config configures the C2 client.
type Config struct {
	// URL is the C2 host, e.g. "lattice.example.com". A scheme is
	// optional; https is assumed.
	URL string

	// EnvironmentToken is the primary bearer credential; required.
	EnvironmentToken string

	// SandboxToken is the additional credential required for sandbox
	// environments.
	SandboxToken string

	// IntegrationName is recorded in entity provenance and the
	// author principal.
	IntegrationName string

	// PublishInfoInterval overrides the publish-success INFO rate
	// limit when non-zero.
	PublishInfoInterval time.Duration

	Logger hclog.Logger
}

// Client talks to the C2 REST API. It is safe for concurrent use; the
// status version counter is atomic and every outbound status update
// consumes one version, process-wide.
type Client struct {
	base            string
	envToken        string
	sandboxToken    string
	integrationName string
	logger          hclog.Logger

	httpClient   *http.Client
	listenClient *http.Client

	statusVersion atomic.Uint64

	publishGate *helper.LogGate
	verified    atomic.Bool
	connected   atomic.Bool
}

// NewClient builds a client; Connect must be called before use.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("lattice url is required")
	}
	base := cfg.URL
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid lattice url %q: %w", cfg.URL, err)
	}

	name := cfg.IntegrationName
	if name == "" {
		name = DefaultIntegrationName
	}
	infoInterval := cfg.PublishInfoInterval
	if infoInterval <= 0 {
		infoInterval = defaultPublishInfoInterval
	}

	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = requestTimeout
	listenClient := cleanhttp.DefaultPooledClient()
	listenClient.Timeout = listenTimeout + 10*time.Second

	c := &Client{
		base:            strings.TrimSuffix(base, "/"),
		envToken:        cfg.EnvironmentToken,
		sandboxToken:    cfg.SandboxToken,
		integrationName: name,
		logger:          cfg.Logger.Named("lattice"),
		httpClient:      httpClient,
		listenClient:    listenClient,
		publishGate:     helper.NewLogGate(infoInterval),
	}
	return c, nil
}

// IntegrationName returns the name used in provenance and author
// principals.
func (c *Client) IntegrationName() string {
	return c.integrationName
}

// Connect validates credentials for the configured endpoint. The REST
// API itself is connectionless.
func (c *Client) Connect() error {
	if c.envToken == "" {
		return structs.Errorf(structs.ErrFatal, "environment token is not set")
	}
	if c.isSandbox() && c.sandboxToken == "" {
		return structs.Errorf(structs.ErrFatal, "sandbox token required for %s", c.base)
	}
	c.connected.Store(true)
	c.logger.Info("connected to lattice", "url", c.base)
	return nil
}

// Disconnect stops the client from issuing further requests.
func (c *Client) Disconnect() {
	if c.connected.Swap(false) {
		c.httpClient.CloseIdleConnections()
		c.listenClient.CloseIdleConnections()
		c.logger.Info("disconnected from lattice")
	}
}

func (c *Client) isSandbox() bool {
	return strings.Contains(c.base, "sandboxes.")
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.envToken)
	if c.sandboxToken != "" {
		req.Header.Set("Anduril-Sandbox-Authorization", "Bearer "+c.sandboxToken)
	}
}

func (c *Client) do(ctx context.Context, client *http.Client, method, path string, body, out any) error {
	if !c.connected.Load() {
		return structs.Errorf(structs.ErrTransient, "not connected to lattice")
	}

	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return structs.NewKindError(structs.ErrInternal, err)
		}
		rdr = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return structs.NewKindError(structs.ErrInternal, err)
	}
	c.setHeaders(req)

	resp, err := client.Do(req)
	if err != nil {
		return structs.NewKindError(structs.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout {
		return ErrListenTimeout
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return structs.Errorf(structs.ErrTransient, "%s %s: unexpected status %d: %s",
			method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			if errors.Is(err, io.EOF) {
				return ErrListenTimeout
			}
			return structs.NewKindError(structs.ErrTransient, err)
		}
	}
	return nil
}

// PublishEntity upserts an entity. The call is idempotent keyed by
// entity id; failures are left to the next publish tick.
func (c *Client) PublishEntity(ctx context.Context, entity *Entity) error {
	if err := c.do(ctx, c.httpClient, http.MethodPut, "/api/v1/entities", entity, nil); err != nil {
		metrics.IncrCounter([]string{"lattice", "publish", "error"}, 1)
		return err
	}
	metrics.IncrCounter([]string{"lattice", "publish", "success"}, 1)

	if c.publishGate.Allow(entity.EntityID) {
		c.logger.Info("published entity", "entity_id", entity.EntityID)
	} else {
		c.logger.Debug("published entity", "entity_id", entity.EntityID)
	}

	// Read the entity back once to confirm the server kept the task
	// catalog; without it the asset is not taskable.
	if c.verified.CompareAndSwap(false, true) {
		if got, err := c.GetEntity(ctx, entity.EntityID); err != nil {
			c.logger.Warn("entity verification failed", "entity_id", entity.EntityID, "error", err)
			c.verified.Store(false)
		} else if got.TaskCatalog == nil || len(got.TaskCatalog.TaskDefinitions) == 0 {
			c.logger.Error("server stored entity without task catalog; asset will not be taskable",
				"entity_id", entity.EntityID)
		} else {
			c.logger.Info("verified entity", "entity_id", got.EntityID,
				"name", got.Aliases.Name, "platform_type", got.Ontology.PlatformType)
		}
	}
	return nil
}

// GetEntity fetches an entity by id.
func (c *Client) GetEntity(ctx context.Context, entityID string) (*Entity, error) {
	var out Entity
	err := c.do(ctx, c.httpClient, http.MethodGet, "/api/v1/entities/"+url.PathEscape(entityID), nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

type statusUpdateRequest struct {
	TaskID        string     `json:"taskId"`
	NewStatus     taskStatus `json:"newStatus"`
	StatusVersion uint64     `json:"statusVersion"`
	Author        *Principal `json:"author,omitempty"`
}

type taskStatus struct {
	Status             string  `json:"status"`
	ProgressPercentage float64 `json:"progressPercentage"`
}

// UpdateTaskStatus reports a task status transition. Each call
// consumes the next process-wide status version so the server observes
// a strictly increasing sequence regardless of which task it is for.
func (c *Client) UpdateTaskStatus(ctx context.Context, taskID, status string, progress float64, authorEntityID string) error {
	version := c.statusVersion.Add(1)

	body := &statusUpdateRequest{
		TaskID:        taskID,
		NewStatus:     taskStatus{Status: status, ProgressPercentage: progress},
		StatusVersion: version,
	}
	if authorEntityID != "" {
		body.Author = &Principal{System: &System{
			EntityID:    authorEntityID,
			ServiceName: c.integrationName,
		}}
	}

	if err := c.do(ctx, c.httpClient, http.MethodPut, "/api/v1/tasks/status", body, nil); err != nil {
		metrics.IncrCounter([]string{"lattice", "task_status", "error"}, 1)
		return err
	}
	metrics.IncrCounter([]string{"lattice", "task_status", "success"}, 1)
	c.logger.Debug("updated task status", "task_id", taskID,
		"status", status, "progress", progress, "status_version", version)
	return nil
}

type listenRequest struct {
	AgentSelector agentSelector `json:"agentSelector"`
}

type agentSelector struct {
	IDs entityIDs `json:"ids"`
}

type entityIDs struct {
	IDs []string `json:"ids"`
}

// ListenAsAgent long polls for the next request addressed to any of
// the given entity ids. A poll that expires without traffic returns
// ErrListenTimeout, which callers treat as a normal completion.
func (c *Client) ListenAsAgent(ctx context.Context, ids []string) (*AgentRequest, error) {
	body := &listenRequest{AgentSelector: agentSelector{IDs: entityIDs{IDs: ids}}}

	var out AgentRequest
	err := c.do(ctx, c.listenClient, http.MethodPost, "/api/v1/agent/listen", body, &out)
	if err != nil {
		var ue *url.Error
		if errors.As(err, &ue) && ue.Timeout() {
			return nil, ErrListenTimeout
		}
		return nil, err
	}
	return &out, nil
}
