// Copyright (c) Skyfleet Robotics
// SPDX-License-Identifier: MPL-2.0

package lattice

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/shoenig/test/must"

	"github.com/skyfleet/latticebridge/structs"
)

func testClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		URL:              url,
		EnvironmentToken: "env-token",
		Logger:           hclog.NewNullLogger(),
	})
	must.NoError(t, err)
	must.NoError(t, c.Connect())
	t.Cleanup(c.Disconnect)
	return c
}

func testEntity(id string) *Entity {
	return &Entity{
		EntityID: id,
		IsLive:   true,
		TaskCatalog: &TaskCatalog{
			TaskDefinitions: []TaskDefinition{{TaskSpecificationURL: SpecURLMonitor}},
		},
	}
}

func TestNewClient_validation(t *testing.T) {
	_, err := NewClient(Config{Logger: hclog.NewNullLogger()})
	must.Error(t, err)

	// A bare host gets https assumed.
	c, err := NewClient(Config{URL: "lattice.example.com", Logger: hclog.NewNullLogger()})
	must.NoError(t, err)
	must.Eq(t, "https://lattice.example.com", c.base)
}

func TestClient_connect(t *testing.T) {
	t.Run("missing environment token", func(t *testing.T) {
		c, err := NewClient(Config{URL: "lattice.example.com", Logger: hclog.NewNullLogger()})
		must.NoError(t, err)
		err = c.Connect()
		must.Error(t, err)
		must.StrContains(t, err.Error(), "environment token")
	})

	t.Run("sandbox requires sandbox token", func(t *testing.T) {
		c, err := NewClient(Config{
			URL:              "demo.sandboxes.example.com",
			EnvironmentToken: "env-token",
			Logger:           hclog.NewNullLogger(),
		})
		must.NoError(t, err)
		err = c.Connect()
		must.Error(t, err)
		must.StrContains(t, err.Error(), "sandbox token")
	})

	t.Run("ok", func(t *testing.T) {
		c, err := NewClient(Config{
			URL:              "lattice.example.com",
			EnvironmentToken: "env-token",
			Logger:           hclog.NewNullLogger(),
		})
		must.NoError(t, err)
		must.NoError(t, c.Connect())
	})
}

func TestClient_headers(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		URL:              srv.URL,
		EnvironmentToken: "env-token",
		SandboxToken:     "sandbox-token",
		Logger:           hclog.NewNullLogger(),
	})
	must.NoError(t, err)
	must.NoError(t, c.Connect())

	must.NoError(t, c.UpdateTaskStatus(context.Background(), "task-1", StatusAck, 0, "alpha"))
	must.Eq(t, "Bearer env-token", got.Get("Authorization"))
	must.Eq(t, "Bearer sandbox-token", got.Get("Anduril-Sandbox-Authorization"))
	must.Eq(t, "application/json", got.Get("Content-Type"))
}

func TestClient_publishEntity(t *testing.T) {
	var puts, gets int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			puts++
			var e Entity
			must.NoError(t, json.NewDecoder(r.Body).Decode(&e))
			must.Eq(t, "alpha", e.EntityID)
			w.Write([]byte(`{}`))
		case http.MethodGet:
			gets++
			must.Eq(t, "/api/v1/entities/alpha", r.URL.Path)
			json.NewEncoder(w).Encode(testEntity("alpha"))
		}
	}))
	t.Cleanup(srv.Close)

	c := testClient(t, srv.URL)

	must.NoError(t, c.PublishEntity(context.Background(), testEntity("alpha")))
	must.NoError(t, c.PublishEntity(context.Background(), testEntity("alpha")))
	must.Eq(t, 2, puts)
	// Read-back verification happens exactly once.
	must.Eq(t, 1, gets)
}

func TestClient_publishEntity_serverError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	c := testClient(t, srv.URL)

	err := c.PublishEntity(context.Background(), testEntity("alpha"))
	must.Error(t, err)
	must.Eq(t, structs.ErrTransient, structs.KindOf(err))
	must.StrContains(t, err.Error(), "500")
}

func TestClient_notConnected(t *testing.T) {
	c, err := NewClient(Config{
		URL:              "lattice.example.com",
		EnvironmentToken: "env-token",
		Logger:           hclog.NewNullLogger(),
	})
	must.NoError(t, err)

	err = c.PublishEntity(context.Background(), testEntity("alpha"))
	must.Error(t, err)
	must.StrContains(t, err.Error(), "not connected")
}

func TestClient_updateTaskStatus_versionMonotonic(t *testing.T) {
	var versions []uint64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body statusUpdateRequest
		must.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		versions = append(versions, body.StatusVersion)
		w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	c := testClient(t, srv.URL)

	ctx := context.Background()
	must.NoError(t, c.UpdateTaskStatus(ctx, "task-1", StatusAck, 0, "alpha"))
	must.NoError(t, c.UpdateTaskStatus(ctx, "task-1", StatusExecuting, 0.5, "alpha"))
	// A different task still consumes the shared counter.
	must.NoError(t, c.UpdateTaskStatus(ctx, "task-2", StatusAck, 0, "bravo"))

	must.Eq(t, []uint64{1, 2, 3}, versions)
}

func TestClient_updateTaskStatus_author(t *testing.T) {
	var body statusUpdateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		must.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	c := testClient(t, srv.URL)

	must.NoError(t, c.UpdateTaskStatus(context.Background(), "task-1", StatusDoneOK, 1.0, "alpha"))
	must.Eq(t, "task-1", body.TaskID)
	must.Eq(t, StatusDoneOK, body.NewStatus.Status)
	must.Eq(t, 1.0, body.NewStatus.ProgressPercentage)
	must.NotNil(t, body.Author)
	must.Eq(t, "alpha", body.Author.System.EntityID)
	must.Eq(t, DefaultIntegrationName, body.Author.System.ServiceName)
}

func TestClient_listenAsAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		must.Eq(t, "/api/v1/agent/listen", r.URL.Path)

		var body listenRequest
		must.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		must.Eq(t, []string{"alpha", "bravo"}, body.AgentSelector.IDs.IDs)

		w.Write([]byte(`{"executeRequest":{"task":{"version":{"taskId":"task-9"}}}}`))
	}))
	t.Cleanup(srv.Close)

	c := testClient(t, srv.URL)

	req, err := c.ListenAsAgent(context.Background(), []string{"alpha", "bravo"})
	must.NoError(t, err)
	must.False(t, req.IsKeepAlive())
	must.Eq(t, "task-9", req.ExecuteRequest.TaskID())
}

func TestClient_listenAsAgent_timeouts(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"408", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusRequestTimeout)
		}},
		{"504", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusGatewayTimeout)
		}},
		{"empty body", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			t.Cleanup(srv.Close)

			c := testClient(t, srv.URL)
			_, err := c.ListenAsAgent(context.Background(), []string{"alpha"})
			must.True(t, errors.Is(err, ErrListenTimeout))
		})
	}
}

func TestClient_listenAsAgent_keepAlive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	c := testClient(t, srv.URL)

	req, err := c.ListenAsAgent(context.Background(), []string{"alpha"})
	must.NoError(t, err)
	must.True(t, req.IsKeepAlive())
}

func TestClient_requestTimeoutBounds(t *testing.T) {
	// The listen client outlives the server-side long poll window.
	c := testClient(t, "lattice.example.com")
	must.Eq(t, requestTimeout, c.httpClient.Timeout)
	must.True(t, c.listenClient.Timeout > listenTimeout)
}
