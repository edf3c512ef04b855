package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/artpar/deployer/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_Defaults(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://localhost:9999/"}, nil)

	assert.Equal(t, "http://localhost:9999", client.baseURL)
	assert.NotNil(t, client.httpClient)
	assert.NotNil(t, client.logger)
}

func TestClient_Get_SendsAuthAndHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/apps", r.URL.Path)
		assert.Equal(t, "t1", r.URL.Query().Get("targetId"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "env-1", r.Header.Get("X-Environment-ID"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"name": "orders"})
	}))
	defer server.Close()

	client := NewClient(Config{
		BaseURL:     server.URL,
		Credentials: domain.Credentials{Token: "secret"},
		Headers:     map[string]string{"X-Environment-ID": "env-1", "X-Empty": ""},
	}, slog.Default())

	resp, err := client.Get(context.Background(), "/api/apps", url.Values{"targetId": {"t1"}})
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess())

	var body map[string]string
	require.NoError(t, resp.Decode(&body))
	assert.Equal(t, "orders", body["name"])
}

func TestClient_BasicAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "admin", user)
		assert.Equal(t, "pw", pass)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(Config{
		BaseURL:     server.URL,
		Credentials: domain.Credentials{Username: "admin", Password: "pw"},
	}, nil)

	resp, err := client.Delete(context.Background(), "/x")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestClient_Upload_SendsBinary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "PK\x03\x04payload", string(body))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, nil)

	resp, err := client.Upload(context.Background(), http.MethodPut, "/agent/applications/orders", strings.NewReader("PK\x03\x04payload"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestClient_PostJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var in map[string]int
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, 2, in["workers"])
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, nil)

	resp, err := client.PostJSON(context.Background(), "/apps", map[string]int{"workers": 2})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestClient_NonSuccessIsAResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, nil)

	resp, err := client.Get(context.Background(), "/x", nil)
	require.NoError(t, err)
	assert.False(t, resp.IsSuccess())
	assert.Equal(t, "Internal Server Error", resp.Reason)
}

func TestClient_ConnectionFailureIsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	client := NewClient(Config{BaseURL: addr}, nil)

	_, err := client.Get(context.Background(), "/x", nil)
	require.Error(t, err)

	var te *TransportError
	assert.True(t, errors.As(err, &te))
	assert.ErrorIs(t, err, domain.ErrTransport)
}

// =============================================================================
// Expect Tests
// =============================================================================

func TestExpect(t *testing.T) {
	ok := &Response{StatusCode: http.StatusAccepted}
	assert.NoError(t, Expect("PUT", "/x", ok))
	assert.NoError(t, Expect("PUT", "/x", ok, http.StatusAccepted))
	assert.Error(t, Expect("PUT", "/x", ok, http.StatusOK))

	bad := &Response{StatusCode: 500, Reason: "Internal Server Error", Body: []byte("  stack trace \n")}
	err := Expect("PUT", "/x", bad)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 500, se.StatusCode)
	assert.Equal(t, "Internal Server Error", se.Reason)
	assert.Equal(t, "stack trace", se.Body)
	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.Equal(t, "PUT /x: unexpected status 500 Internal Server Error: stack trace", err.Error())
}

func TestExpect_TruncatesBody(t *testing.T) {
	bad := &Response{StatusCode: 400, Body: []byte(strings.Repeat("x", maxErrorBody*2))}

	var se *StatusError
	require.True(t, errors.As(Expect("GET", "/", bad), &se))
	assert.Len(t, se.Body, maxErrorBody)
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(&StatusError{StatusCode: 404}))
	assert.False(t, IsNotFound(&StatusError{StatusCode: 500}))
	assert.False(t, IsNotFound(errors.New("x")))
}
