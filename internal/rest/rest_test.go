package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rutvikpatel14/session-intelligence-go/apierr"
)

func TestDo_RoundTripsJSON(t *testing.T) {
	type echo struct {
		Name string `json:"name"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	defer server.Close()

	var out echo
	err := Do(context.Background(), server.Client(), http.MethodPost, server.URL, echo{Name: "alice"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "alice", out.Name)
}

func TestDo_NilBodyHasNoContentType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	require.NoError(t, Do(context.Background(), server.Client(), http.MethodGet, server.URL, nil, nil))
}

func TestDo_FailureDecodesEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"code": "INVALID_CREDENTIALS", "message": "Invalid email or password"},
		})
	}))
	defer server.Close()

	err := Do(context.Background(), server.Client(), http.MethodPost, server.URL, struct{}{}, nil)
	require.Error(t, err)

	var apiErr *apierr.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "INVALID_CREDENTIALS", apiErr.Code)
}

func TestDoWithHeaders_AttachesHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "C1", r.Header.Get("X-CSRF-Token"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	headers := http.Header{}
	headers.Set("X-CSRF-Token", "C1")
	require.NoError(t, DoWithHeaders(context.Background(), server.Client(), http.MethodPost, server.URL, struct{}{}, headers, nil))
}
