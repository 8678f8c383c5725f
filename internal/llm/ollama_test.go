package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noWait() backoff.BackOff {
	return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
}

func TestGenerateRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var req generateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "tiny", req.Model)
		_ = json.NewEncoder(w).Encode(generateResponse{Response: "  get moving  ", Done: true})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tiny").WithBackoff(noWait)
	text, err := c.Generate(context.Background(), "nag me")
	require.NoError(t, err)
	assert.Equal(t, "get moving", text)
	assert.EqualValues(t, 2, calls.Load())
}

func TestGenerateGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "tiny").WithBackoff(noWait).Generate(context.Background(), "nag me")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.EqualValues(t, 3, calls.Load())
}

func TestGenerateClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "missing").WithBackoff(noWait).Generate(context.Background(), "nag me")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.EqualValues(t, 1, calls.Load())
}

func TestGenerateEmptyPrompt(t *testing.T) {
	_, err := NewClient("http://unused", "").Generate(context.Background(), "")
	assert.ErrorIs(t, err, ErrUnavailable)
}
