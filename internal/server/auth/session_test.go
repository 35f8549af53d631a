package auth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	base := []Option{
		WithBaseURL(srv.URL + "/hasJoined"),
		WithHTTPClient(srv.Client()),
		WithInitialInterval(time.Millisecond),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	return NewClient(append(base, opts...)...)
}

func TestHasJoined(t *testing.T) {
	var gotQuery string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "069a79f444e94726a5befca90e38aaf5",
			"name": "Notch",
			"properties": [{"name": "textures", "value": "e30=", "signature": "c2ln"}]
		}`)
	})

	p, err := c.HasJoined(context.Background(), "Notch", "-7c9d5b00")
	require.NoError(t, err)
	assert.Equal(t, "serverId=-7c9d5b00&username=Notch", gotQuery)
	assert.Equal(t, uuid.MustParse("069a79f4-44e9-4726-a5be-fca90e38aaf5"), p.ID)
	assert.Equal(t, "Notch", p.Name)
	require.Len(t, p.Properties, 1)
	assert.Equal(t, Property{Name: "textures", Value: "e30=", Signature: "c2ln"}, p.Properties[0])
}

func TestHasJoinedNotAuthenticated(t *testing.T) {
	for _, status := range []int{http.StatusNoContent, http.StatusForbidden} {
		var calls atomic.Int32
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(status)
		})

		_, err := c.HasJoined(context.Background(), "Notch", "x")
		require.ErrorIs(t, err, ErrNotAuthenticated)
		assert.Equal(t, int32(1), calls.Load(), "status %d must not be retried", status)
	}
}

func TestHasJoinedRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"id":"069a79f444e94726a5befca90e38aaf5","name":"Notch"}`)
	}, WithRetries(3))

	p, err := c.HasJoined(context.Background(), "Notch", "x")
	require.NoError(t, err)
	assert.Equal(t, "Notch", p.Name)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHasJoinedGivesUp(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}, WithRetries(2))

	_, err := c.HasJoined(context.Background(), "Notch", "x")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotAuthenticated)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHasJoinedBadID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"nope","name":"Notch"}`)
	}, WithRetries(0))

	_, err := c.HasJoined(context.Background(), "Notch", "x")
	require.Error(t, err)
}

func TestHasJoinedCanceled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}, WithRetries(100), WithInitialInterval(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := c.HasJoined(ctx, "Notch", "x")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
