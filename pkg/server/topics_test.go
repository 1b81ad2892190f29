package server

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raterudder/homedash/pkg/upstream"
)

func TestTopicsUnsupported(t *testing.T) {
	srv, _ := newTestServer(t, newUpstream(t, "{}"), nil)
	h := srv.setupHandler()

	w := do(t, h, "GET", "/api/topics", "")
	assert.Equal(t, http.StatusNotImplemented, w.Code)
	assert.Equal(t, "the live source does not support topics", errorMessage(t, w))

	w = do(t, h, "POST", "/api/publish", `{"topic":"home/test","message":"hi"}`)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestTopics(t *testing.T) {
	src := &topicSource{
		HTTPSource: newUpstream(t, "{}"),
		topics:     []string{"home/dashboard/data"},
	}
	srv, _ := newTestServer(t, src, nil)
	h := srv.setupHandler()

	t.Run("List", func(t *testing.T) {
		w := do(t, h, "GET", "/api/topics", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []string{"home/dashboard/data"}, decode[TopicsRes](t, w).Topics)
	})

	t.Run("Add", func(t *testing.T) {
		w := do(t, h, "POST", "/api/topics", `{"topic":" home/sensors/# "}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []string{"home/dashboard/data", "home/sensors/#"}, decode[TopicsRes](t, w).Topics)
	})

	t.Run("Add Empty", func(t *testing.T) {
		w := do(t, h, "POST", "/api/topics", `{"topic":"  "}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "topic is required", errorMessage(t, w))
	})

	t.Run("Remove", func(t *testing.T) {
		w := do(t, h, "DELETE", "/api/topics?topic=home%2Fsensors%2F%23", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []string{"home/dashboard/data"}, decode[TopicsRes](t, w).Topics)
	})

	t.Run("Remove Missing Topic", func(t *testing.T) {
		w := do(t, h, "DELETE", "/api/topics", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Publish", func(t *testing.T) {
		w := do(t, h, "POST", "/api/publish", `{"topic":"home/test","message":"hello"}`)
		require.Equal(t, http.StatusNoContent, w.Code)
		src.mu.Lock()
		defer src.mu.Unlock()
		assert.Equal(t, "hello", src.published["home/test"])
	})

	t.Run("Publish Not Connected", func(t *testing.T) {
		src.mu.Lock()
		src.publishErr = fmt.Errorf("publish: %w", upstream.ErrNotConnected)
		src.mu.Unlock()

		w := do(t, h, "POST", "/api/publish", `{"topic":"home/test","message":"hello"}`)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "the bus is not connected", errorMessage(t, w))
	})

	t.Run("Publish Without Topic", func(t *testing.T) {
		w := do(t, h, "POST", "/api/publish", `{"message":"hello"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
