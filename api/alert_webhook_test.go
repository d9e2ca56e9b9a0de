package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertWebhook_Delivery(t *testing.T) {
	var (
		mu       sync.Mutex
		received AlertEvent
		auth     string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &received)
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := NewAlertWebhook(srv.URL, "Authorization: Bearer s3cret", nil)
	wh.Notify(AlertEvent{
		Type:      AlertLockoutSpike,
		Message:   "lockout rate exceeds threshold",
		Count:     5,
		Threshold: 5,
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	wh.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, AlertLockoutSpike, received.Type)
	assert.Equal(t, 5, received.Count)
	assert.Equal(t, "Bearer s3cret", auth)
}

func TestAlertWebhook_SendsOnceOnServerError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	wh := NewAlertWebhook(srv.URL, "", nil)
	wh.Notify(AlertEvent{Type: AlertLoginFailureSpike})
	wh.Close()

	assert.Equal(t, int32(1), attempts.Load())
}

func TestAlertWebhook_DropsWhenQueueFull(t *testing.T) {
	release := make(chan struct{})
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := NewAlertWebhook(srv.URL, "", nil)
	for i := 0; i < webhookQueueSize+10; i++ {
		wh.Notify(AlertEvent{Type: AlertLoginFailureSpike, Count: i})
	}
	close(release)
	wh.Close()

	require.LessOrEqual(t, attempts.Load(), int32(webhookQueueSize+1))
}

func TestAlertWebhook_CloseIsIdempotent(t *testing.T) {
	wh := NewAlertWebhook("http://127.0.0.1:0", "", nil)
	wh.Close()
	wh.Close()
}
