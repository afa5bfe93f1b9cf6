package queue

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CheckInGuard/config"
	"CheckInGuard/internal/model"
	"CheckInGuard/pkg/errors"
	"CheckInGuard/pkg/token"
	"CheckInGuard/storage/mq"
)

func withTaskSecret(t *testing.T) {
	t.Helper()
	prev := config.Cfg.TaskCallbackSecret
	config.Cfg.TaskCallbackSecret = "task-callback-secret"
	t.Cleanup(func() { config.Cfg.TaskCallbackSecret = prev })
}

func TestCallbackForwarderSignsTask(t *testing.T) {
	withTaskSecret(t)

	type received struct {
		taskID string
		body   model.MissedCheckInTask
	}
	got := make(chan received, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/internal/tasks/missed-check-in", r.URL.Path)
		id, err := token.ValidateTaskToken(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		assert.NoError(t, err)
		raw, _ := io.ReadAll(r.Body)
		var body model.MissedCheckInTask
		assert.NoError(t, json.Unmarshal(raw, &body))
		got <- received{taskID: id, body: body}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f, err := NewCallbackForwarder(srv.URL+"/internal/tasks/missed-check-in", time.Second)
	require.NoError(t, err)
	require.NoError(t, f.Run(context.Background(), sampleTask()))

	r := <-got
	assert.Equal(t, "mci_1", r.taskID)
	assert.Equal(t, int64(7), r.body.UserID)
	assert.True(t, sampleTask().ScheduledTime.Equal(r.body.ScheduledTime))
}

func TestCallbackForwarderStatusMapping(t *testing.T) {
	withTaskSecret(t)

	var status atomic.Int32
	status.Store(http.StatusBadRequest)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	f, err := NewCallbackForwarder(srv.URL, time.Second)
	require.NoError(t, err)

	// 4xx 丢弃
	var reject *mq.RejectError
	assert.ErrorAs(t, f.Run(context.Background(), sampleTask()), &reject)

	// 5xx 重投
	status.Store(http.StatusInternalServerError)
	err = f.Run(context.Background(), sampleTask())
	require.Error(t, err)
	assert.False(t, errorsAsReject(err))
}

func TestCallbackForwarderNeedsSecret(t *testing.T) {
	prev := config.Cfg.TaskCallbackSecret
	config.Cfg.TaskCallbackSecret = ""
	t.Cleanup(func() { config.Cfg.TaskCallbackSecret = prev })

	f, err := NewCallbackForwarder("http://127.0.0.1:1", time.Second)
	require.NoError(t, err)
	err = f.Run(context.Background(), sampleTask())
	require.Error(t, err)
	assert.False(t, errorsAsReject(err))
}

func errorsAsReject(err error) bool {
	var reject *mq.RejectError
	return errors.As(err, &reject)
}
