package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_RoutingKey(t *testing.T) {
	tests := []struct {
		event Event
		want  string
	}{
		{Event{Queue: "content-generation", State: StateWaiting}, "content-generation.waiting"},
		{Event{Queue: "pdf-generation", State: StateRetrying}, "pdf-generation.retrying"},
		{Event{Queue: "file-upload", State: StateCompleted}, "file-upload.completed"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.event.RoutingKey())
		})
	}
}

func TestEvent_JSON(t *testing.T) {
	e := Event{
		Queue:     "file-upload",
		JobID:     "upload-req_1",
		State:     StateFailed,
		Attempt:   3,
		Error:     "bucket unavailable",
		Timestamp: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"queue": "file-upload",
		"jobId": "upload-req_1",
		"state": "failed",
		"attempt": 3,
		"error": "bucket unavailable",
		"timestamp": "2025-03-01T12:00:00Z"
	}`, string(data))
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(context.Background(), Event{}))
}

func TestRecorder(t *testing.T) {
	var r Recorder
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Publish(ctx, Event{Queue: "q", JobID: "other", State: StateActive})
		}()
	}
	wg.Wait()

	require.NoError(t, r.Publish(ctx, Event{Queue: "q", JobID: "j", State: StateActive}))
	require.NoError(t, r.Publish(ctx, Event{Queue: "q", JobID: "j", State: StateCompleted}))

	assert.Len(t, r.Events(), 22)
	assert.Equal(t, []string{"q.active", "q.completed"}, r.Keys("j"))
}
