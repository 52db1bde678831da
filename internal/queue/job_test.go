package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextAttempt(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	transient := Failure{Reason: "upstream 503", Kind: FailureError}

	tests := []struct {
		name     string
		made     int
		failure  Failure
		wantNil  bool
		wantWait time.Duration
	}{
		{
			name:     "first failure retries after base delay",
			made:     0,
			failure:  transient,
			wantWait: 2 * time.Second,
		},
		{
			name:     "second failure retries after doubled delay",
			made:     1,
			failure:  transient,
			wantWait: 4 * time.Second,
		},
		{
			name:    "third failure is terminal",
			made:    2,
			failure: transient,
			wantNil: true,
		},
		{
			name:     "timeout is retried",
			made:     0,
			failure:  Failure{Reason: "deadline exceeded", Kind: FailureTimeout},
			wantWait: 2 * time.Second,
		},
		{
			name:    "unrecoverable is never retried",
			made:    0,
			failure: Failure{Reason: "invalid payload", Kind: FailureUnrecoverable},
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := &Job{AttemptsMade: tt.made, MaxAttempts: 3, Backoff: DefaultBackoff}

			got := NextAttempt(j, tt.failure, now)

			if tt.wantNil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, now.Add(tt.wantWait), *got)
		})
	}
}

func TestState_IsTerminal(t *testing.T) {
	assert.True(t, StateCompleted.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
	assert.False(t, StateWaiting.IsTerminal())
	assert.False(t, StateActive.IsTerminal())
	assert.False(t, StateDelayed.IsTerminal())
}

func TestNewJob_Defaults(t *testing.T) {
	nj := NewJob{ID: "ebook-req_1"}
	nj.Defaults()

	assert.Equal(t, 3, nj.MaxAttempts)
	assert.Equal(t, DefaultBackoff, nj.Backoff)
	assert.Equal(t, "default", nj.Name)

	custom := NewJob{MaxAttempts: 5, Backoff: Backoff{Delay: time.Second}, Name: "render"}
	custom.Defaults()

	assert.Equal(t, 5, custom.MaxAttempts)
	assert.Equal(t, Backoff{Type: BackoffExponential, Delay: time.Second}, custom.Backoff)
	assert.Equal(t, "render", custom.Name)
}

func TestJob_Decode(t *testing.T) {
	j := &Job{Data: []byte(`{"userId":"u1"}`)}

	var v struct {
		UserID string `json:"userId"`
	}
	require.NoError(t, j.Decode(&v))
	assert.Equal(t, "u1", v.UserID)
}
