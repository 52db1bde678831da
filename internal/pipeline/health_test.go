package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/queue"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/queue/memstore"
)

func TestHealthService_Check(t *testing.T) {
	up := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name         string
		storeDown    bool
		database     CheckFunc
		events       CheckFunc
		wantStatus   string
		wantRedis    string
		wantDatabase string
		wantEvents   string
	}{
		{
			name:       "broker only",
			wantStatus: StatusHealthy,
			wantRedis:  StatusConnected,
		},
		{
			name:         "all dependencies up",
			database:     up,
			events:       up,
			wantStatus:   StatusHealthy,
			wantRedis:    StatusConnected,
			wantDatabase: StatusConnected,
			wantEvents:   StatusConnected,
		},
		{
			name:       "broker down",
			storeDown:  true,
			wantStatus: StatusUnhealthy,
			wantRedis:  StatusDisconnected,
		},
		{
			name:         "database down",
			database:     down,
			wantStatus:   StatusUnhealthy,
			wantRedis:    StatusConnected,
			wantDatabase: StatusDisconnected,
		},
		{
			name:       "event broker down stays healthy",
			events:     down,
			wantStatus: StatusHealthy,
			wantRedis:  StatusConnected,
			wantEvents: StatusDisconnected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memstore.New()
			addStageJob(t, store, StageContent, "req_1", map[string]string{})
			addStageJob(t, store, StageContent, "req_2", map[string]string{})
			if tt.storeDown {
				store.SetUnavailable(errors.New("connection refused"))
			}

			report := NewHealthService(store, tt.database, tt.events).Check(context.Background())

			assert.Equal(t, tt.wantStatus, report.Status)
			assert.Equal(t, tt.wantStatus == StatusHealthy, report.Healthy())
			assert.Equal(t, tt.wantRedis, report.Redis)
			assert.Equal(t, tt.wantDatabase, report.Database)
			assert.Equal(t, tt.wantEvents, report.Events)
			assert.False(t, report.Timestamp.IsZero())

			if tt.storeDown {
				assert.Empty(t, report.Queues)
				return
			}
			require.Len(t, report.Queues, 3)
			assert.Equal(t, queue.Counts{Waiting: 2}, report.Queues["content-generation"])
			assert.Equal(t, queue.Counts{}, report.Queues["pdf-generation"])
			assert.Equal(t, queue.Counts{}, report.Queues["file-upload"])
		})
	}
}
