package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/loykin/xpol/internal/history"
)

func TestSinkRecordsEvents(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	c, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("history"),
		postgres.WithUsername("xpol"),
		postgres.WithPassword("xpol"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })
	dsn, err := c.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	sink, err := New(dsn)
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	now := time.Now().UTC()
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventUpload, OccurredAt: now, Name: "brain", PID: 7, Bytes: 64}))
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventExchangeFailed, OccurredAt: now, Name: "brain", PID: 7, Error: "boom"}))

	n, err := sink.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = sink.Count(ctx, history.EventUpload)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewRejectsEmptyDSN(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}
