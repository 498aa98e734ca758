package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/xpol/internal/history"
)

// clickhouseAddr starts a throwaway server and returns its native-protocol address.
func clickhouseAddr(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	c, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(""),
		clickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").WithPort("8123/tcp").WithStartupTimeout(time.Minute)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	addr, err := c.ConnectionHost(ctx)
	require.NoError(t, err)
	return addr
}

func TestSinkRecordsEvents(t *testing.T) {
	addr := clickhouseAddr(t)
	ctx := context.Background()

	sink, err := New(Options{Addr: addr, Table: "xpol_history_test"})
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	now := time.Now().UTC()
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventWorkerStart, OccurredAt: now, Name: "brain", PID: 99}))
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventDownload, OccurredAt: now, Name: "brain", PID: 99, Bytes: 512}))
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventExchangeFailed, OccurredAt: now, Name: "brain", PID: 99, Error: "fetch: unexpected status 500"}))

	n, err := sink.Count(ctx, history.EventDownload)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}
