package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/svcmgr/internal/history"
)

// setupClickHouseContainer starts a ClickHouse container for testing
func setupClickHouseContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	// Start ClickHouse container
	clickHouseContainer, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(""),
		clickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start ClickHouse container: %v", err)
	}

	// Get connection details
	host, err := clickHouseContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := clickHouseContainer.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("Failed to get mapped port: %v", err)
	}

	dsn := host + ":" + port.Port()
	return clickHouseContainer, dsn
}

// setupSink creates a sink and its table
func setupSink(ctx context.Context, t *testing.T, dsn string, tableName string) *Sink {
	t.Helper()

	sink, err := New(dsn, tableName)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	if err := sink.EnsureTable(ctx); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
	return sink
}

func TestClickHouseSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	clickHouseContainer, dsn := setupClickHouseContainer(ctx, t)
	defer func() {
		if err := clickHouseContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate ClickHouse container: %v", err)
		}
	}()

	sink := setupSink(ctx, t, dsn, "service_history")
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	start := history.NewStateChange("test-service", "stopped", "running")
	if err := sink.Send(ctx, start); err != nil {
		t.Fatalf("Failed to send state event: %v", err)
	}
	fail := history.NewError("test-service", "process exited unexpectedly: exit status 1")
	if err := sink.Send(ctx, fail); err != nil {
		t.Fatalf("Failed to send error event: %v", err)
	}

	row := sink.conn.QueryRow(ctx, "SELECT COUNT(*) FROM service_history WHERE service = ?", "test-service")
	var count uint64
	if err := row.Scan(&count); err != nil {
		t.Fatalf("Failed to query count: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 events, got %d", count)
	}

	var msg string
	if err := sink.conn.QueryRow(ctx, "SELECT message FROM service_history WHERE type = 'error'").Scan(&msg); err != nil {
		t.Fatalf("Failed to query message: %v", err)
	}
	if msg != fail.Message {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestClickHouseSink_ConnectionError(t *testing.T) {
	_, err := New("invalid-host:9000", "test_table")
	if err == nil {
		t.Error("Expected error with invalid connection, got nil")
	}
}
