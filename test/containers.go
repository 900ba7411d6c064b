package test

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/joao-fontenele/orderflow-payments/internal/telemetry"
)

type PostgresSetup struct {
	ConnStr string
	cleanup func()
}

func (p *PostgresSetup) Cleanup() {
	p.cleanup()
}

// SetupPostgres starts a disposable Postgres and applies every migration.
func SetupPostgres(ctx context.Context, t *testing.T) *PostgresSetup {
	t.Helper()

	container, err := postgres.Run(ctx,
		"postgres:18-alpine",
		postgres.WithDatabase("orderflow_payments"),
		postgres.WithUsername("orderflow"),
		postgres.WithPassword("orderflow"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get connection string: %v", err)
	}

	if err := runMigrations(connStr); err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to run migrations: %v", err)
	}

	return &PostgresSetup{
		ConnStr: connStr,
		cleanup: func() {
			if err := container.Terminate(context.Background()); err != nil {
				t.Logf("failed to terminate postgres container: %v", err)
			}
		},
	}
}

func runMigrations(connStr string) error {
	m, err := migrate.New(migrationsPath(), connStr)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Round-trip once so a broken down migration fails the suite.
	if err := m.Down(); err != nil {
		return fmt.Errorf("failed to roll back migrations: %w", err)
	}
	if err := m.Up(); err != nil {
		return fmt.Errorf("failed to re-apply migrations: %w", err)
	}

	return nil
}

func migrationsPath() string {
	_, filename, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filename))
	return "file://" + filepath.Join(projectRoot, "migrations")
}

// SetupKafka starts a single-node broker with topics already created, so
// consumers never race topic auto-creation.
func SetupKafka(ctx context.Context, t *testing.T, topics ...string) ([]string, func()) {
	t.Helper()

	container, err := kafka.Run(ctx,
		"confluentinc/confluent-local:7.8.0",
		kafka.WithClusterID("test-cluster"),
	)
	if err != nil {
		t.Fatalf("failed to start kafka container: %v", err)
	}

	cleanup := func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate kafka container: %v", err)
		}
	}

	brokers, err := container.Brokers(ctx)
	if err != nil {
		cleanup()
		t.Fatalf("failed to get kafka brokers: %v", err)
	}

	if err := createTopics(ctx, brokers[0], topics...); err != nil {
		cleanup()
		t.Fatalf("failed to create topics: %v", err)
	}

	return brokers, cleanup
}

func createTopics(ctx context.Context, broker string, topics ...string) error {
	if len(topics) == 0 {
		return nil
	}

	conn, err := kafkago.DialContext(ctx, "tcp", broker)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	configs := make([]kafkago.TopicConfig, 0, len(topics))
	for _, topic := range topics {
		configs = append(configs, kafkago.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1})
	}

	// Single node: the broker is also the controller.
	return conn.CreateTopics(configs...)
}

// DBWithSchema opens a pool scoped to schema the same way cmd/orders does.
func DBWithSchema(ctx context.Context, connStr, schema string) (*sql.DB, error) {
	db, err := telemetry.OpenDB(ctx, "postgres", connStr, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	return db, nil
}
