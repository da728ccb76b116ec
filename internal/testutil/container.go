package testutil

import (
	"context"
	"fmt"
	"time"

	pgutil "github.com/bissquit/alert-relay/internal/pkg/postgres"
	"github.com/bissquit/alert-relay/migrations"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// MailpitContainer wraps a Mailpit testcontainer for email testing.
type MailpitContainer struct {
	testcontainers.Container
	SMTPHost string
	SMTPPort int
	APIHost  string
	APIPort  int
}

// Database is a throwaway PostgreSQL instance migrated to the latest
// alert-relay schema.
type Database struct {
	container *postgres.PostgresContainer
	URL       string
}

// StartDatabase runs PostgreSQL in a container and applies migrations.FS.
func StartDatabase(ctx context.Context) (*Database, error) {
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("alertrelay"),
		postgres.WithUsername("alertrelay"),
		postgres.WithPassword("alertrelay"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, fmt.Errorf("start postgres: %w", err)
	}
	db := &Database{container: container}

	db.URL, err = container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = db.Close(ctx)
		return nil, fmt.Errorf("postgres url: %w", err)
	}
	if err := pgutil.Migrate(db.URL, migrations.FS, pgutil.MigrateUp); err != nil {
		_ = db.Close(ctx)
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close removes the container.
func (d *Database) Close(ctx context.Context) error {
	return d.container.Terminate(ctx)
}

// NewMigratedPool gives a test its own migrated database and a pool
// connected to it. Both are released when the test ends.
func NewMigratedPool(ctx context.Context, t interface {
	Helper()
	Cleanup(func())
	Fatalf(format string, args ...any)
}) *pgxpool.Pool {
	t.Helper()

	db, err := StartDatabase(ctx)
	if err != nil {
		t.Fatalf("test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(context.Background()) })

	pool, err := pgutil.Connect(ctx, pgutil.Config{
		URL:             db.URL,
		MaxOpenConns:    5,
		ConnectAttempts: 3,
		ConnectTimeout:  10 * time.Second,
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	return pool
}

// NewMailpitContainer creates a new Mailpit container for testing.
// Mailpit provides a fake SMTP server with REST API to inspect received emails.
func NewMailpitContainer(ctx context.Context) (*MailpitContainer, error) {
	req := testcontainers.ContainerRequest{
		Image:        "ghcr.io/axllent/mailpit:latest",
		ExposedPorts: []string{"1025/tcp", "8025/tcp"},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("1025/tcp"),
			wait.ForHTTP("/api/v1/info").WithPort("8025/tcp"),
		).WithDeadline(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("start mailpit container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("get mailpit host: %w", err)
	}

	smtpPort, err := container.MappedPort(ctx, "1025/tcp")
	if err != nil {
		return nil, fmt.Errorf("get smtp port: %w", err)
	}

	apiPort, err := container.MappedPort(ctx, "8025/tcp")
	if err != nil {
		return nil, fmt.Errorf("get api port: %w", err)
	}

	return &MailpitContainer{
		Container: container,
		SMTPHost:  host,
		SMTPPort:  smtpPort.Int(),
		APIHost:   host,
		APIPort:   apiPort.Int(),
	}, nil
}
