// Package testutil holds containers, an API client and OpenAPI checks for
// the integration tests.
package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	postgresImage = "postgres:16-alpine"
	redisImage    = "redis:7-alpine"
	mailpitImage  = "ghcr.io/axllent/mailpit:latest"

	mailpitSMTPPort = "1025/tcp"
	mailpitAPIPort  = "8025/tcp"

	startupTimeout = 60 * time.Second
)

// PostgresContainer is a throwaway database for the outreach schema.
type PostgresContainer struct {
	*postgres.PostgresContainer
	ConnectionString string
}

// NewPostgresContainer starts Postgres with an empty "outreach" database.
func NewPostgresContainer(ctx context.Context) (*PostgresContainer, error) {
	c, err := postgres.Run(ctx, postgresImage,
		postgres.WithDatabase("outreach"),
		postgres.WithUsername("outreach"),
		postgres.WithPassword("outreach"),
		// The init scripts restart the server once, so the ready line shows twice.
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(startupTimeout),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("run postgres: %w", err)
	}

	dsn, err := c.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, fmt.Errorf("postgres dsn: %w", err)
	}
	return &PostgresContainer{PostgresContainer: c, ConnectionString: dsn}, nil
}

// RedisContainer backs the redis daily counter store.
type RedisContainer struct {
	*tcredis.RedisContainer
	URL string
}

// NewRedisContainer starts a Redis server and returns its redis:// URL.
func NewRedisContainer(ctx context.Context) (*RedisContainer, error) {
	c, err := tcredis.Run(ctx, redisImage)
	if err != nil {
		return nil, fmt.Errorf("run redis: %w", err)
	}

	url, err := c.ConnectionString(ctx)
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, fmt.Errorf("redis url: %w", err)
	}
	return &RedisContainer{RedisContainer: c, URL: url}, nil
}

// MailpitContainer captures what the smtp transport sends.
type MailpitContainer struct {
	testcontainers.Container
	SMTPHost string
	SMTPPort int
	APIHost  string
	APIPort  int
}

// NewMailpitContainer starts Mailpit with SMTP and its REST API exposed.
func NewMailpitContainer(ctx context.Context) (*MailpitContainer, error) {
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        mailpitImage,
			ExposedPorts: []string{mailpitSMTPPort, mailpitAPIPort},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort(mailpitSMTPPort),
				wait.ForHTTP("/api/v1/info").WithPort(mailpitAPIPort),
			).WithDeadline(startupTimeout),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("run mailpit: %w", err)
	}

	mc, err := describeMailpit(ctx, c)
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, err
	}
	return mc, nil
}

func describeMailpit(ctx context.Context, c testcontainers.Container) (*MailpitContainer, error) {
	host, err := c.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("mailpit host: %w", err)
	}
	smtpPort, err := c.MappedPort(ctx, mailpitSMTPPort)
	if err != nil {
		return nil, fmt.Errorf("mailpit smtp port: %w", err)
	}
	apiPort, err := c.MappedPort(ctx, mailpitAPIPort)
	if err != nil {
		return nil, fmt.Errorf("mailpit api port: %w", err)
	}

	return &MailpitContainer{
		Container: c,
		SMTPHost:  host,
		SMTPPort:  smtpPort.Int(),
		APIHost:   host,
		APIPort:   apiPort.Int(),
	}, nil
}
