//go:build integration

package integration

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/bissquit/outreach-queue/internal/app"
	"github.com/bissquit/outreach-queue/internal/config"
	"github.com/bissquit/outreach-queue/internal/pkg/postgres"
	"github.com/bissquit/outreach-queue/internal/testutil"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	testServer    *httptest.Server
	testApp       *app.App
	testValidator *testutil.OpenAPIValidator
	testDB        *pgxpool.Pool

	redisContainer   *testutil.RedisContainer
	mailpitContainer *testutil.MailpitContainer
	mailpitClient    *MailpitClient
)

const (
	openAPIDocument = "../../api/openapi/openapi.yaml"
	migrationsURL   = "file://../../migrations"
	senderAddress   = "sales@outreach.test"
	testDailyLimit  = 5
)

// newTestClient returns a client that checks every exchange against the
// OpenAPI document and reports mismatches on t.
func newTestClient(t *testing.T) *testutil.Client {
	t.Helper()
	c := testutil.NewClientWithValidator(testServer.URL, testValidator)
	c.SetT(t)
	return c
}

// newTestClientWithoutValidation is for requests that break the contract on
// purpose.
func newTestClientWithoutValidation() *testutil.Client {
	return testutil.NewClient(testServer.URL)
}

func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	var cleanups []func()
	defer func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}()

	code, err := setup(context.Background(), &cleanups, m)
	if err != nil {
		log.Printf("integration setup: %v", err)
		return 1
	}
	return code
}

func setup(ctx context.Context, cleanups *[]func(), m *testing.M) (int, error) {
	onExit := func(name string, fn func() error) {
		*cleanups = append(*cleanups, func() {
			if err := fn(); err != nil {
				log.Printf("cleanup %s: %v", name, err)
			}
		})
	}

	pg, err := testutil.NewPostgresContainer(ctx)
	if err != nil {
		return 0, err
	}
	onExit("postgres", func() error { return pg.Terminate(ctx) })

	redisContainer, err = testutil.NewRedisContainer(ctx)
	if err != nil {
		return 0, err
	}
	onExit("redis", func() error { return redisContainer.Terminate(ctx) })

	mailpitContainer, err = testutil.NewMailpitContainer(ctx)
	if err != nil {
		return 0, err
	}
	onExit("mailpit", func() error { return mailpitContainer.Terminate(ctx) })
	mailpitClient = NewMailpitClient(mailpitContainer.APIHost, mailpitContainer.APIPort)

	if err := migrateUp(pg.ConnectionString); err != nil {
		return 0, err
	}

	testDB, err = postgres.Connect(ctx, postgres.Config{
		URL:             pg.ConnectionString,
		MaxOpenConns:    5,
		ConnectAttempts: 3,
	})
	if err != nil {
		return 0, fmt.Errorf("connect test db: %w", err)
	}
	onExit("test db", func() error { testDB.Close(); return nil })

	cfg := testConfig(pg.ConnectionString)
	if err := cfg.Validate(); err != nil {
		return 0, fmt.Errorf("test config: %w", err)
	}

	testApp, err = app.New(cfg)
	if err != nil {
		return 0, fmt.Errorf("create app: %w", err)
	}
	onExit("app", testApp.Close)

	testValidator, err = testutil.LoadOpenAPIValidator(openAPIDocument)
	if err != nil {
		return 0, err
	}

	testServer = httptest.NewServer(testApp.Router())
	onExit("server", func() error { testServer.Close(); return nil })

	return m.Run(), nil
}

func migrateUp(dsn string) error {
	migrator, err := migrate.New(migrationsURL, dsn)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() { _, _ = migrator.Close() }()

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// testConfig points the app at the containers and sends through Mailpit.
func testConfig(dsn string) *config.Config {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = "0"
	cfg.Server.MetricsPort = "0"
	cfg.Database.URL = dsn
	cfg.Database.MaxOpenConns = 5
	cfg.Database.MaxIdleConns = 2
	cfg.Log.Level = "error"
	cfg.Queue.DefaultDailyLimit = testDailyLimit
	cfg.Transport.Provider = "smtp"
	cfg.Transport.FromAddress = senderAddress
	cfg.Transport.SMTP.Host = mailpitContainer.SMTPHost
	cfg.Transport.SMTP.Port = mailpitContainer.SMTPPort
	cfg.Transport.SMTP.InsecureSkipTLS = true
	return cfg
}
