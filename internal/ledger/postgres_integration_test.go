//go:build integration

package ledger

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"cex-arbitrage-go/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var pool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpassword",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp"),
	}
	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		log.Fatalf("could not start postgres container: %s", err)
	}

	host, err := pgContainer.Host(ctx)
	if err != nil {
		log.Fatalf("could not get container host: %s", err)
	}
	port, err := pgContainer.MappedPort(ctx, "5432")
	if err != nil {
		log.Fatalf("could not get mapped port: %s", err)
	}

	dsn := "postgres://testuser:testpassword@" + host + ":" + port.Port() + "/testdb"
	// The port can accept connections before the server finishes starting.
	for i := 0; i < 20; i++ {
		if pool, err = NewPostgresPool(ctx, dsn); err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if err != nil {
		log.Fatalf("could not connect to database: %s", err)
	}

	code := m.Run()

	pool.Close()
	if err := pgContainer.Terminate(ctx); err != nil {
		log.Printf("could not stop postgres container: %s", err)
	}
	os.Exit(code)
}

func TestPostgresStore_InsertAndList(t *testing.T) {
	ctx := context.Background()
	store := NewPostgresStore(pool)
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx))

	now := time.Now().UTC().Truncate(time.Millisecond)
	done := record(models.TradeStatusCompleted, "0.1798", now.Add(-time.Minute))
	done.GrossProfit = decimal.RequireFromString("0.2")
	done.Fees = decimal.RequireFromString("0.0202")
	failed := record(models.TradeStatusFailed, "0", now)
	failed.ErrorKind = "AllowlistBlockedError"

	require.NoError(t, store.Insert(ctx, done))
	require.NoError(t, store.Insert(ctx, failed))
	assert.Error(t, store.Insert(ctx, done))

	all, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, failed.ID, all[0].ID)
	assert.Equal(t, models.TradeStatusFailed, all[0].Status)
	assert.True(t, all[1].NetProfit.Equal(decimal.RequireFromString("0.1798")))
	assert.True(t, all[1].Fees.Equal(decimal.RequireFromString("0.0202")))
	assert.Equal(t, models.ModeSimulation, all[1].Mode)

	completed, err := store.List(ctx, Filter{Status: models.TradeStatusCompleted, Symbol: "BTCUSDT", Limit: 5})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, done.ID, completed[0].ID)
}
