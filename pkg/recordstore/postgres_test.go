package recordstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore connects to a PostgreSQL database for testing and skips
// the test when none is reachable.
func setupTestStore(t *testing.T) *PostgresStore {
	t.Helper()

	pgUser := os.Getenv("PGUSER")
	pgPassword := os.Getenv("PGPASSWORD")
	pgHost := os.Getenv("PGHOST")
	pgPort := os.Getenv("PGPORT")
	pgDB := os.Getenv("PGDATABASE")

	if pgUser == "" {
		pgUser = "user"
	}
	if pgPassword == "" {
		pgPassword = "password"
	}
	if pgHost == "" {
		pgHost = "localhost"
	}
	if pgPort == "" {
		pgPort = "5432"
	}
	if pgDB == "" {
		pgDB = "testdb"
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		pgHost, pgPort, pgUser, pgPassword, pgDB)

	probe, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("failed to open database connection: %v", err)
	}
	if err := probe.Ping(); err != nil {
		probe.Close()
		t.Skipf("skipping postgres tests: could not connect: %v", err)
	}
	probe.Close()

	store, err := NewPostgresStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func TestPostgresStoreStatusVocabulary(t *testing.T) {
	store := setupTestStore(t)

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		for _, name := range []string{"Available", "Checked Out", "On Hold", "Lost"} {
			status, err := tx.GetStatusByName(ctx, name)
			if err != nil {
				return fmt.Errorf("status %q: %w", name, err)
			}
			assert.Equal(t, name, status.Name)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestPostgresStoreCheckoutRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	assetID := uuid.New()
	cardID := uuid.New()

	err := store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		status, err := tx.GetStatusByName(ctx, "Available")
		if err != nil {
			return err
		}
		if err := tx.CreateAsset(ctx, &Asset{ID: assetID, Title: "The Trial", StatusID: status.ID}); err != nil {
			return err
		}
		return tx.CreateCard(ctx, &LibraryCard{ID: cardID})
	})
	require.NoError(t, err)

	since := time.Now().UTC().Truncate(time.Microsecond)
	err = store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.CreateCheckout(ctx, &Checkout{
			ID:      uuid.New(),
			AssetID: assetID,
			CardID:  cardID,
			Since:   since,
			Until:   since.Add(30 * 24 * time.Hour),
		})
	})
	require.NoError(t, err)

	err = store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		checkout, err := tx.GetCheckoutByAsset(ctx, assetID)
		if err != nil {
			return err
		}
		assert.Equal(t, cardID, checkout.CardID)
		assert.True(t, checkout.Since.Equal(since))
		return nil
	})
	require.NoError(t, err)

	// a second live checkout for the same asset violates the unique index
	err = store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.CreateCheckout(ctx, &Checkout{
			ID:      uuid.New(),
			AssetID: assetID,
			CardID:  cardID,
			Since:   since,
			Until:   since.Add(30 * 24 * time.Hour),
		})
	})
	assert.ErrorIs(t, err, ErrConflict)
}
