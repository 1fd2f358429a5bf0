package recordstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const txAttempts = 3

// PostgresStore implements Store against PostgreSQL with serializable
// transactions, so concurrent operations on the same asset cannot both
// observe stale ledger state.
type PostgresStore struct {
	db     *sql.DB
	tracer trace.Tracer
}

// NewPostgresStore connects, verifies the connection and applies the
// embedded migrations.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{
		db:     db,
		tracer: otel.Tracer("circulib/recordstore"),
	}, nil
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// WithinTx runs fn in a serializable transaction, retrying a bounded number
// of times when the database reports a serialization failure.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	ctx, span := s.tracer.Start(ctx, "recordstore.tx")
	defer span.End()

	var err error
	for attempt := 1; attempt <= txAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if !errors.Is(err, ErrConflict) {
			return err
		}
		span.AddEvent("tx.conflict", trace.WithAttributes(
			attribute.Int("attempt", attempt),
		))
	}

	span.SetAttributes(attribute.Bool("tx.exhausted", true))
	return err
}

func (s *PostgresStore) runTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &postgresTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapError(err)
	}
	return nil
}

// mapError converts driver errors into the store's sentinel vocabulary.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique violation
			return fmt.Errorf("%w: %s", ErrConflict, pqErr.Constraint)
		case "40001": // serialization failure
			return fmt.Errorf("%w: serialization failure", ErrConflict)
		}
	}
	return err
}

type postgresTx struct {
	tx *sql.Tx
}

func (t *postgresTx) GetAsset(ctx context.Context, id uuid.UUID) (*Asset, error) {
	query := `
		SELECT a.id, a.title, a.status_id, s.name
		FROM assets a
		JOIN statuses s ON s.id = a.status_id
		WHERE a.id = $1
	`
	asset := &Asset{}
	err := t.tx.QueryRowContext(ctx, query, id).Scan(
		&asset.ID,
		&asset.Title,
		&asset.StatusID,
		&asset.StatusName,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return asset, nil
}

func (t *postgresTx) CreateAsset(ctx context.Context, asset *Asset) error {
	query := `
		INSERT INTO assets (id, title, status_id)
		VALUES ($1, $2, $3)
	`
	_, err := t.tx.ExecContext(ctx, query, asset.ID, asset.Title, asset.StatusID)
	return mapError(err)
}

func (t *postgresTx) UpdateAssetStatus(ctx context.Context, assetID, statusID uuid.UUID) error {
	query := `
		UPDATE assets
		SET status_id = $1
		WHERE id = $2
	`
	res, err := t.tx.ExecContext(ctx, query, statusID, assetID)
	if err != nil {
		return mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *postgresTx) GetStatusByName(ctx context.Context, name string) (*Status, error) {
	query := `
		SELECT id, name
		FROM statuses
		WHERE name = $1
	`
	status := &Status{}
	if err := t.tx.QueryRowContext(ctx, query, name).Scan(&status.ID, &status.Name); err != nil {
		return nil, mapError(err)
	}
	return status, nil
}

func (t *postgresTx) CreateCheckout(ctx context.Context, checkout *Checkout) error {
	query := `
		INSERT INTO checkouts (id, asset_id, card_id, since, until)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := t.tx.ExecContext(ctx, query,
		checkout.ID, checkout.AssetID, checkout.CardID, checkout.Since, checkout.Until)
	return mapError(err)
}

func (t *postgresTx) DeleteCheckout(ctx context.Context, id uuid.UUID) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM checkouts WHERE id = $1`, id)
	return mapError(err)
}

func (t *postgresTx) GetCheckoutByAsset(ctx context.Context, assetID uuid.UUID) (*Checkout, error) {
	query := `
		SELECT id, asset_id, card_id, since, until
		FROM checkouts
		WHERE asset_id = $1
	`
	return t.scanCheckout(t.tx.QueryRowContext(ctx, query, assetID))
}

func (t *postgresTx) GetLatestCheckout(ctx context.Context, assetID uuid.UUID) (*Checkout, error) {
	query := `
		SELECT id, asset_id, card_id, since, until
		FROM checkouts
		WHERE asset_id = $1
		ORDER BY since DESC
		LIMIT 1
	`
	return t.scanCheckout(t.tx.QueryRowContext(ctx, query, assetID))
}

func (t *postgresTx) scanCheckout(row *sql.Row) (*Checkout, error) {
	checkout := &Checkout{}
	err := row.Scan(
		&checkout.ID,
		&checkout.AssetID,
		&checkout.CardID,
		&checkout.Since,
		&checkout.Until,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return checkout, nil
}

func (t *postgresTx) CreateHistory(ctx context.Context, history *CheckoutHistory) error {
	query := `
		INSERT INTO checkout_history (id, asset_id, card_id, checked_out, checked_in)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := t.tx.ExecContext(ctx, query,
		history.ID, history.AssetID, history.CardID, history.CheckedOut, history.CheckedIn)
	return mapError(err)
}

func (t *postgresTx) GetOpenHistory(ctx context.Context, assetID uuid.UUID) (*CheckoutHistory, error) {
	query := `
		SELECT id, asset_id, card_id, checked_out, checked_in
		FROM checkout_history
		WHERE asset_id = $1 AND checked_in IS NULL
	`
	history := &CheckoutHistory{}
	err := t.tx.QueryRowContext(ctx, query, assetID).Scan(
		&history.ID,
		&history.AssetID,
		&history.CardID,
		&history.CheckedOut,
		&history.CheckedIn,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return history, nil
}

func (t *postgresTx) CloseHistory(ctx context.Context, id uuid.UUID, checkedIn time.Time) error {
	query := `
		UPDATE checkout_history
		SET checked_in = $1
		WHERE id = $2
	`
	res, err := t.tx.ExecContext(ctx, query, checkedIn, id)
	if err != nil {
		return mapError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *postgresTx) ListHistoryByAsset(ctx context.Context, assetID uuid.UUID) ([]CheckoutHistory, error) {
	query := `
		SELECT id, asset_id, card_id, checked_out, checked_in
		FROM checkout_history
		WHERE asset_id = $1
		ORDER BY checked_out ASC
	`
	rows, err := t.tx.QueryContext(ctx, query, assetID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var entries []CheckoutHistory
	for rows.Next() {
		var entry CheckoutHistory
		err := rows.Scan(
			&entry.ID,
			&entry.AssetID,
			&entry.CardID,
			&entry.CheckedOut,
			&entry.CheckedIn,
		)
		if err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

func (t *postgresTx) CreateHold(ctx context.Context, hold *Hold) error {
	query := `
		INSERT INTO holds (id, asset_id, card_id, hold_placed)
		VALUES ($1, $2, $3, $4)
	`
	_, err := t.tx.ExecContext(ctx, query,
		hold.ID, hold.AssetID, hold.CardID, hold.HoldPlaced)
	return mapError(err)
}

func (t *postgresTx) DeleteHold(ctx context.Context, id uuid.UUID) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM holds WHERE id = $1`, id)
	return mapError(err)
}

func (t *postgresTx) GetHold(ctx context.Context, id uuid.UUID) (*Hold, error) {
	query := `
		SELECT id, asset_id, card_id, hold_placed
		FROM holds
		WHERE id = $1
	`
	hold := &Hold{}
	err := t.tx.QueryRowContext(ctx, query, id).Scan(
		&hold.ID,
		&hold.AssetID,
		&hold.CardID,
		&hold.HoldPlaced,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return hold, nil
}

func (t *postgresTx) ListHoldsByAsset(ctx context.Context, assetID uuid.UUID) ([]Hold, error) {
	// seq breaks ties between holds placed at the same instant, preserving
	// arrival order.
	query := `
		SELECT id, asset_id, card_id, hold_placed
		FROM holds
		WHERE asset_id = $1
		ORDER BY hold_placed ASC, seq ASC
	`
	rows, err := t.tx.QueryContext(ctx, query, assetID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var holds []Hold
	for rows.Next() {
		var hold Hold
		if err := rows.Scan(&hold.ID, &hold.AssetID, &hold.CardID, &hold.HoldPlaced); err != nil {
			return nil, fmt.Errorf("scan hold: %w", err)
		}
		holds = append(holds, hold)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate holds: %w", err)
	}
	return holds, nil
}

func (t *postgresTx) GetCard(ctx context.Context, id uuid.UUID) (*LibraryCard, error) {
	query := `
		SELECT id, fees_cents
		FROM library_cards
		WHERE id = $1
	`
	card := &LibraryCard{}
	if err := t.tx.QueryRowContext(ctx, query, id).Scan(&card.ID, &card.FeesCents); err != nil {
		return nil, mapError(err)
	}
	return card, nil
}

func (t *postgresTx) CreateCard(ctx context.Context, card *LibraryCard) error {
	query := `
		INSERT INTO library_cards (id, fees_cents)
		VALUES ($1, $2)
	`
	_, err := t.tx.ExecContext(ctx, query, card.ID, card.FeesCents)
	return mapError(err)
}

func (t *postgresTx) GetPatronByCard(ctx context.Context, cardID uuid.UUID) (*Patron, error) {
	query := `
		SELECT id, card_id, first_name, last_name
		FROM patrons
		WHERE card_id = $1
	`
	patron := &Patron{}
	err := t.tx.QueryRowContext(ctx, query, cardID).Scan(
		&patron.ID,
		&patron.CardID,
		&patron.FirstName,
		&patron.LastName,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return patron, nil
}

func (t *postgresTx) CreatePatron(ctx context.Context, patron *Patron) error {
	query := `
		INSERT INTO patrons (id, card_id, first_name, last_name)
		VALUES ($1, $2, $3, $4)
	`
	_, err := t.tx.ExecContext(ctx, query,
		patron.ID, patron.CardID, patron.FirstName, patron.LastName)
	return mapError(err)
}
