// Package store is the Postgres repository for deals and the per-device
// tables (interests, favorites, alerts, shares).
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dealscout/deal-service/internal/ingest"
	"dealscout/deal-service/internal/model"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// mergeLockKey serializes deal merges across processes.
const mergeLockKey int64 = 0x6465616c73

// Store implements the repository on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// New returns a Store backed by pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// InTx runs fn in one transaction holding the merge advisory lock, so
// concurrent merges cannot both insert the same (title, marketplace).
func (s *Store) InTx(ctx context.Context, fn func(w ingest.DealWriter) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, mergeLockKey); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	if err = fn(&dealTx{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// dealTx is the ingest.DealWriter bound to one transaction.
type dealTx struct {
	tx pgx.Tx
}

func (t *dealTx) FindDealID(ctx context.Context, title, marketplace string) (int64, bool, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`SELECT id FROM deals WHERE title = $1 AND marketplace = $2 ORDER BY id LIMIT 1`,
		title, marketplace,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (t *dealTx) UpdateDeal(ctx context.Context, id int64, f model.DealFields) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE deals
		 SET category         = $1,
		     price            = $2,
		     original_price   = $3,
		     discount_percent = $4,
		     product_url      = $5,
		     image_url        = $6,
		     is_active        = TRUE,
		     updated_at       = NOW()
		 WHERE id = $7`,
		f.Category, f.Price, f.OriginalPrice, f.DiscountPercent, f.ProductURL, f.ImageURL, id,
	)
	return err
}

func (t *dealTx) InsertDeal(ctx context.Context, f model.DealFields) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO deals (title, marketplace, category, price, original_price,
		                    discount_percent, product_url, image_url, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)
		 RETURNING id`,
		f.Title, f.Marketplace, f.Category, f.Price, f.OriginalPrice,
		f.DiscountPercent, f.ProductURL, f.ImageURL,
	).Scan(&id)
	return id, err
}
