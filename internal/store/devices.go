package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"dealscout/deal-service/internal/model"
)

// ─── Interests ───────────────────────────────────────────────────────────────

// AddInterest stores a new interest and returns it with id and created_at.
func (s *Store) AddInterest(ctx context.Context, in model.UserInterest) (model.UserInterest, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO user_interests (device_id, category, keyword, priority)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		in.DeviceID, in.Category, in.Keyword, in.Priority,
	).Scan(&in.ID, &in.CreatedAt)
	if err != nil {
		return in, fmt.Errorf("add interest: %w", err)
	}
	return in, nil
}

// ListInterests returns a device's interests, highest priority first, then newest.
func (s *Store) ListInterests(ctx context.Context, deviceID string) ([]model.UserInterest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, device_id, category, keyword, priority, created_at
		 FROM user_interests
		 WHERE device_id = $1
		 ORDER BY priority DESC, created_at DESC, id DESC`,
		deviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list interests: %w", err)
	}
	defer rows.Close()

	out := make([]model.UserInterest, 0)
	for rows.Next() {
		var in model.UserInterest
		if err := rows.Scan(&in.ID, &in.DeviceID, &in.Category, &in.Keyword, &in.Priority, &in.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan interest: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// ─── Favorites ───────────────────────────────────────────────────────────────

const favoriteSelect = `SELECT f.id, f.device_id, f.deal_id, f.created_at, ` + dealColumns + `
	FROM favorite_deals f JOIN deals d ON d.id = f.deal_id`

func scanFavorite(row pgx.Row, f *model.FavoriteDeal) error {
	d := &f.Deal
	return row.Scan(
		&f.ID, &f.DeviceID, &f.DealID, &f.CreatedAt,
		&d.ID, &d.Title, &d.Marketplace, &d.Category, &d.Price, &d.OriginalPrice,
		&d.DiscountPercent, &d.ProductURL, &d.ImageURL, &d.IsActive, &d.CreatedAt, &d.UpdatedAt,
	)
}

// AddFavorite links deviceID to dealID. Adding an existing favorite returns
// the existing row unchanged.
func (s *Store) AddFavorite(ctx context.Context, deviceID string, dealID int64) (model.FavoriteDeal, error) {
	var f model.FavoriteDeal
	_, err := s.pool.Exec(ctx,
		`INSERT INTO favorite_deals (device_id, deal_id)
		 VALUES ($1, $2)
		 ON CONFLICT ON CONSTRAINT uq_device_favorite_deal DO NOTHING`,
		deviceID, dealID,
	)
	if isForeignKeyViolation(err) {
		return f, ErrNotFound
	}
	if err != nil {
		return f, fmt.Errorf("add favorite: %w", err)
	}

	err = scanFavorite(s.pool.QueryRow(ctx,
		favoriteSelect+` WHERE f.device_id = $1 AND f.deal_id = $2`,
		deviceID, dealID,
	), &f)
	if errors.Is(err, pgx.ErrNoRows) {
		return f, ErrNotFound
	}
	if err != nil {
		return f, fmt.Errorf("read favorite: %w", err)
	}
	return f, nil
}

// ListFavorites returns a device's favorites with their deals, newest first.
func (s *Store) ListFavorites(ctx context.Context, deviceID string) ([]model.FavoriteDeal, error) {
	rows, err := s.pool.Query(ctx,
		favoriteSelect+` WHERE f.device_id = $1 ORDER BY f.created_at DESC, f.id DESC`,
		deviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	defer rows.Close()

	out := make([]model.FavoriteDeal, 0)
	for rows.Next() {
		var f model.FavoriteDeal
		if err := scanFavorite(rows, &f); err != nil {
			return nil, fmt.Errorf("scan favorite: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// RemoveFavorite deletes a favorite. It returns ErrNotFound if there was none.
func (s *Store) RemoveFavorite(ctx context.Context, deviceID string, dealID int64) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM favorite_deals WHERE device_id = $1 AND deal_id = $2`,
		deviceID, dealID,
	)
	if err != nil {
		return fmt.Errorf("remove favorite: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ─── Alerts ──────────────────────────────────────────────────────────────────

const alertColumns = `id, device_id, alert_type, query, min_discount, is_enabled,
	last_triggered_at, created_at, updated_at`

func scanAlert(row pgx.Row, a *model.DealAlert) error {
	return row.Scan(
		&a.ID, &a.DeviceID, &a.AlertType, &a.Query, &a.MinDiscount, &a.IsEnabled,
		&a.LastTriggeredAt, &a.CreatedAt, &a.UpdatedAt,
	)
}

// AlertPatch holds the optional fields of an alert update.
type AlertPatch struct {
	MinDiscount *int
	IsEnabled   *bool
}

// CreateAlert stores a new alert.
func (s *Store) CreateAlert(ctx context.Context, a model.DealAlert) (model.DealAlert, error) {
	var out model.DealAlert
	err := scanAlert(s.pool.QueryRow(ctx,
		`INSERT INTO deal_alerts (device_id, alert_type, query, min_discount, is_enabled)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+alertColumns,
		a.DeviceID, a.AlertType, a.Query, a.MinDiscount, a.IsEnabled,
	), &out)
	if err != nil {
		return out, fmt.Errorf("create alert: %w", err)
	}
	return out, nil
}

// ListAlerts returns a device's alerts, newest first.
func (s *Store) ListAlerts(ctx context.Context, deviceID string) ([]model.DealAlert, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+alertColumns+` FROM deal_alerts
		 WHERE device_id = $1
		 ORDER BY created_at DESC, id DESC`,
		deviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	out := make([]model.DealAlert, 0)
	for rows.Next() {
		var a model.DealAlert
		if err := scanAlert(rows, &a); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateAlert applies p to an alert. When the alert ends up enabled its
// last_triggered_at is stamped with the current time.
func (s *Store) UpdateAlert(ctx context.Context, id int64, p AlertPatch) (model.DealAlert, error) {
	var out model.DealAlert
	err := scanAlert(s.pool.QueryRow(ctx,
		`UPDATE deal_alerts
		 SET min_discount      = COALESCE($2, min_discount),
		     is_enabled        = COALESCE($3, is_enabled),
		     last_triggered_at = CASE WHEN COALESCE($3, is_enabled) THEN NOW() ELSE last_triggered_at END,
		     updated_at        = NOW()
		 WHERE id = $1
		 RETURNING `+alertColumns,
		id, p.MinDiscount, p.IsEnabled,
	), &out)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, ErrNotFound
	}
	if err != nil {
		return out, fmt.Errorf("update alert %d: %w", id, err)
	}
	return out, nil
}

// ─── Shares ──────────────────────────────────────────────────────────────────

// CreateShare records a shared deal.
func (s *Store) CreateShare(ctx context.Context, sh model.SharedDeal) (model.SharedDeal, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO shared_deals (device_id, deal_id, channel, message)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		sh.DeviceID, sh.DealID, sh.Channel, sh.Message,
	).Scan(&sh.ID, &sh.CreatedAt)
	if isForeignKeyViolation(err) {
		return sh, ErrNotFound
	}
	if err != nil {
		return sh, fmt.Errorf("create share: %w", err)
	}
	return sh, nil
}

// isForeignKeyViolation reports a referenced deal that vanished between the
// caller's existence check and the insert.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
