package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"dealscout/deal-service/internal/model"
)

const dealColumns = `d.id, d.title, d.marketplace, d.category, d.price, d.original_price,
	d.discount_percent, d.product_url, d.image_url, d.is_active, d.created_at, d.updated_at`

// SearchFilter selects active deals. Empty strings disable their filter.
type SearchFilter struct {
	Query       string // case-insensitive substring of the title
	Category    string
	Marketplace string
	MinDiscount int
	Limit       int
}

func scanDeal(row pgx.Row, d *model.Deal) error {
	return row.Scan(
		&d.ID, &d.Title, &d.Marketplace, &d.Category, &d.Price, &d.OriginalPrice,
		&d.DiscountPercent, &d.ProductURL, &d.ImageURL, &d.IsActive, &d.CreatedAt, &d.UpdatedAt,
	)
}

func collectDeals(rows pgx.Rows) ([]model.Deal, error) {
	defer rows.Close()
	deals := make([]model.Deal, 0)
	for rows.Next() {
		var d model.Deal
		if err := scanDeal(rows, &d); err != nil {
			return nil, fmt.Errorf("scan deal: %w", err)
		}
		deals = append(deals, d)
	}
	return deals, rows.Err()
}

// SearchDeals returns active deals matching f, highest discount first.
func (s *Store) SearchDeals(ctx context.Context, f SearchFilter) ([]model.Deal, error) {
	where := []string{"d.is_active = TRUE", "d.discount_percent >= $1"}
	args := []any{f.MinDiscount}

	if f.Query != "" {
		args = append(args, "%"+escapeLike(f.Query)+"%")
		where = append(where, fmt.Sprintf("d.title ILIKE $%d", len(args)))
	}
	if f.Category != "" {
		args = append(args, f.Category)
		where = append(where, fmt.Sprintf("d.category = $%d", len(args)))
	}
	if f.Marketplace != "" {
		args = append(args, f.Marketplace)
		where = append(where, fmt.Sprintf("d.marketplace = $%d", len(args)))
	}
	args = append(args, f.Limit)

	sql := `SELECT ` + dealColumns + ` FROM deals d WHERE ` + strings.Join(where, " AND ") +
		fmt.Sprintf(` ORDER BY d.discount_percent DESC, d.id ASC LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("search deals: %w", err)
	}
	return collectDeals(rows)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Categories returns every distinct deal category in ascending order.
func (s *Store) Categories(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT category FROM deals ORDER BY category ASC`)
	if err != nil {
		return nil, fmt.Errorf("categories: %w", err)
	}
	cats, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("categories: %w", err)
	}
	return cats, nil
}

// GetDeal returns one deal by id, active or not.
func (s *Store) GetDeal(ctx context.Context, id int64) (model.Deal, error) {
	var d model.Deal
	err := scanDeal(s.pool.QueryRow(ctx, `SELECT `+dealColumns+` FROM deals d WHERE d.id = $1`, id), &d)
	if errors.Is(err, pgx.ErrNoRows) {
		return d, ErrNotFound
	}
	if err != nil {
		return d, fmt.Errorf("get deal %d: %w", id, err)
	}
	return d, nil
}

// DealsByIDs returns the given deals, highest discount first.
func (s *Store) DealsByIDs(ctx context.Context, ids []int64) ([]model.Deal, error) {
	if len(ids) == 0 {
		return []model.Deal{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+dealColumns+` FROM deals d
		 WHERE d.id = ANY($1)
		 ORDER BY d.discount_percent DESC, d.id ASC`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("deals by ids: %w", err)
	}
	return collectDeals(rows)
}

// ActiveDeals returns every active deal ordered by id. The order is the
// tie-break order used by the ranker.
func (s *Store) ActiveDeals(ctx context.Context) ([]model.Deal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+dealColumns+` FROM deals d WHERE d.is_active = TRUE ORDER BY d.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("active deals: %w", err)
	}
	return collectDeals(rows)
}
