package ingest

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"dealscout/deal-service/internal/logging"
	"dealscout/deal-service/internal/metrics"
	"dealscout/deal-service/internal/model"
)

// DealWriter is the view of the deals table the merger needs inside a
// transaction.
type DealWriter interface {
	// FindDealID looks a deal up by its identity (exact title, marketplace).
	FindDealID(ctx context.Context, title, marketplace string) (id int64, found bool, err error)
	// UpdateDeal overwrites the mutable fields of a deal and reactivates it.
	UpdateDeal(ctx context.Context, id int64, f model.DealFields) error
	// InsertDeal creates an active deal and returns its id.
	InsertDeal(ctx context.Context, f model.DealFields) (int64, error)
}

// TxRunner runs fn inside a single transaction, committing when fn returns
// nil and rolling back otherwise.
type TxRunner interface {
	InTx(ctx context.Context, fn func(w DealWriter) error) error
}

// Merger upserts normalized deals by identity.
type Merger struct {
	tx  TxRunner
	log zerolog.Logger
}

// NewMerger constructs a Merger.
func NewMerger(tx TxRunner) *Merger {
	return &Merger{tx: tx, log: logging.With("merger")}
}

// Merge writes at most bound deals in one transaction. A deal whose
// (title, marketplace) already exists is updated and reactivated; any other
// is inserted. It returns the touched ids in processing order, each once.
// On error nothing is written.
func (m *Merger) Merge(ctx context.Context, deals []model.DealFields, bound int) ([]int64, error) {
	if bound >= 0 && len(deals) > bound {
		deals = deals[:bound]
	}

	var ids []int64
	var inserted, updated int

	err := m.tx.InTx(ctx, func(w DealWriter) error {
		ids = make([]int64, 0, len(deals))
		inserted, updated = 0, 0
		seen := make(map[int64]struct{}, len(deals))

		for _, d := range deals {
			id, found, err := w.FindDealID(ctx, d.Title, d.Marketplace)
			if err != nil {
				return fmt.Errorf("find %q/%s: %w", d.Title, d.Marketplace, err)
			}

			if found {
				if err := w.UpdateDeal(ctx, id, d); err != nil {
					return fmt.Errorf("update deal %d: %w", id, err)
				}
				updated++
			} else {
				id, err = w.InsertDeal(ctx, d)
				if err != nil {
					return fmt.Errorf("insert %q/%s: %w", d.Title, d.Marketplace, err)
				}
				inserted++
			}

			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("merge deals: %w", err)
	}

	metrics.DealsMerged.WithLabelValues("insert").Add(float64(inserted))
	metrics.DealsMerged.WithLabelValues("update").Add(float64(updated))
	m.log.Info().Int("inserted", inserted).Int("updated", updated).Int("touched", len(ids)).Msg("deals merged")
	return ids, nil
}
