// Package deals contains the use cases of the deal service. It is
// transport-agnostic: the HTTP handler and the scheduler both drive it.
package deals

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dealscout/deal-service/internal/gateway"
	"dealscout/deal-service/internal/ingest"
	"dealscout/deal-service/internal/logging"
	"dealscout/deal-service/internal/metrics"
	"dealscout/deal-service/internal/model"
	"dealscout/deal-service/internal/ranking"
	"dealscout/deal-service/internal/store"
)

const (
	DefaultSearchLimit  = 40
	MaxSearchLimit      = 100
	DefaultRefreshLimit = 18
	MinRefreshLimit     = 3
	MaxRefreshLimit     = 50
	DefaultMinDiscount  = 10 // alerts

	// EventDealsRefreshed is published after every refresh.
	EventDealsRefreshed = "EVENT_DEALS_REFRESHED"

	TriggerAPI      = "api"
	TriggerSchedule = "schedule"
)

// ─── Collaborators ───────────────────────────────────────────────────────────

// Store is the persistence the service needs. *store.Store implements it.
type Store interface {
	SearchDeals(ctx context.Context, f store.SearchFilter) ([]model.Deal, error)
	Categories(ctx context.Context) ([]string, error)
	GetDeal(ctx context.Context, id int64) (model.Deal, error)
	DealsByIDs(ctx context.Context, ids []int64) ([]model.Deal, error)
	ActiveDeals(ctx context.Context) ([]model.Deal, error)

	AddInterest(ctx context.Context, in model.UserInterest) (model.UserInterest, error)
	ListInterests(ctx context.Context, deviceID string) ([]model.UserInterest, error)

	AddFavorite(ctx context.Context, deviceID string, dealID int64) (model.FavoriteDeal, error)
	ListFavorites(ctx context.Context, deviceID string) ([]model.FavoriteDeal, error)
	RemoveFavorite(ctx context.Context, deviceID string, dealID int64) error

	CreateAlert(ctx context.Context, a model.DealAlert) (model.DealAlert, error)
	ListAlerts(ctx context.Context, deviceID string) ([]model.DealAlert, error)
	UpdateAlert(ctx context.Context, id int64, p store.AlertPatch) (model.DealAlert, error)

	CreateShare(ctx context.Context, sh model.SharedDeal) (model.SharedDeal, error)
}

// Fetcher asks the upstream for raw deal candidates.
type Fetcher interface {
	Fetch(ctx context.Context, req gateway.Request) (gateway.Result, error)
}

// Merger writes normalized deals and returns the touched ids.
type Merger interface {
	Merge(ctx context.Context, deals []model.DealFields, bound int) ([]int64, error)
}

// Service encapsulates the deal use cases.
type Service struct {
	store  Store
	gw     Fetcher
	merger Merger
	events Publisher
	cache  RecommendationCache
	log    zerolog.Logger
}

// NewService returns a configured Service. events and cache may be nil.
func NewService(st Store, gw Fetcher, merger Merger, events Publisher, cache RecommendationCache) *Service {
	if events == nil {
		events = nopPublisher{}
	}
	if cache == nil {
		cache = nopCache{}
	}
	return &Service{
		store:  st,
		gw:     gw,
		merger: merger,
		events: events,
		cache:  cache,
		log:    logging.With("deals"),
	}
}

// ─── Search ──────────────────────────────────────────────────────────────────

// SearchParams filters active deals. Zero values mean "no filter", except
// Limit which defaults to DefaultSearchLimit.
type SearchParams struct {
	Query       string
	Category    string
	Marketplace string
	MinDiscount int
	Limit       int
}

// DealList is a list of deals with its length, as returned by search and
// refresh.
type DealList struct {
	Deals []model.Deal `json:"deals"`
	Total int          `json:"total"`
}

// Search returns active deals matching p, highest discount first.
func (s *Service) Search(ctx context.Context, p SearchParams) (DealList, error) {
	if p.Limit == 0 {
		p.Limit = DefaultSearchLimit
	}
	if p.Limit < 1 || p.Limit > MaxSearchLimit {
		return DealList{}, &ValidationError{Msg: fmt.Sprintf("limit must be between 1 and %d", MaxSearchLimit)}
	}
	if p.MinDiscount < 0 || p.MinDiscount > ingest.MaxDiscountPct {
		return DealList{}, &ValidationError{Msg: fmt.Sprintf("min_discount must be between 0 and %d", ingest.MaxDiscountPct)}
	}

	deals, err := s.store.SearchDeals(ctx, store.SearchFilter{
		Query:       strings.TrimSpace(p.Query),
		Category:    strings.TrimSpace(p.Category),
		Marketplace: strings.TrimSpace(p.Marketplace),
		MinDiscount: p.MinDiscount,
		Limit:       p.Limit,
	})
	if err != nil {
		return DealList{}, err
	}
	return DealList{Deals: deals, Total: len(deals)}, nil
}

// Categories returns every known category in ascending order.
func (s *Service) Categories(ctx context.Context) ([]string, error) {
	return s.store.Categories(ctx)
}

// ─── Refresh ─────────────────────────────────────────────────────────────────

// RefreshParams drives one refresh. An empty Trigger means TriggerAPI.
type RefreshParams struct {
	Query      string
	Categories []string
	Limit      int
	Trigger    string
}

// RefreshResult is the refreshed set plus where it came from.
type RefreshResult struct {
	DealList
	Source gateway.Source `json:"source"`
	Reason string         `json:"-"`
}

// Refresh pulls deals from the gateway (or the fallback catalog), merges
// them and returns exactly the touched deals, highest discount first.
func (s *Service) Refresh(ctx context.Context, p RefreshParams) (RefreshResult, error) {
	if p.Limit == 0 {
		p.Limit = DefaultRefreshLimit
	}
	if p.Limit < MinRefreshLimit || p.Limit > MaxRefreshLimit {
		return RefreshResult{}, &ValidationError{
			Msg: fmt.Sprintf("limit must be between %d and %d", MinRefreshLimit, MaxRefreshLimit),
		}
	}
	if p.Trigger == "" {
		p.Trigger = TriggerAPI
	}

	res, err := s.gw.Fetch(ctx, gateway.Request{
		Query:      strings.TrimSpace(p.Query),
		Categories: p.Categories,
		Limit:      p.Limit,
	})
	if err != nil {
		return RefreshResult{}, err
	}

	ids, err := s.merger.Merge(ctx, ingest.NormalizeAll(res.Deals, p.Limit), p.Limit)
	if err != nil {
		return RefreshResult{}, err
	}

	deals, err := s.store.DealsByIDs(ctx, ids)
	if err != nil {
		return RefreshResult{}, err
	}

	metrics.RefreshRuns.WithLabelValues(string(res.Source), p.Trigger).Inc()
	s.log.Info().
		Str("source", string(res.Source)).
		Str("reason", res.Reason).
		Str("trigger", p.Trigger).
		Int("count", len(deals)).
		Msg("deals refreshed")

	if err := s.cache.InvalidateAll(ctx); err != nil {
		s.log.Warn().Err(err).Msg("invalidate recommendation cache failed")
	}
	s.publish(ctx, EventDealsRefreshed, map[string]any{
		"type":    EventDealsRefreshed,
		"runId":   uuid.NewString(),
		"source":  string(res.Source),
		"trigger": p.Trigger,
		"count":   len(deals),
	})

	return RefreshResult{
		DealList: DealList{Deals: deals, Total: len(deals)},
		Source:   res.Source,
		Reason:   res.Reason,
	}, nil
}

// publish sends an event. Failures are logged and otherwise ignored.
func (s *Service) publish(ctx context.Context, channel string, payload any) {
	if err := s.events.Publish(ctx, channel, payload); err != nil {
		s.log.Warn().Err(err).Str("channel", channel).Msg("publish event failed")
	}
}

// ─── Favorites ───────────────────────────────────────────────────────────────

// AddFavorite marks a deal as a favorite of deviceID. Adding it twice
// returns the existing favorite.
func (s *Service) AddFavorite(ctx context.Context, deviceID string, dealID int64) (model.FavoriteDeal, error) {
	if err := requireDevice(deviceID); err != nil {
		return model.FavoriteDeal{}, err
	}
	if _, err := s.store.GetDeal(ctx, dealID); err != nil {
		return model.FavoriteDeal{}, notFound(err, "Deal")
	}

	fav, err := s.store.AddFavorite(ctx, deviceID, dealID)
	if err != nil {
		return model.FavoriteDeal{}, notFound(err, "Deal")
	}
	s.invalidate(ctx, deviceID)
	return fav, nil
}

// ListFavorites returns the favorites of deviceID, newest first.
func (s *Service) ListFavorites(ctx context.Context, deviceID string) ([]model.FavoriteDeal, error) {
	return s.store.ListFavorites(ctx, deviceID)
}

// RemoveFavorite deletes one favorite.
func (s *Service) RemoveFavorite(ctx context.Context, deviceID string, dealID int64) error {
	if err := s.store.RemoveFavorite(ctx, deviceID, dealID); err != nil {
		return notFound(err, "Favorite deal")
	}
	s.invalidate(ctx, deviceID)
	return nil
}

// ─── Interests ───────────────────────────────────────────────────────────────

// AddInterest stores a declared interest. Priority 0 means 1.
func (s *Service) AddInterest(ctx context.Context, in model.UserInterest) (model.UserInterest, error) {
	if err := requireDevice(in.DeviceID); err != nil {
		return model.UserInterest{}, err
	}
	if in.Priority == 0 {
		in.Priority = 1
	}
	if in.Priority < 1 || in.Priority > 5 {
		return model.UserInterest{}, &ValidationError{Msg: "priority must be between 1 and 5"}
	}

	out, err := s.store.AddInterest(ctx, in)
	if err != nil {
		return model.UserInterest{}, err
	}
	s.invalidate(ctx, in.DeviceID)
	return out, nil
}

// ListInterests returns the interests of deviceID, highest priority first.
func (s *Service) ListInterests(ctx context.Context, deviceID string) ([]model.UserInterest, error) {
	return s.store.ListInterests(ctx, deviceID)
}

// ─── Alerts ──────────────────────────────────────────────────────────────────

// CreateAlert stores a new alert.
func (s *Service) CreateAlert(ctx context.Context, a model.DealAlert) (model.DealAlert, error) {
	if err := requireDevice(a.DeviceID); err != nil {
		return model.DealAlert{}, err
	}
	if a.MinDiscount < 0 || a.MinDiscount > ingest.MaxDiscountPct {
		return model.DealAlert{}, &ValidationError{Msg: fmt.Sprintf("min_discount must be between 0 and %d", ingest.MaxDiscountPct)}
	}
	return s.store.CreateAlert(ctx, a)
}

// ListAlerts returns the alerts of deviceID, newest first.
func (s *Service) ListAlerts(ctx context.Context, deviceID string) ([]model.DealAlert, error) {
	return s.store.ListAlerts(ctx, deviceID)
}

// UpdateAlert applies a partial update to an alert.
func (s *Service) UpdateAlert(ctx context.Context, id int64, p store.AlertPatch) (model.DealAlert, error) {
	if p.MinDiscount != nil && (*p.MinDiscount < 0 || *p.MinDiscount > ingest.MaxDiscountPct) {
		return model.DealAlert{}, &ValidationError{Msg: fmt.Sprintf("min_discount must be between 0 and %d", ingest.MaxDiscountPct)}
	}
	a, err := s.store.UpdateAlert(ctx, id, p)
	if err != nil {
		return model.DealAlert{}, notFound(err, "Alert")
	}
	return a, nil
}

// ─── Recommendations ─────────────────────────────────────────────────────────

// Recommendations is the ranked deal list for one device.
type Recommendations struct {
	DeviceID        string       `json:"device_id"`
	Recommendations []model.Deal `json:"recommendations"`
}

// Recommendations ranks active deals for deviceID. Results are cached until
// the next refresh or a change to the device's favorites or interests.
func (s *Service) Recommendations(ctx context.Context, deviceID string) (Recommendations, error) {
	start := time.Now()
	defer func() { metrics.RecommendationDuration.Observe(time.Since(start).Seconds()) }()

	if cached, ok, err := s.cache.Get(ctx, deviceID); err != nil {
		s.log.Warn().Err(err).Str("device_id", deviceID).Msg("recommendation cache read failed")
	} else if ok {
		metrics.RecommendationCache.WithLabelValues("hit").Inc()
		return Recommendations{DeviceID: deviceID, Recommendations: cached}, nil
	}
	metrics.RecommendationCache.WithLabelValues("miss").Inc()

	// Read before the store so an invalidation racing the reads voids the write.
	version, err := s.cache.Version(ctx, deviceID)
	if err != nil {
		s.log.Warn().Err(err).Str("device_id", deviceID).Msg("recommendation cache version read failed")
	}

	interests, err := s.store.ListInterests(ctx, deviceID)
	if err != nil {
		return Recommendations{}, err
	}
	favorites, err := s.store.ListFavorites(ctx, deviceID)
	if err != nil {
		return Recommendations{}, err
	}
	active, err := s.store.ActiveDeals(ctx)
	if err != nil {
		return Recommendations{}, err
	}

	ranked := ranking.Rank(interests, ranking.FavoriteSet(favorites), active, ranking.DefaultTopK)

	if version != "" {
		if err := s.cache.Set(ctx, deviceID, version, ranked); err != nil {
			s.log.Warn().Err(err).Str("device_id", deviceID).Msg("recommendation cache write failed")
		}
	}
	return Recommendations{DeviceID: deviceID, Recommendations: ranked}, nil
}

func (s *Service) invalidate(ctx context.Context, deviceID string) {
	if err := s.cache.Invalidate(ctx, deviceID); err != nil {
		s.log.Warn().Err(err).Str("device_id", deviceID).Msg("invalidate recommendation cache failed")
	}
}

// ─── Share ───────────────────────────────────────────────────────────────────

// Share records that deviceID shared a deal over a channel.
func (s *Service) Share(ctx context.Context, sh model.SharedDeal) (model.SharedDeal, error) {
	if err := requireDevice(sh.DeviceID); err != nil {
		return model.SharedDeal{}, err
	}
	if _, err := s.store.GetDeal(ctx, sh.DealID); err != nil {
		return model.SharedDeal{}, notFound(err, "Deal")
	}
	out, err := s.store.CreateShare(ctx, sh)
	if err != nil {
		return model.SharedDeal{}, notFound(err, "Deal")
	}
	return out, nil
}

// ─── Errors ──────────────────────────────────────────────────────────────────

// ErrNotFound matches every *NotFoundError.
var ErrNotFound = errors.New("not found")

// NotFoundError names the entity that does not exist.
type NotFoundError struct{ Entity string }

func (e *NotFoundError) Error() string        { return e.Entity + " not found" }
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ValidationError wraps a user-facing validation message.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

func notFound(err error, entity string) error {
	if errors.Is(err, store.ErrNotFound) {
		return &NotFoundError{Entity: entity}
	}
	return err
}

func requireDevice(deviceID string) error {
	if strings.TrimSpace(deviceID) == "" {
		return &ValidationError{Msg: "device_id is required"}
	}
	return nil
}
