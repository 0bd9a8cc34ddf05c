package deals

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"dealscout/deal-service/internal/gateway"
	"dealscout/deal-service/internal/ingest"
	"dealscout/deal-service/internal/model"
	"dealscout/deal-service/internal/store"
)

// fakeStore is an in-memory Store and ingest.TxRunner. Writes inside InTx
// apply directly; tests here do not exercise rollback.
type fakeStore struct {
	mu        sync.Mutex
	deals     []model.Deal
	interests []model.UserInterest
	favorites []model.FavoriteDeal
	alerts    []model.DealAlert
	shares    []model.SharedDeal
	nextID    int64
	now       time.Time

	// beforeActiveDeals runs at the start of ActiveDeals, outside the lock.
	beforeActiveDeals func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{nextID: 1, now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (s *fakeStore) id() int64 {
	id := s.nextID
	s.nextID++
	return id
}

// tick returns strictly increasing timestamps so "newest first" is stable.
func (s *fakeStore) tick() time.Time {
	s.now = s.now.Add(time.Second)
	return s.now
}

func (s *fakeStore) seed(f model.DealFields, active bool) model.Deal {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := model.Deal{ID: s.id(), DealFields: f, IsActive: active, CreatedAt: s.tick()}
	d.UpdatedAt = d.CreatedAt
	s.deals = append(s.deals, d)
	return d
}

func (s *fakeStore) dealByID(id int64) (model.Deal, bool) {
	for _, d := range s.deals {
		if d.ID == id {
			return d, true
		}
	}
	return model.Deal{}, false
}

// ─── deals ───

func (s *fakeStore) SearchDeals(_ context.Context, f store.SearchFilter) ([]model.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Deal, 0)
	for _, d := range s.deals {
		if !d.IsActive || d.DiscountPercent < f.MinDiscount {
			continue
		}
		if f.Query != "" && !strings.Contains(strings.ToLower(d.Title), strings.ToLower(f.Query)) {
			continue
		}
		if f.Category != "" && d.Category != f.Category {
			continue
		}
		if f.Marketplace != "" && d.Marketplace != f.Marketplace {
			continue
		}
		out = append(out, d)
	}
	sortByDiscount(out)
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func sortByDiscount(deals []model.Deal) {
	sort.SliceStable(deals, func(i, j int) bool {
		if deals[i].DiscountPercent != deals[j].DiscountPercent {
			return deals[i].DiscountPercent > deals[j].DiscountPercent
		}
		return deals[i].ID < deals[j].ID
	})
}

func (s *fakeStore) Categories(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]struct{}{}
	out := make([]string, 0)
	for _, d := range s.deals {
		if _, ok := seen[d.Category]; !ok {
			seen[d.Category] = struct{}{}
			out = append(out, d.Category)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *fakeStore) GetDeal(_ context.Context, id int64) (model.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.dealByID(id); ok {
		return d, nil
	}
	return model.Deal{}, store.ErrNotFound
}

func (s *fakeStore) DealsByIDs(_ context.Context, ids []int64) ([]model.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Deal, 0, len(ids))
	for _, id := range ids {
		if d, ok := s.dealByID(id); ok {
			out = append(out, d)
		}
	}
	sortByDiscount(out)
	return out, nil
}

func (s *fakeStore) ActiveDeals(context.Context) ([]model.Deal, error) {
	if hook := s.beforeActiveDeals; hook != nil {
		s.beforeActiveDeals = nil
		hook()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Deal, 0)
	for _, d := range s.deals {
		if d.IsActive {
			out = append(out, d)
		}
	}
	return out, nil
}

// ─── merge writer ───

func (s *fakeStore) InTx(ctx context.Context, fn func(w ingest.DealWriter) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(fakeWriter{s})
}

type fakeWriter struct{ s *fakeStore }

func (w fakeWriter) FindDealID(_ context.Context, title, marketplace string) (int64, bool, error) {
	for _, d := range w.s.deals {
		if d.Title == title && d.Marketplace == marketplace {
			return d.ID, true, nil
		}
	}
	return 0, false, nil
}

func (w fakeWriter) UpdateDeal(_ context.Context, id int64, f model.DealFields) error {
	for i := range w.s.deals {
		if w.s.deals[i].ID == id {
			f.Title, f.Marketplace = w.s.deals[i].Title, w.s.deals[i].Marketplace
			w.s.deals[i].DealFields = f
			w.s.deals[i].IsActive = true
			w.s.deals[i].UpdatedAt = w.s.tick()
		}
	}
	return nil
}

func (w fakeWriter) InsertDeal(_ context.Context, f model.DealFields) (int64, error) {
	d := model.Deal{ID: w.s.id(), DealFields: f, IsActive: true, CreatedAt: w.s.tick()}
	d.UpdatedAt = d.CreatedAt
	w.s.deals = append(w.s.deals, d)
	return d.ID, nil
}

// ─── interests ───

func (s *fakeStore) AddInterest(_ context.Context, in model.UserInterest) (model.UserInterest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in.ID, in.CreatedAt = s.id(), s.tick()
	s.interests = append(s.interests, in)
	return in, nil
}

func (s *fakeStore) ListInterests(_ context.Context, deviceID string) ([]model.UserInterest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.UserInterest, 0)
	for _, in := range s.interests {
		if in.DeviceID == deviceID {
			out = append(out, in)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ─── favorites ───

func (s *fakeStore) AddFavorite(_ context.Context, deviceID string, dealID int64) (model.FavoriteDeal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dealByID(dealID)
	if !ok {
		return model.FavoriteDeal{}, store.ErrNotFound
	}
	for _, f := range s.favorites {
		if f.DeviceID == deviceID && f.DealID == dealID {
			f.Deal = d
			return f, nil
		}
	}
	f := model.FavoriteDeal{ID: s.id(), DeviceID: deviceID, DealID: dealID, CreatedAt: s.tick(), Deal: d}
	s.favorites = append(s.favorites, f)
	return f, nil
}

func (s *fakeStore) ListFavorites(_ context.Context, deviceID string) ([]model.FavoriteDeal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.FavoriteDeal, 0)
	for i := len(s.favorites) - 1; i >= 0; i-- {
		f := s.favorites[i]
		if f.DeviceID == deviceID {
			f.Deal, _ = s.dealByID(f.DealID)
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *fakeStore) RemoveFavorite(_ context.Context, deviceID string, dealID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, f := range s.favorites {
		if f.DeviceID == deviceID && f.DealID == dealID {
			s.favorites = append(s.favorites[:i], s.favorites[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

// ─── alerts ───

func (s *fakeStore) CreateAlert(_ context.Context, a model.DealAlert) (model.DealAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID, a.CreatedAt = s.id(), s.tick()
	a.UpdatedAt = a.CreatedAt
	s.alerts = append(s.alerts, a)
	return a, nil
}

func (s *fakeStore) ListAlerts(_ context.Context, deviceID string) ([]model.DealAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.DealAlert, 0)
	for i := len(s.alerts) - 1; i >= 0; i-- {
		if s.alerts[i].DeviceID == deviceID {
			out = append(out, s.alerts[i])
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateAlert(_ context.Context, id int64, p store.AlertPatch) (model.DealAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.alerts {
		a := &s.alerts[i]
		if a.ID != id {
			continue
		}
		if p.MinDiscount != nil {
			a.MinDiscount = *p.MinDiscount
		}
		if p.IsEnabled != nil {
			a.IsEnabled = *p.IsEnabled
		}
		a.UpdatedAt = s.tick()
		if a.IsEnabled {
			t := a.UpdatedAt
			a.LastTriggeredAt = &t
		}
		return *a, nil
	}
	return model.DealAlert{}, store.ErrNotFound
}

// ─── shares ───

func (s *fakeStore) CreateShare(_ context.Context, sh model.SharedDeal) (model.SharedDeal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dealByID(sh.DealID); !ok {
		return model.SharedDeal{}, store.ErrNotFound
	}
	sh.ID, sh.CreatedAt = s.id(), s.tick()
	s.shares = append(s.shares, sh)
	return sh, nil
}

// ─── collaborators ───

type fakeFetcher struct {
	result gateway.Result
	err    error
	calls  []gateway.Request
}

func (f *fakeFetcher) Fetch(_ context.Context, req gateway.Request) (gateway.Result, error) {
	f.calls = append(f.calls, req)
	return f.result, f.err
}

type published struct {
	channel string
	payload any
}

type fakePublisher struct {
	events []published
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, channel string, payload any) error {
	p.events = append(p.events, published{channel, payload})
	return p.err
}

type memCache struct {
	entries       map[string][]model.Deal
	gens          map[string]int
	genAll        int
	invalidated   []string
	invalidateAll int
	staleWrites   int
}

func newMemCache() *memCache {
	return &memCache{entries: map[string][]model.Deal{}, gens: map[string]int{}}
}

func (c *memCache) Get(_ context.Context, deviceID string) ([]model.Deal, bool, error) {
	d, ok := c.entries[deviceID]
	return d, ok, nil
}

func (c *memCache) Version(_ context.Context, deviceID string) (string, error) {
	return fmt.Sprintf("%d.%d", c.genAll, c.gens[deviceID]), nil
}

func (c *memCache) Set(ctx context.Context, deviceID, version string, deals []model.Deal) error {
	if current, _ := c.Version(ctx, deviceID); current != version {
		c.staleWrites++
		return nil
	}
	c.entries[deviceID] = deals
	return nil
}

func (c *memCache) Invalidate(_ context.Context, deviceID string) error {
	c.invalidated = append(c.invalidated, deviceID)
	c.gens[deviceID]++
	delete(c.entries, deviceID)
	return nil
}

func (c *memCache) InvalidateAll(context.Context) error {
	c.invalidateAll++
	c.genAll++
	c.entries = map[string][]model.Deal{}
	return nil
}

// ─── fixture ───

type fixture struct {
	svc    *Service
	store  *fakeStore
	gw     *fakeFetcher
	events *fakePublisher
	cache  *memCache
}

func newFixture() *fixture {
	fx := &fixture{
		store:  newFakeStore(),
		gw:     &fakeFetcher{},
		events: &fakePublisher{},
		cache:  newMemCache(),
	}
	fx.svc = NewService(fx.store, fx.gw, ingest.NewMerger(fx.store), fx.events, fx.cache)
	return fx
}

func fields(title, marketplace, category string, price, original float64, discount int) model.DealFields {
	return model.DealFields{
		Title:           title,
		Marketplace:     marketplace,
		Category:        category,
		Price:           price,
		OriginalPrice:   original,
		DiscountPercent: discount,
		ProductURL:      "https://example.com/" + strings.ReplaceAll(strings.ToLower(title), " ", "-"),
		ImageURL:        ingest.DefaultImageURL,
	}
}
