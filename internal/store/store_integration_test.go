//go:build integration

package store_test

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"dealscout/deal-service/internal/db"
	"dealscout/deal-service/internal/ingest"
	"dealscout/deal-service/internal/model"
	"dealscout/deal-service/internal/store"
)

const testSchema = "deals_it"

var (
	testPool      *pgxpool.Pool
	testContainer testcontainers.Container
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	if err := startPostgres(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	if testPool != nil {
		testPool.Close()
	}
	if testContainer != nil {
		termCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = testContainer.Terminate(termCtx)
	}
	os.Exit(code)
}

func startPostgres(ctx context.Context) error {
	dsn := func(host string, port nat.Port) string {
		return fmt.Sprintf("postgres://postgres:postgres@%s:%s/deals?sslmode=disable", host, port.Port())
	}
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "postgres",
			"POSTGRES_USER":     "postgres",
			"POSTGRES_DB":       "deals",
		},
		WaitingFor: wait.ForSQL("5432/tcp", "pgx", dsn).WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return err
	}
	testContainer = container

	host, err := container.Host(ctx)
	if err != nil {
		return err
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return err
	}

	pool, err := db.NewPostgresPool(ctx, dsn(host, port), testSchema)
	if err != nil {
		return err
	}
	testPool = pool

	// twice: migrations must be re-runnable on every start
	for i := 0; i < 2; i++ {
		if err := db.Migrate(ctx, pool, testSchema); err != nil {
			return err
		}
	}
	return nil
}

func resetDatabase(t *testing.T) *store.Store {
	t.Helper()
	_, err := testPool.Exec(context.Background(), `
		TRUNCATE TABLE shared_deals, deal_alerts, favorite_deals, user_interests, deals
		RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return store.New(testPool)
}

func deal(title, marketplace, category string, discount int) model.DealFields {
	return model.DealFields{
		Title:           title,
		Marketplace:     marketplace,
		Category:        category,
		Price:           50,
		OriginalPrice:   100,
		DiscountPercent: discount,
		ProductURL:      ingest.DefaultProductURL,
		ImageURL:        ingest.DefaultImageURL,
	}
}

func countDeals(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, testPool.QueryRow(context.Background(), `SELECT COUNT(*) FROM deals`).Scan(&n))
	return n
}

// ── Merge ──────────────────────────────────────────────────────────────────

func TestMerge_Idempotent(t *testing.T) {
	st := resetDatabase(t)
	ctx := context.Background()
	m := ingest.NewMerger(st)
	batch := []model.DealFields{
		deal("Blender", "Amazon", "Kitchen", 40),
		deal("Toaster", "Target", "Kitchen", 20),
		deal("Blender", "Amazon", "Kitchen", 45),
	}

	first, err := m.Merge(ctx, batch, 10)
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := m.Merge(ctx, batch, 10)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 2, countDeals(t))

	d, err := st.GetDeal(ctx, first[0])
	require.NoError(t, err)
	require.Equal(t, 45, d.DiscountPercent, "last write in the batch wins")
}

func TestMerge_ReactivatesAndBumpsUpdatedAt(t *testing.T) {
	st := resetDatabase(t)
	ctx := context.Background()
	m := ingest.NewMerger(st)

	ids, err := m.Merge(ctx, []model.DealFields{deal("Lamp", "Walmart", "Home", 10)}, 10)
	require.NoError(t, err)
	_, err = testPool.Exec(ctx, `UPDATE deals SET is_active = FALSE, updated_at = NOW() - INTERVAL '1 day' WHERE id = $1`, ids[0])
	require.NoError(t, err)
	before, err := st.GetDeal(ctx, ids[0])
	require.NoError(t, err)

	_, err = m.Merge(ctx, []model.DealFields{deal("Lamp", "Walmart", "Lighting", 30)}, 10)
	require.NoError(t, err)

	after, err := st.GetDeal(ctx, ids[0])
	require.NoError(t, err)
	require.True(t, after.IsActive)
	require.Equal(t, "Lighting", after.Category)
	require.True(t, after.UpdatedAt.After(before.UpdatedAt))
}

func TestMerge_RollsBackWholeBatch(t *testing.T) {
	st := resetDatabase(t)
	tooLong := deal(strings.Repeat("x", 300), "Amazon", "General", 10)

	_, err := ingest.NewMerger(st).Merge(context.Background(), []model.DealFields{
		deal("Fine", "Amazon", "General", 10),
		tooLong,
	}, 10)
	require.Error(t, err)
	require.Equal(t, 0, countDeals(t))
}

// ── Deals ──────────────────────────────────────────────────────────────────

func TestSearchDeals(t *testing.T) {
	st := resetDatabase(t)
	ctx := context.Background()
	ids, err := ingest.NewMerger(st).Merge(ctx, []model.DealFields{
		deal("100% Cotton Sheets", "Target", "Home", 30),
		deal("1000 Thread Sheets", "Target", "Home", 60),
		deal("Wireless Earbuds", "Amazon", "Electronics", 50),
		deal("Old Sheets", "Target", "Home", 90),
	}, 10)
	require.NoError(t, err)
	_, err = testPool.Exec(ctx, `UPDATE deals SET is_active = FALSE WHERE id = $1`, ids[3])
	require.NoError(t, err)

	got, err := st.SearchDeals(ctx, store.SearchFilter{Query: "sheets", Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "1000 Thread Sheets", got[0].Title)

	got, err = st.SearchDeals(ctx, store.SearchFilter{Query: "100%", Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 1, "percent sign is matched literally")

	got, err = st.SearchDeals(ctx, store.SearchFilter{Category: "Electronics", Marketplace: "Amazon", MinDiscount: 50, Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = st.SearchDeals(ctx, store.SearchFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)

	cats, err := st.Categories(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"Electronics", "Home"}, cats)

	byIDs, err := st.DealsByIDs(ctx, ids[:3])
	require.NoError(t, err)
	require.Equal(t, []int64{ids[1], ids[2], ids[0]}, []int64{byIDs[0].ID, byIDs[1].ID, byIDs[2].ID})

	active, err := st.ActiveDeals(ctx)
	require.NoError(t, err)
	require.Len(t, active, 3)
	require.Equal(t, ids[0], active[0].ID)

	_, err = st.GetDeal(ctx, 999999)
	require.ErrorIs(t, err, store.ErrNotFound)
}

// ── Devices ────────────────────────────────────────────────────────────────

func TestFavorites(t *testing.T) {
	st := resetDatabase(t)
	ctx := context.Background()
	ids, err := ingest.NewMerger(st).Merge(ctx, []model.DealFields{deal("Desk", "Amazon", "Office", 20)}, 10)
	require.NoError(t, err)

	first, err := st.AddFavorite(ctx, "dev", ids[0])
	require.NoError(t, err)
	require.Equal(t, "Desk", first.Deal.Title)

	again, err := st.AddFavorite(ctx, "dev", ids[0])
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)

	_, err = st.AddFavorite(ctx, "dev", 424242)
	require.ErrorIs(t, err, store.ErrNotFound)

	favs, err := st.ListFavorites(ctx, "dev")
	require.NoError(t, err)
	require.Len(t, favs, 1)

	require.NoError(t, st.RemoveFavorite(ctx, "dev", ids[0]))
	require.ErrorIs(t, st.RemoveFavorite(ctx, "dev", ids[0]), store.ErrNotFound)
}

func TestInterests_Order(t *testing.T) {
	st := resetDatabase(t)
	ctx := context.Background()
	for _, in := range []model.UserInterest{
		{DeviceID: "dev", Category: "Home", Keyword: "a", Priority: 1},
		{DeviceID: "dev", Category: "Home", Keyword: "b", Priority: 4},
		{DeviceID: "dev", Category: "Home", Keyword: "c", Priority: 1},
	} {
		_, err := st.AddInterest(ctx, in)
		require.NoError(t, err)
	}

	got, err := st.ListInterests(ctx, "dev")
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c", "a"}, []string{got[0].Keyword, got[1].Keyword, got[2].Keyword})
}

func TestAlerts(t *testing.T) {
	st := resetDatabase(t)
	ctx := context.Background()

	a, err := st.CreateAlert(ctx, model.DealAlert{DeviceID: "dev", AlertType: "keyword", Query: "tv", MinDiscount: 10, IsEnabled: false})
	require.NoError(t, err)
	require.Nil(t, a.LastTriggeredAt)

	minDisc := 35
	a, err = st.UpdateAlert(ctx, a.ID, store.AlertPatch{MinDiscount: &minDisc})
	require.NoError(t, err)
	require.Equal(t, 35, a.MinDiscount)
	require.False(t, a.IsEnabled)
	require.Nil(t, a.LastTriggeredAt)

	on := true
	a, err = st.UpdateAlert(ctx, a.ID, store.AlertPatch{IsEnabled: &on})
	require.NoError(t, err)
	require.Equal(t, 35, a.MinDiscount)
	require.NotNil(t, a.LastTriggeredAt)

	_, err = st.UpdateAlert(ctx, 999999, store.AlertPatch{IsEnabled: &on})
	require.ErrorIs(t, err, store.ErrNotFound)

	alerts, err := st.ListAlerts(ctx, "dev")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
}

func TestCreateShare(t *testing.T) {
	st := resetDatabase(t)
	ctx := context.Background()
	ids, err := ingest.NewMerger(st).Merge(ctx, []model.DealFields{deal("Drill", "Target", "Tools", 20)}, 10)
	require.NoError(t, err)

	sh, err := st.CreateShare(ctx, model.SharedDeal{DeviceID: "dev", DealID: ids[0], Channel: "sms", Message: "hi"})
	require.NoError(t, err)
	require.NotZero(t, sh.ID)

	_, err = st.CreateShare(ctx, model.SharedDeal{DeviceID: "dev", DealID: 424242, Channel: "sms"})
	require.ErrorIs(t, err, store.ErrNotFound)
}
