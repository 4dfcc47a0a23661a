package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"evetrade/internal/components/chrono"
	"evetrade/internal/components/db/dbtest"
	"evetrade/internal/components/telemetry"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

var testDataset = Dataset{
	Name: "market_orders",
	Columns: []Column{
		{Name: "order_id", Decl: "INTEGER NOT NULL"},
		{Name: "type_id", Decl: "INTEGER NOT NULL"},
		{Name: "price", Decl: "REAL NOT NULL"},
		{Name: "is_buy_order", Decl: "INTEGER NOT NULL"},
	},
	Key:     []string{"order_id"},
	Indexes: []Index{{Name: "type", Columns: []string{"type_id"}}},
}

type order struct {
	OrderID    int64
	TypeID     int64
	Price      float64
	IsBuyOrder bool
}

var errNegativePrice = errors.New("negative price")

func mapOrder(o order) ([]any, error) {
	if o.Price < 0 {
		return nil, errNegativePrice
	}
	return []any{o.OrderID, o.TypeID, o.Price, o.IsBuyOrder}, nil
}

func makeOrders(firstID int64, count int, price float64) []order {
	out := make([]order, count)
	for i := range out {
		out[i] = order{
			OrderID:    firstID + int64(i),
			TypeID:     34 + int64(i%5),
			Price:      price,
			IsBuyOrder: i%2 == 0,
		}
	}
	return out
}

func staticPages(pages ...[]order) FetchPages[order] {
	return failAfter(nil, pages...)
}

// failAfter yields the pages and then err, if err is not nil.
func failAfter(err error, pages ...[]order) FetchPages[order] {
	return func(ctx context.Context) iter.Seq2[[]order, error] {
		return func(yield func([]order, error) bool) {
			for _, p := range pages {
				if !yield(p, nil) {
					return
				}
			}
			if err != nil {
				yield(nil, err)
			}
		}
	}
}

var testNow = time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

func newTestCoordinator(t *testing.T, database *sql.DB, opts ...Option) (*Coordinator, *telemetry.Recorder) {
	t.Helper()
	rec := telemetry.NewRecorder()
	opts = append([]Option{WithTelemetry(rec), WithTime(chrono.FixedTime{Time: testNow})}, opts...)
	return NewCoordinator(database, opts...), rec
}

func livePrices(t *testing.T, database *sql.DB) map[int64]float64 {
	t.Helper()
	rows, err := database.Query("SELECT order_id, price FROM market_orders")
	require.NoError(t, err)
	defer rows.Close()

	out := map[int64]float64{}
	for rows.Next() {
		var (
			id    int64
			price float64
		)
		require.NoError(t, rows.Scan(&id, &price))
		out[id] = price
	}
	require.NoError(t, rows.Err())
	return out
}

func tableExists(t *testing.T, database *sql.DB, name string) bool {
	t.Helper()
	var count int
	err := database.QueryRow(
		"SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?",
		name,
	).Scan(&count)
	require.NoError(t, err)
	return count > 0
}

func indexNames(t *testing.T, database *sql.DB, table string) []string {
	t.Helper()
	rows, err := database.Query(
		"SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = ? ORDER BY name",
		table,
	)
	require.NoError(t, err)
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		out = append(out, name)
	}
	return out
}

func seed(t *testing.T, c *Coordinator, count int, price float64) {
	t.Helper()
	_, err := Refresh(context.Background(), c, testDataset, staticPages(makeOrders(1, count, price)), mapOrder)
	require.NoError(t, err)
}

func TestRefreshPublishes(t *testing.T) {
	database := dbtest.Open(t)
	c, _ := newTestCoordinator(t, database)

	res, err := Refresh(
		context.Background(),
		c,
		testDataset,
		staticPages(makeOrders(1, 200, 5), makeOrders(201, 200, 5), makeOrders(401, 100, 5)),
		mapOrder,
	)
	require.NoError(t, err)
	require.Equal(t, int64(500), res.RowsPublished)
	require.Equal(t, int64(500), res.RecordsFetched)
	require.Equal(t, int64(0), res.RecordsSkipped)
	require.Equal(t, testNow, res.PublishedAt)
	require.Empty(t, res.ViewFailures)

	require.Len(t, livePrices(t, database), 500)
	require.False(t, tableExists(t, database, "market_orders_temp"))
	require.Equal(t, []string{"idx_market_orders_type"}, indexNames(t, database, "market_orders"))

	var locks int
	require.NoError(t, database.QueryRow("SELECT count(*) FROM refresh_locks").Scan(&locks))
	require.Equal(t, 0, locks)
}

func TestRefreshReplacesLiveContent(t *testing.T) {
	database := dbtest.Open(t)
	c, _ := newTestCoordinator(t, database)
	seed(t, c, 100, 5)

	res, err := Refresh(context.Background(), c, testDataset, staticPages(makeOrders(1000, 50, 7)), mapOrder)
	require.NoError(t, err)
	require.Equal(t, int64(50), res.RowsPublished)

	prices := livePrices(t, database)
	require.Len(t, prices, 50)
	_, stale := prices[1]
	require.False(t, stale)
	require.Equal(t, 7.0, prices[1000])
}

func TestRefreshSourceUnavailable(t *testing.T) {
	database := dbtest.Open(t)
	c, _ := newTestCoordinator(t, database)
	seed(t, c, 100, 5)

	_, err := Refresh(
		context.Background(),
		c,
		testDataset,
		failAfter(errors.New("503 service unavailable")),
		mapOrder,
	)
	require.ErrorIs(t, err, ErrSourceUnavailable)
	require.Len(t, livePrices(t, database), 100)
	require.False(t, tableExists(t, database, "market_orders_temp"))
}

func TestRefreshSourceFailsMidWalk(t *testing.T) {
	database := dbtest.Open(t)
	c, _ := newTestCoordinator(t, database)
	seed(t, c, 100, 5)

	_, err := Refresh(
		context.Background(),
		c,
		testDataset,
		failAfter(errors.New("connection reset"), makeOrders(1, 1000, 9), makeOrders(1001, 1000, 9)),
		mapOrder,
	)
	require.ErrorIs(t, err, ErrSourceUnavailable)

	prices := livePrices(t, database)
	require.Len(t, prices, 100)
	require.Equal(t, 5.0, prices[1])
	require.False(t, tableExists(t, database, "market_orders_temp"))
}

func TestRefreshEmptyResult(t *testing.T) {
	database := dbtest.Open(t)
	c, _ := newTestCoordinator(t, database)
	seed(t, c, 100, 5)

	table := []struct {
		name  string
		fetch FetchPages[order]
	}{
		{name: "no pages", fetch: staticPages()},
		{name: "empty first page", fetch: staticPages([]order{})},
		{
			name: "every record skipped",
			fetch: staticPages(makeOrders(1, 10, 5)),
		},
	}

	skipAll := func(order) ([]any, error) {
		return nil, ErrSkipRecord
	}

	for _, row := range table {
		t.Run(row.name, func(t *testing.T) {
			_, err := Refresh(context.Background(), c, testDataset, row.fetch, skipAll)
			require.ErrorIs(t, err, ErrEmptyResult)
			require.Len(t, livePrices(t, database), 100)
			require.False(t, tableExists(t, database, "market_orders_temp"))
		})
	}
}

func TestRefreshEmptyResultWithoutLiveTable(t *testing.T) {
	database := dbtest.Open(t)
	c, _ := newTestCoordinator(t, database)

	_, err := Refresh(context.Background(), c, testDataset, staticPages(), mapOrder)
	require.ErrorIs(t, err, ErrEmptyResult)
	require.False(t, tableExists(t, database, "market_orders"))
}

func TestRefreshDuplicatesCollapse(t *testing.T) {
	database := dbtest.Open(t)
	c, _ := newTestCoordinator(t, database)

	// the source shifts while it is being paged, the last 20 orders of page one
	// show up again at the top of page two with a new price
	first := makeOrders(1, 260, 5)
	second := append(makeOrders(241, 20, 6), makeOrders(261, 240, 5)...)

	res, err := Refresh(context.Background(), c, testDataset, staticPages(first, second), mapOrder)
	require.NoError(t, err)
	require.Equal(t, int64(520), res.RecordsFetched)
	require.Equal(t, int64(500), res.RowsPublished)

	prices := livePrices(t, database)
	require.Len(t, prices, 500)
	require.Equal(t, 6.0, prices[241])
	require.Equal(t, 5.0, prices[240])
}

func TestRefreshSkipsRecords(t *testing.T) {
	database := dbtest.Open(t)
	c, _ := newTestCoordinator(t, database)

	onlyBuy := func(o order) ([]any, error) {
		if !o.IsBuyOrder {
			return nil, ErrSkipRecord
		}
		return mapOrder(o)
	}
	res, err := Refresh(context.Background(), c, testDataset, staticPages(makeOrders(1, 10, 5)), onlyBuy)
	require.NoError(t, err)
	require.Equal(t, int64(10), res.RecordsFetched)
	require.Equal(t, int64(5), res.RecordsSkipped)
	require.Equal(t, int64(5), res.RowsPublished)
}

func TestRefreshMalformedRecord(t *testing.T) {
	database := dbtest.Open(t)
	c, _ := newTestCoordinator(t, database)
	seed(t, c, 100, 5)

	orders := makeOrders(1, 10, 5)
	orders[7].Price = -1

	_, err := Refresh(context.Background(), c, testDataset, staticPages(orders), mapOrder)
	require.ErrorIs(t, err, ErrMalformedRecord)
	require.ErrorIs(t, err, errNegativePrice)
	require.Len(t, livePrices(t, database), 100)
	require.False(t, tableExists(t, database, "market_orders_temp"))

	wrongArity := func(order) ([]any, error) {
		return []any{1, 2}, nil
	}
	_, err = Refresh(context.Background(), c, testDataset, staticPages(makeOrders(1, 1, 5)), wrongArity)
	require.ErrorIs(t, err, ErrMalformedRecord)
}

func TestRefreshRecoversFromAbandonedStaging(t *testing.T) {
	database := dbtest.Open(t)
	c, _ := newTestCoordinator(t, database)
	seed(t, c, 100, 5)

	// a previous process died halfway through staging
	_, err := database.Exec(`CREATE TABLE market_orders_temp (order_id INTEGER PRIMARY KEY, junk TEXT)`)
	require.NoError(t, err)
	_, err = database.Exec(`INSERT INTO market_orders_temp VALUES (999999, 'partial')`)
	require.NoError(t, err)

	res, err := Refresh(context.Background(), c, testDataset, staticPages(makeOrders(1, 30, 8)), mapOrder)
	require.NoError(t, err)
	require.Equal(t, int64(30), res.RowsPublished)

	prices := livePrices(t, database)
	require.Len(t, prices, 30)
	_, leaked := prices[999999]
	require.False(t, leaked)
}

func TestRefreshIndexSlotsAlternate(t *testing.T) {
	database := dbtest.Open(t)
	c, _ := newTestCoordinator(t, database)

	expected := []string{"idx_market_orders_type", "idx_market_orders_type_b", "idx_market_orders_type"}
	for _, name := range expected {
		seed(t, c, 10, 5)
		require.Equal(t, []string{name}, indexNames(t, database, "market_orders"))
	}
}

func TestRefreshRepairsViews(t *testing.T) {
	database := dbtest.Open(t)
	c, rec := newTestCoordinator(t, database)
	seed(t, c, 100, 5)

	_, err := database.Exec(`
		CREATE TABLE watchlist (type_id INTEGER PRIMARY KEY);
		CREATE VIEW v_buy_orders AS
			SELECT order_id, price FROM market_orders WHERE is_buy_order = 1;
		CREATE VIEW v_buy_summary AS
			SELECT count(*) AS n, max(price) AS best FROM v_buy_orders;
		CREATE VIEW v_watched_orders AS
			SELECT o.order_id FROM market_orders o JOIN watchlist w ON w.type_id = o.type_id;
	`)
	require.NoError(t, err)

	res, err := Refresh(context.Background(), c, testDataset, staticPages(makeOrders(1, 40, 11)), mapOrder)
	require.NoError(t, err)
	require.Empty(t, res.ViewFailures)

	var (
		n    int
		best float64
	)
	require.NoError(t, database.QueryRow("SELECT n, best FROM v_buy_summary").Scan(&n, &best))
	require.Equal(t, 20, n)
	require.Equal(t, 11.0, best)

	// a view that can no longer be built is reported but does not stop the publish
	_, err = database.Exec("DROP TABLE watchlist")
	require.NoError(t, err)

	res, err = Refresh(context.Background(), c, testDataset, staticPages(makeOrders(1, 60, 12)), mapOrder)
	require.NoError(t, err)
	require.Equal(t, []string{"v_watched_orders"}, res.FailedViews())
	require.Len(t, rec.Find(telemetry.LevelWarning, report_coordinator_view), 1)

	require.NoError(t, database.QueryRow("SELECT n, best FROM v_buy_summary").Scan(&n, &best))
	require.Equal(t, 30, n)
	require.Equal(t, 12.0, best)

	history, err := History(context.Background(), database, "market_orders", 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, []string{"v_watched_orders"}, history[0].FailedViews)
}

func TestRefreshLock(t *testing.T) {
	database := dbtest.Open(t)
	c, _ := newTestCoordinator(t, database, WithLockTTL(10*time.Minute))
	seed(t, c, 100, 5)

	_, err := database.Exec(
		"INSERT INTO refresh_locks (dataset, holder, acquired_at) VALUES (?, ?, ?)",
		"market_orders", "other-process", testNow.Add(-time.Minute).Unix(),
	)
	require.NoError(t, err)

	_, err = Refresh(context.Background(), c, testDataset, staticPages(makeOrders(1, 10, 9)), mapOrder)
	require.ErrorIs(t, err, ErrRefreshInProgress)
	require.ErrorContains(t, err, "other-process")
	require.Len(t, livePrices(t, database), 100)

	// the holder went away without releasing, once the lock is stale it is taken over
	_, err = database.Exec(
		"UPDATE refresh_locks SET acquired_at = ? WHERE dataset = ?",
		testNow.Add(-time.Hour).Unix(), "market_orders",
	)
	require.NoError(t, err)

	res, err := Refresh(context.Background(), c, testDataset, staticPages(makeOrders(1, 10, 9)), mapOrder)
	require.NoError(t, err)
	require.Equal(t, int64(10), res.RowsPublished)

	var locks int
	require.NoError(t, database.QueryRow("SELECT count(*) FROM refresh_locks").Scan(&locks))
	require.Equal(t, 0, locks)
}

func TestRefreshRecoversFromCrashedProcess(t *testing.T) {
	database := dbtest.Open(t)
	c, rec := newTestCoordinator(t, database)
	seed(t, c, 100, 5)

	const crashedPid = 48213
	c.processAlive = func(ctx context.Context, pid int32) (bool, error) {
		return pid != crashedPid, nil
	}

	// the process was killed between staging and publish, its lock is fresh
	_, err := database.Exec(`CREATE TABLE market_orders_temp (order_id INTEGER PRIMARY KEY, junk TEXT)`)
	require.NoError(t, err)
	_, err = database.Exec(
		"INSERT INTO refresh_locks (dataset, holder, hostname, pid, acquired_at) VALUES (?, ?, ?, ?, ?)",
		"market_orders", "killed-process", c.hostname, crashedPid, testNow.Unix(),
	)
	require.NoError(t, err)

	res, err := Refresh(context.Background(), c, testDataset, staticPages(makeOrders(1, 30, 8)), mapOrder)
	require.NoError(t, err)
	require.Equal(t, int64(30), res.RowsPublished)
	require.Len(t, livePrices(t, database), 30)
	require.False(t, tableExists(t, database, "market_orders_temp"))
	require.Len(t, rec.Find(telemetry.LevelWarning, report_coordinator_lock), 1)

	var locks int
	require.NoError(t, database.QueryRow("SELECT count(*) FROM refresh_locks").Scan(&locks))
	require.Equal(t, 0, locks)
}

func TestRefreshLockHolderStillRunning(t *testing.T) {
	table := []struct {
		name     string
		hostname func(c *Coordinator) string
		pid      int32
	}{
		{
			name:     "live process on this host",
			hostname: func(c *Coordinator) string { return c.hostname },
			pid:      1001,
		},
		{
			name:     "this process",
			hostname: func(c *Coordinator) string { return c.hostname },
			pid:      0,
		},
		{
			name:     "exited process on another host",
			hostname: func(c *Coordinator) string { return c.hostname + "-other" },
			pid:      48213,
		},
	}

	for _, row := range table {
		t.Run(row.name, func(t *testing.T) {
			database := dbtest.Open(t)
			c, _ := newTestCoordinator(t, database)
			c.processAlive = func(ctx context.Context, pid int32) (bool, error) {
				return pid == 1001, nil
			}
			pid := row.pid
			if pid == 0 {
				pid = c.pid
			}

			_, err := database.Exec(
				"INSERT INTO refresh_locks (dataset, holder, hostname, pid, acquired_at) VALUES (?, ?, ?, ?, ?)",
				"market_orders", "other-holder", row.hostname(c), pid, testNow.Unix(),
			)
			require.NoError(t, err)

			_, err = Refresh(context.Background(), c, testDataset, staticPages(makeOrders(1, 10, 9)), mapOrder)
			require.ErrorIs(t, err, ErrRefreshInProgress)
			require.ErrorContains(t, err, "other-holder")
		})
	}
}

func TestRefreshLockIsPerDataset(t *testing.T) {
	database := dbtest.Open(t)
	c, _ := newTestCoordinator(t, database)

	_, err := database.Exec(
		"INSERT INTO refresh_locks (dataset, holder, acquired_at) VALUES (?, ?, ?)",
		"jita_hangar_inventory", "other-process", testNow.Unix(),
	)
	require.NoError(t, err)
	seed(t, c, 10, 5)
}

func TestRefreshPublishFailure(t *testing.T) {
	database := dbtest.OpenWithTimeout(t, 200*time.Millisecond)
	c, rec := newTestCoordinator(t, database, WithoutLock())
	seed(t, c, 100, 5)

	ctx := context.Background()
	holder, err := database.Conn(ctx)
	require.NoError(t, err)
	defer holder.Close()

	// another writer grabs the write lock once the last page has been staged
	fetch := func(ctx context.Context) iter.Seq2[[]order, error] {
		return func(yield func([]order, error) bool) {
			if !yield(makeOrders(1, 50, 9), nil) {
				return
			}
			_, err := holder.ExecContext(ctx, "BEGIN IMMEDIATE")
			if err != nil {
				yield(nil, err)
			}
		}
	}

	_, err = Refresh(ctx, c, testDataset, fetch, mapOrder)
	require.ErrorIs(t, err, ErrPublishFailure)
	require.NotEmpty(t, rec.Find(telemetry.LevelBroken, report_coordinator_publish))

	_, err = holder.ExecContext(ctx, "ROLLBACK")
	require.NoError(t, err)

	prices := livePrices(t, database)
	require.Len(t, prices, 100)
	require.Equal(t, 5.0, prices[1])

	// the next run cleans up whatever was left behind
	seed(t, c, 20, 6)
	require.Len(t, livePrices(t, database), 20)
}

func TestRefreshReadersSeeOldOrNew(t *testing.T) {
	database := dbtest.Open(t)
	c, _ := newTestCoordinator(t, database)
	seed(t, c, 100, 5)

	ctx, cancel := context.WithCancel(context.Background())
	var (
		wg       sync.WaitGroup
		readErr  error
		observed = map[int]bool{}
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ctx.Err() == nil {
			var count int
			err := database.QueryRow("SELECT count(*) FROM market_orders").Scan(&count)
			if err != nil {
				readErr = err
				return
			}
			observed[count] = true
		}
	}()

	for i := range 6 {
		count := 100
		if i%2 == 0 {
			count = 200
		}
		_, err := Refresh(context.Background(), c, testDataset, staticPages(makeOrders(1, count, 5)), mapOrder)
		require.NoError(t, err)
	}
	cancel()
	wg.Wait()

	require.NoError(t, readErr)
	for count := range observed {
		require.Contains(t, []int{100, 200}, count)
	}
}

func TestHistory(t *testing.T) {
	database := dbtest.Open(t)
	c, _ := newTestCoordinator(t, database)
	seed(t, c, 10, 5)
	seed(t, c, 20, 5)

	other := Dataset{
		Name:    "jita_hangar_inventory",
		Columns: []Column{{Name: "item_id", Decl: "INTEGER NOT NULL"}},
		Key:     []string{"item_id"},
	}
	_, err := Refresh(
		context.Background(),
		c,
		other,
		staticPages(makeOrders(1, 3, 1)),
		func(o order) ([]any, error) { return []any{o.OrderID}, nil },
	)
	require.NoError(t, err)

	entries, err := History(context.Background(), database, "market_orders", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	expected := HistoryEntry{
		Dataset:        "market_orders",
		RowsPublished:  20,
		RecordsFetched: 20,
		PublishedAt:    testNow,
	}
	diff := cmp.Diff(expected, entries[0], cmp.FilterPath(func(p cmp.Path) bool {
		return p.Last().String() == ".Duration"
	}, cmp.Ignore()))
	require.Empty(t, diff)

	all, err := History(context.Background(), database, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "jita_hangar_inventory", all[0].Dataset)
}
