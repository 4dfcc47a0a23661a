package telemetry

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

func TestScopedAPI(t *testing.T) {
	rec := NewRecorder()
	scoped := NewScopedAPI("coordinator", NewScopedAPI("market_orders", rec))

	scoped.ReportBroken("publish", errors.New("disk I/O error"))
	scoped.ReportWarning("view-repair", "v_high_value_orders")
	scoped.ReportCount("rows", 500)

	broken := rec.Find(LevelBroken, "publish")
	require.Len(t, broken, 1)
	require.Equal(t, "market_orders: coordinator: publish", broken[0].ID)

	warnings := rec.Find(LevelWarning, "view-repair")
	require.Len(t, warnings, 1)
	require.Equal(t, []any{"v_high_value_orders"}, warnings[0].Params)

	counts := rec.Find(LevelCount, "rows")
	require.Len(t, counts, 1)
	require.Equal(t, int64(500), counts[0].Count)
}

func TestMulti(t *testing.T) {
	a := NewRecorder()
	b := NewRecorder()
	Multi{a, b}.ReportWarning("esi.error-limit", 9)

	require.Len(t, a.Reports(), 1)
	require.Len(t, b.Reports(), 1)
}

func TestMetricName(t *testing.T) {
	table := []struct {
		input    string
		expected string
	}{
		{input: "rows", expected: "rows"},
		{input: "coordinator: rows", expected: "coordinator.rows"},
		{input: "perf_stats: cpu percent", expected: "perf_stats.cpu_percent"},
	}
	for _, row := range table {
		require.Equal(t, row.expected, metricName(row.input))
	}
}

func TestFormatHeadersRedactsAuthorization(t *testing.T) {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer secret")
	headers.Set("X-Pages", "3")

	out := formatHeaders(headers)
	require.NotContains(t, out, "secret")
	require.Equal(t, "Authorization: <redacted>\nX-Pages: 3", out)
}

func TestDumpName(t *testing.T) {
	table := []struct {
		input    string
		expected string
	}{
		{input: "https://esi.evetech.net/latest/markets/10000002/orders/?page=2", expected: "esi.evetech.net_latest_markets_10000002_orders"},
		{input: "http://127.0.0.1:8080/universe/stations/60003760/", expected: "127.0.0.1_8080_universe_stations_60003760"},
	}
	for _, row := range table {
		require.Equal(t, row.expected, dumpName(row.input))
	}
}

func newFailingServer(t *testing.T) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream down")
	}))
	t.Cleanup(server.Close)
	return server
}

func TestInstrumentRestyServerError(t *testing.T) {
	server := newFailingServer(t)
	rec := NewRecorder()
	client := resty.New().SetBaseURL(server.URL).SetAuthToken("secret")
	InstrumentResty(client, rec)

	res, err := client.R().Get("/markets/10000002/orders/")
	require.NoError(t, err)
	require.Equal(t, http.StatusBadGateway, res.StatusCode())

	var message string
	for _, report := range rec.Find(LevelDebug, report_resty_response) {
		if len(report.Params) == 2 {
			message, _ = report.Params[1].(string)
		}
	}
	require.Contains(t, message, "> GET "+server.URL+"/markets/10000002/orders/")
	require.Contains(t, message, "< 502")
	require.Contains(t, message, "upstream down")
	require.NotContains(t, message, "secret")
}

func TestDumpRestyBodylessRequest(t *testing.T) {
	server := newFailingServer(t)
	dir := filepath.Join(t.TempDir(), "dump")
	client := resty.New().SetBaseURL(server.URL)
	require.NoError(t, DumpResty(client, NewRecorder(), dir))

	_, err := client.R().Get("/status/")
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	contents, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	require.Contains(t, string(contents), "upstream down")
}
