package journal

import (
	"context"
	"evetrade/internal/components/db"
	"evetrade/internal/components/db/dbtest"
	"evetrade/internal/components/telemetry"
	"evetrade/internal/esi"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

const characterID = 2114278577

func entryJSON(id int64) string {
	return fmt.Sprintf(
		`{"id": %d, "date": "2024-06-30T18:02:11Z", "ref_type": "market_transaction",
		"amount": -1500000.5, "balance": 98500000, "description": "Market: buy",
		"first_party_id": %d, "context_id": 6781234567, "context_id_type": "market_transaction_id"}`,
		id, characterID,
	)
}

func newTestIngester(t *testing.T, handler http.HandlerFunc) (Ingester, *db.Queries) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := esi.NewClient(esi.Config{
		BaseUrl:           server.URL,
		AccessToken:       "token",
		RequestsPerSecond: 1000,
		MaxRetries:        -1,
	}, telemetry.NewRecorder())
	require.NoError(t, err)

	database := dbtest.Open(t)
	return NewIngester(client, db.NewMakeTx(database), telemetry.NewRecorder(), characterID), db.New(database)
}

func TestIngestIsIdempotent(t *testing.T) {
	ingester, qry := newTestIngester(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, fmt.Sprintf("/characters/%d/wallet/journal/", characterID), r.URL.Path)
		w.Header().Set("X-Pages", "2")
		switch r.URL.Query().Get("page") {
		case "1":
			fmt.Fprintf(w, "[%s, %s]", entryJSON(1), entryJSON(2))
		case "2":
			fmt.Fprintf(w, "[%s]", entryJSON(3))
		}
	})
	ctx := context.Background()

	res, err := ingester.Ingest(ctx)
	require.NoError(t, err)
	require.Equal(t, Result{Fetched: 3, Inserted: 3}, res)

	res, err = ingester.Ingest(ctx)
	require.NoError(t, err)
	require.Equal(t, Result{Fetched: 3, Inserted: 0}, res)

	count, err := qry.CountJournalEntries(ctx, characterID)
	require.NoError(t, err)
	require.Equal(t, int64(3), count)
}

func TestIngestKeepsPagesBeforeFailure(t *testing.T) {
	var hits atomic.Int32
	ingester, qry := newTestIngester(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("X-Pages", "3")
		if r.URL.Query().Get("page") == "2" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "[%s]", entryJSON(int64(hits.Load())))
	})
	ctx := context.Background()

	res, err := ingester.Ingest(ctx)
	require.Error(t, err)
	require.True(t, esi.HasStatus(err, http.StatusInternalServerError))
	require.Equal(t, Result{Fetched: 1, Inserted: 1}, res)

	count, err := qry.CountJournalEntries(ctx, characterID)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestIngestRejectsIncompleteEntry(t *testing.T) {
	ingester, qry := newTestIngester(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "1" {
			fmt.Fprint(w, "[]")
			return
		}
		fmt.Fprintf(w, `[%s, {"id": 9, "amount": 1}]`, entryJSON(8))
	})
	ctx := context.Background()

	_, err := ingester.Ingest(ctx)
	require.Error(t, err)

	// the page is stored all or nothing
	count, err := qry.CountJournalEntries(ctx, characterID)
	require.NoError(t, err)
	require.Equal(t, int64(0), count)
}
