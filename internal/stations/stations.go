package stations

import (
	"context"
	"database/sql"
	"evetrade/internal/components/assert"
	"evetrade/internal/components/chrono"
	"evetrade/internal/components/db"
	"evetrade/internal/components/telemetry"
	"evetrade/internal/esi"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/sourcegraph/conc/pool"
)

const (
	report_resolver_lookup  = "resolver.lookup"
	report_resolver_resolve = "resolver.resolve"
)

// npcStationCeiling separates NPC station ids from player structure ids.
const npcStationCeiling = 70_000_000

// DefaultSources are the tables whose location ids should have a name.
var DefaultSources = []string{"market_orders", "bwf_market_orders", "jita_hangar_inventory", "character_orders"}

type Result struct {
	Checked  int
	Resolved int
	Private  int
	Unknown  int
}

// Resolver names every location that appears in the source tables but not yet
// in stations.
type Resolver struct {
	esi      *esi.Client
	database *sql.DB
	makeTx   db.MakeTx
	time     chrono.TimeAPI
	tel      telemetry.API
	sources  []string
}

func NewResolver(client *esi.Client, database *sql.DB, time chrono.TimeAPI, tel telemetry.API, sources ...string) Resolver {
	assert.NotNil(client, "esi client")
	assert.NotNil(database, "database")
	if len(sources) == 0 {
		sources = DefaultSources
	}
	return Resolver{
		esi:      client,
		database: database,
		makeTx:   db.NewMakeTx(database),
		time:     time,
		tel:      telemetry.NewScopedAPI("stations", tel),
		sources:  sources,
	}
}

func (r Resolver) tableExists(ctx context.Context, name string) (bool, error) {
	var count int
	err := r.database.QueryRowContext(
		ctx,
		"SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?",
		name,
	).Scan(&count)
	return count > 0, err
}

// unresolved lists the location ids of the source tables that have no station
// row, sources that have never been published are ignored.
func (r Resolver) unresolved(ctx context.Context) ([]int64, error) {
	known, err := db.New(r.database).ListStationIDs(ctx)
	if err != nil {
		return nil, err
	}

	seen := map[int64]bool{}
	for _, id := range known {
		seen[id] = true
	}

	var out []int64
	for _, table := range r.sources {
		exists, err := r.tableExists(ctx, table)
		if err != nil {
			return nil, err
		}
		if !exists {
			continue
		}

		rows, err := r.database.QueryContext(ctx, fmt.Sprintf(`SELECT DISTINCT location_id FROM "%s"`, table))
		if err != nil {
			return nil, fmt.Errorf("list locations of %s: %w", table, err)
		}
		for rows.Next() {
			var id int64
			err = rows.Scan(&id)
			if err != nil {
				rows.Close()
				return nil, err
			}
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	slices.Sort(out)
	return out, nil
}

type universeName struct {
	Name string `json:"name"`
}

// lookup never fails, a location that cannot be named is stored with a
// placeholder so it is not looked up again on every run.
func (r Resolver) lookup(ctx context.Context, locationID int64, updatedAt string) db.UpsertStationParams {
	path := fmt.Sprintf("/universe/structures/%d/", locationID)
	stationType := db.StationTypeStructure
	if locationID < npcStationCeiling {
		path = fmt.Sprintf("/universe/stations/%d/", locationID)
		stationType = db.StationTypeNPC
	}

	out := db.UpsertStationParams{
		LocationID:  locationID,
		LastUpdated: updatedAt,
	}

	res, err := esi.Get[universeName](ctx, r.esi, path, nil)
	switch {
	case err == nil && res.Name != "":
		out.Name = res.Name
		out.Type = stationType
	case esi.HasStatus(err, http.StatusForbidden):
		out.Name = fmt.Sprintf("Private Structure %d", locationID)
		out.Type = db.StationTypePrivate
	default:
		if err != nil {
			r.tel.ReportWarning(report_resolver_lookup, telemetry.KV{Key: "location_id", Value: locationID}, err)
		}
		out.Name = fmt.Sprintf("Unknown Location %d", locationID)
		out.Type = db.StationTypeUnknown
	}
	return out
}

// Resolve looks up every unresolved location with bounded concurrency and
// stores the names in one transaction.
func (r Resolver) Resolve(ctx context.Context) (Result, error) {
	ids, err := r.unresolved(ctx)
	if err != nil {
		r.tel.ReportBroken(report_resolver_resolve, err)
		return Result{}, err
	}
	result := Result{Checked: len(ids)}
	if len(ids) == 0 {
		return result, nil
	}

	updatedAt := r.time.Now().UTC().Format(time.RFC3339)
	p := pool.NewWithResults[db.UpsertStationParams]().WithMaxGoroutines(r.esi.MaxConcurrency())
	for _, id := range ids {
		p.Go(func() db.UpsertStationParams {
			return r.lookup(ctx, id, updatedAt)
		})
	}
	stations := p.Wait()
	if ctx.Err() != nil {
		return result, ctx.Err()
	}

	tx, discard, commit, err := r.makeTx(ctx)
	if err != nil {
		return result, err
	}
	defer discard()

	for _, station := range stations {
		err = tx.UpsertStation(ctx, station)
		if err != nil {
			r.tel.ReportBroken(report_resolver_resolve, err)
			return result, fmt.Errorf("upsert station %d: %w", station.LocationID, err)
		}
		switch station.Type {
		case db.StationTypePrivate:
			result.Private++
		case db.StationTypeUnknown:
			result.Unknown++
		default:
			result.Resolved++
		}
	}

	err = commit()
	if err != nil {
		return result, err
	}
	r.tel.ReportCount("resolved", int64(result.Resolved))
	return result, nil
}
