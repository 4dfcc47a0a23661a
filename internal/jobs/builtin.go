package jobs

import (
	"context"
	"evetrade/internal/journal"
	"evetrade/internal/market"
	"evetrade/internal/snapshot"
	"evetrade/internal/stations"
	"fmt"
	"strings"
)

const (
	JobMarketOrders    = "market-orders"
	JobBWFMarketOrders = "bwf-market-orders"
	JobHangarInventory = "hangar-inventory"
	JobCharacterOrders = "character-orders"
	JobBlueprints      = "character-blueprints"
	JobStationNames    = "station-names"
	JobWalletJournal   = "wallet-journal"
	JobTransactions    = "wallet-transactions"
)

func snapshotOutcome(res snapshot.Result) Outcome {
	detail := fmt.Sprintf("fetched %d, skipped %d", res.RecordsFetched, res.RecordsSkipped)
	if failed := res.FailedViews(); len(failed) > 0 {
		detail += fmt.Sprintf(", views not repaired: %s", strings.Join(failed, ", "))
	}
	return Outcome{Rows: res.RowsPublished, Detail: detail}
}

func snapshotJob(refresh func(ctx context.Context) (snapshot.Result, error)) func(ctx context.Context) (Outcome, error) {
	return func(ctx context.Context) (Outcome, error) {
		res, err := refresh(ctx)
		if err != nil {
			return Outcome{}, err
		}
		return snapshotOutcome(res), nil
	}
}

func ingestJob(ingest func(ctx context.Context) (journal.Result, error)) func(ctx context.Context) (Outcome, error) {
	return func(ctx context.Context) (Outcome, error) {
		res, err := ingest(ctx)
		if err != nil {
			return Outcome{Rows: res.Inserted}, err
		}
		return Outcome{
			Rows:   res.Inserted,
			Detail: fmt.Sprintf("fetched %d", res.Fetched),
		}, nil
	}
}

// Builtin registers the jobs of evetrade in the order run-all executes them.
// Market orders come first since station names are resolved from them.
func Builtin(m market.Refresher, j journal.Ingester, tx journal.TransactionIngester, s stations.Resolver) *Registry {
	registry, err := NewRegistry(
		Job{
			Name:        JobMarketOrders,
			Description: "Replace market_orders with the current Jita 4-4 orders.",
			Critical:    true,
			Run:         snapshotJob(m.RefreshMarketOrders),
		},
		Job{
			Name:        JobBWFMarketOrders,
			Description: "Replace bwf_market_orders with the orders of the home structure.",
			Run:         snapshotJob(m.RefreshBWFMarketOrders),
		},
		Job{
			Name:        JobHangarInventory,
			Description: "Replace jita_hangar_inventory with the items in the Jita 4-4 hangar.",
			Run:         snapshotJob(m.RefreshHangarInventory),
		},
		Job{
			Name:        JobCharacterOrders,
			Description: "Replace character_orders with the character's open orders.",
			Run:         snapshotJob(m.RefreshCharacterOrders),
		},
		Job{
			Name:        JobBlueprints,
			Description: "Replace character_blueprints with the character's originals and copies.",
			Run:         snapshotJob(m.RefreshCharacterBlueprints),
		},
		Job{
			Name:        JobStationNames,
			Description: "Resolve names of stations and structures seen in the datasets.",
			Run: func(ctx context.Context) (Outcome, error) {
				res, err := s.Resolve(ctx)
				if err != nil {
					return Outcome{}, err
				}
				return Outcome{
					Rows:   int64(res.Checked),
					Detail: fmt.Sprintf("resolved %d, private %d, unknown %d", res.Resolved, res.Private, res.Unknown),
				}, nil
			},
		},
		Job{
			Name:        JobWalletJournal,
			Description: "Append new wallet journal entries.",
			Run:         ingestJob(j.Ingest),
		},
		Job{
			Name:        JobTransactions,
			Description: "Append new wallet transactions.",
			Run:         ingestJob(tx.Ingest),
		},
	)
	if err != nil {
		// names are constants, this only happens if they are edited into a collision
		panic(err)
	}
	return registry
}
