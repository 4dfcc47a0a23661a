package market

import (
	"errors"
	"evetrade/internal/snapshot"
	"fmt"
	"time"
)

var orderColumns = []snapshot.Column{
	{Name: "order_id", Decl: "INTEGER NOT NULL"},
	{Name: "region_id", Decl: "INTEGER NOT NULL"},
	{Name: "type_id", Decl: "INTEGER NOT NULL"},
	{Name: "location_id", Decl: "INTEGER NOT NULL"},
	{Name: "is_buy_order", Decl: "INTEGER NOT NULL"},
	{Name: "price", Decl: "REAL NOT NULL"},
	{Name: "volume_remain", Decl: "INTEGER NOT NULL"},
	{Name: "volume_total", Decl: "INTEGER NOT NULL"},
	{Name: "issued", Decl: "TEXT NOT NULL"},
	{Name: "duration", Decl: "INTEGER NOT NULL"},
	{Name: "range", Decl: "TEXT NOT NULL"},
	{Name: "min_volume", Decl: "INTEGER"},
	{Name: "last_updated", Decl: "TEXT NOT NULL"},
}

func ordersDataset(name string) snapshot.Dataset {
	return snapshot.Dataset{
		Name:    name,
		Columns: orderColumns,
		Key:     []string{"order_id"},
		Indexes: []snapshot.Index{
			{Name: "type_region", Columns: []string{"type_id", "region_id", "is_buy_order"}},
			{Name: "location", Columns: []string{"location_id"}},
		},
	}
}

var (
	// MarketOrders holds the orders sitting in Jita 4-4.
	MarketOrders = ordersDataset("market_orders")
	// BWFMarketOrders holds every order on the market of the home structure.
	BWFMarketOrders = ordersDataset("bwf_market_orders")

	// HangarInventory holds the items in the character's Jita 4-4 hangar.
	HangarInventory = snapshot.Dataset{
		Name: "jita_hangar_inventory",
		Columns: []snapshot.Column{
			{Name: "item_id", Decl: "INTEGER NOT NULL"},
			{Name: "type_id", Decl: "INTEGER NOT NULL"},
			{Name: "location_id", Decl: "INTEGER NOT NULL"},
			{Name: "location_flag", Decl: "TEXT NOT NULL"},
			{Name: "quantity", Decl: "INTEGER NOT NULL"},
			{Name: "is_singleton", Decl: "INTEGER NOT NULL"},
			{Name: "last_updated", Decl: "TEXT NOT NULL"},
		},
		Key: []string{"item_id"},
		Indexes: []snapshot.Index{
			{Name: "type", Columns: []string{"type_id"}},
		},
	}
)

var (
	// CharacterOrders holds the character's open orders, filled or expired orders
	// drop out on the next refresh.
	CharacterOrders = snapshot.Dataset{
		Name: "character_orders",
		Columns: []snapshot.Column{
			{Name: "order_id", Decl: "INTEGER NOT NULL"},
			{Name: "character_id", Decl: "INTEGER NOT NULL"},
			{Name: "type_id", Decl: "INTEGER NOT NULL"},
			{Name: "region_id", Decl: "INTEGER NOT NULL"},
			{Name: "location_id", Decl: "INTEGER NOT NULL"},
			{Name: "is_buy_order", Decl: "INTEGER NOT NULL"},
			{Name: "is_corporation", Decl: "INTEGER NOT NULL"},
			{Name: "price", Decl: "REAL NOT NULL"},
			{Name: "volume_total", Decl: "INTEGER NOT NULL"},
			{Name: "volume_remain", Decl: "INTEGER NOT NULL"},
			{Name: "issued", Decl: "TEXT NOT NULL"},
			{Name: "duration", Decl: "INTEGER NOT NULL"},
			{Name: "escrow", Decl: "REAL"},
			{Name: "min_volume", Decl: "INTEGER"},
			{Name: "range", Decl: "TEXT NOT NULL"},
			{Name: "state", Decl: "TEXT NOT NULL"},
			{Name: "last_updated", Decl: "TEXT NOT NULL"},
		},
		Key: []string{"order_id"},
		Indexes: []snapshot.Index{
			{Name: "type", Columns: []string{"type_id", "is_buy_order"}},
		},
	}

	// CharacterBlueprints holds every blueprint original and copy of the character.
	CharacterBlueprints = snapshot.Dataset{
		Name: "character_blueprints",
		Columns: []snapshot.Column{
			{Name: "item_id", Decl: "INTEGER NOT NULL"},
			{Name: "type_id", Decl: "INTEGER NOT NULL"},
			{Name: "location_id", Decl: "INTEGER NOT NULL"},
			{Name: "location_flag", Decl: "TEXT NOT NULL"},
			{Name: "quantity", Decl: "INTEGER NOT NULL"},
			{Name: "time_efficiency", Decl: "INTEGER NOT NULL"},
			{Name: "material_efficiency", Decl: "INTEGER NOT NULL"},
			{Name: "runs", Decl: "INTEGER NOT NULL"},
			{Name: "last_updated", Decl: "TEXT NOT NULL"},
		},
		Key: []string{"item_id"},
		Indexes: []snapshot.Index{
			{Name: "type", Columns: []string{"type_id"}},
			{Name: "runs", Columns: []string{"runs"}},
		},
	}
)

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func validateOrder(o Order) error {
	var errs []error
	if o.OrderID <= 0 {
		errs = append(errs, fmt.Errorf("invalid order_id %d", o.OrderID))
	}
	if o.TypeID <= 0 {
		errs = append(errs, fmt.Errorf("invalid type_id %d", o.TypeID))
	}
	if o.Issued == "" {
		errs = append(errs, errors.New("missing issued"))
	}
	if o.Price < 0 {
		errs = append(errs, fmt.Errorf("negative price %f", o.Price))
	}
	return errors.Join(errs...)
}

// OrderRow maps an order into a row of an orders dataset, regionID is recorded
// as given since the structure endpoint does not say. A non-zero stationID
// skips orders located anywhere else.
func OrderRow(regionID, stationID int64, updatedAt time.Time) snapshot.RowMapper[Order] {
	lastUpdated := timestamp(updatedAt)
	return func(o Order) ([]any, error) {
		if stationID != 0 && o.LocationID != stationID {
			return nil, snapshot.ErrSkipRecord
		}
		err := validateOrder(o)
		if err != nil {
			return nil, fmt.Errorf("order %d: %w", o.OrderID, err)
		}

		orderRange := o.Range
		if orderRange == "" {
			orderRange = "station"
		}
		minVolume := int64(1)
		if o.MinVolume != nil {
			minVolume = *o.MinVolume
		}

		return []any{
			o.OrderID,
			regionID,
			o.TypeID,
			o.LocationID,
			boolInt(o.IsBuyOrder),
			o.Price,
			o.VolumeRemain,
			o.VolumeTotal,
			o.Issued,
			o.Duration,
			orderRange,
			minVolume,
			lastUpdated,
		}, nil
	}
}

// AssetRow maps an asset into a row of HangarInventory, skipping anything that
// is not sitting directly in the hangar of the station.
func AssetRow(stationID int64, updatedAt time.Time) snapshot.RowMapper[Asset] {
	lastUpdated := timestamp(updatedAt)
	return func(a Asset) ([]any, error) {
		if a.LocationID != stationID || a.LocationFlag != "Hangar" {
			return nil, snapshot.ErrSkipRecord
		}
		if a.ItemID <= 0 || a.TypeID <= 0 {
			return nil, fmt.Errorf("asset %d: invalid item_id or type_id %d", a.ItemID, a.TypeID)
		}
		quantity := int64(1)
		if a.Quantity != nil {
			quantity = *a.Quantity
		}
		return []any{
			a.ItemID,
			a.TypeID,
			a.LocationID,
			a.LocationFlag,
			quantity,
			boolInt(a.IsSingleton),
			lastUpdated,
		}, nil
	}
}

// CharacterOrderRow maps an open order of characterID into a row of CharacterOrders.
func CharacterOrderRow(characterID int64, updatedAt time.Time) snapshot.RowMapper[CharacterOrder] {
	lastUpdated := timestamp(updatedAt)
	return func(o CharacterOrder) ([]any, error) {
		err := validateOrder(Order{
			OrderID: o.OrderID,
			TypeID:  o.TypeID,
			Issued:  o.Issued,
			Price:   o.Price,
		})
		if err != nil {
			return nil, fmt.Errorf("character order %d: %w", o.OrderID, err)
		}

		var escrow any
		if o.Escrow != nil {
			escrow = *o.Escrow
		}
		minVolume := int64(1)
		if o.MinVolume != nil {
			minVolume = *o.MinVolume
		}
		orderRange := o.Range
		if orderRange == "" {
			orderRange = "station"
		}

		return []any{
			o.OrderID,
			characterID,
			o.TypeID,
			o.RegionID,
			o.LocationID,
			boolInt(o.IsBuyOrder),
			boolInt(o.IsCorporation),
			o.Price,
			o.VolumeTotal,
			o.VolumeRemain,
			o.Issued,
			o.Duration,
			escrow,
			minVolume,
			orderRange,
			"active",
			lastUpdated,
		}, nil
	}
}

// BlueprintRow maps a blueprint into a row of CharacterBlueprints.
func BlueprintRow(updatedAt time.Time) snapshot.RowMapper[Blueprint] {
	lastUpdated := timestamp(updatedAt)
	return func(b Blueprint) ([]any, error) {
		var errs []error
		if b.ItemID <= 0 {
			errs = append(errs, fmt.Errorf("invalid item_id %d", b.ItemID))
		}
		if b.TypeID <= 0 {
			errs = append(errs, fmt.Errorf("invalid type_id %d", b.TypeID))
		}
		if b.MaterialEfficiency < 0 || b.MaterialEfficiency > 10 {
			errs = append(errs, fmt.Errorf("material_efficiency %d out of range", b.MaterialEfficiency))
		}
		if b.TimeEfficiency < 0 || b.TimeEfficiency > 20 {
			errs = append(errs, fmt.Errorf("time_efficiency %d out of range", b.TimeEfficiency))
		}
		if err := errors.Join(errs...); err != nil {
			return nil, fmt.Errorf("blueprint %d: %w", b.ItemID, err)
		}
		return []any{
			b.ItemID,
			b.TypeID,
			b.LocationID,
			b.LocationFlag,
			b.Quantity,
			b.TimeEfficiency,
			b.MaterialEfficiency,
			b.Runs,
			lastUpdated,
		}, nil
	}
}
