package market

import (
	"context"
	"evetrade/internal/components/assert"
	"evetrade/internal/components/chrono"
	"evetrade/internal/esi"
	"evetrade/internal/snapshot"
	"fmt"
)

// Refresher pulls the market datasets from ESI and publishes them.
type Refresher struct {
	esi      *esi.Client
	coord    *snapshot.Coordinator
	time     chrono.TimeAPI
	identity Identity
}

func NewRefresher(client *esi.Client, coord *snapshot.Coordinator, time chrono.TimeAPI, identity Identity) Refresher {
	assert.NotNil(client, "esi client")
	assert.NotNil(coord, "coordinator")
	assert.NotNil(time, "time")
	return Refresher{
		esi:      client,
		coord:    coord,
		time:     time,
		identity: identity.WithDefaults(),
	}
}

// RefreshMarketOrders replaces market_orders with the current orders in Jita 4-4.
func (r Refresher) RefreshMarketOrders(ctx context.Context) (snapshot.Result, error) {
	fetch := esi.Paginate[Order](
		r.esi,
		fmt.Sprintf("/markets/%d/orders/", r.identity.HomeRegionID),
		map[string]string{"order_type": "all"},
	)
	return snapshot.Refresh[Order](
		ctx,
		r.coord,
		MarketOrders,
		fetch,
		OrderRow(r.identity.HomeRegionID, r.identity.JitaStationID, r.time.Now()),
	)
}

// RefreshBWFMarketOrders replaces bwf_market_orders with the orders of the
// configured structure, which requires an access token with structure market scope.
func (r Refresher) RefreshBWFMarketOrders(ctx context.Context) (snapshot.Result, error) {
	if r.identity.StructureID == 0 {
		return snapshot.Result{}, fmt.Errorf("identity.structure_id is not configured")
	}
	fetch := esi.Paginate[Order](
		r.esi,
		fmt.Sprintf("/markets/structures/%d/", r.identity.StructureID),
		nil,
	)
	return snapshot.Refresh[Order](
		ctx,
		r.coord,
		BWFMarketOrders,
		fetch,
		OrderRow(r.identity.OpsRegionID, 0, r.time.Now()),
	)
}

// RefreshHangarInventory replaces jita_hangar_inventory with the character's
// items in the Jita 4-4 hangar.
func (r Refresher) RefreshHangarInventory(ctx context.Context) (snapshot.Result, error) {
	if r.identity.CharacterID == 0 {
		return snapshot.Result{}, fmt.Errorf("identity.character_id is not configured")
	}
	fetch := esi.Paginate[Asset](
		r.esi,
		fmt.Sprintf("/characters/%d/assets/", r.identity.CharacterID),
		nil,
	)
	return snapshot.Refresh[Asset](
		ctx,
		r.coord,
		HangarInventory,
		fetch,
		AssetRow(r.identity.JitaStationID, r.time.Now()),
	)
}

// RefreshCharacterOrders replaces character_orders with the character's open orders.
func (r Refresher) RefreshCharacterOrders(ctx context.Context) (snapshot.Result, error) {
	if r.identity.CharacterID == 0 {
		return snapshot.Result{}, fmt.Errorf("identity.character_id is not configured")
	}
	fetch := esi.Single[CharacterOrder](
		r.esi,
		fmt.Sprintf("/characters/%d/orders/", r.identity.CharacterID),
		nil,
	)
	return snapshot.Refresh[CharacterOrder](
		ctx,
		r.coord,
		CharacterOrders,
		fetch,
		CharacterOrderRow(r.identity.CharacterID, r.time.Now()),
	)
}

// RefreshCharacterBlueprints replaces character_blueprints with every blueprint
// the character owns.
func (r Refresher) RefreshCharacterBlueprints(ctx context.Context) (snapshot.Result, error) {
	if r.identity.CharacterID == 0 {
		return snapshot.Result{}, fmt.Errorf("identity.character_id is not configured")
	}
	fetch := esi.Paginate[Blueprint](
		r.esi,
		fmt.Sprintf("/characters/%d/blueprints/", r.identity.CharacterID),
		nil,
	)
	return snapshot.Refresh[Blueprint](
		ctx,
		r.coord,
		CharacterBlueprints,
		fetch,
		BlueprintRow(r.time.Now()),
	)
}
