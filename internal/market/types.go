package market

// Order is a market order as returned by both the region and the structure
// order endpoints.
type Order struct {
	OrderID      int64   `json:"order_id"`
	TypeID       int64   `json:"type_id"`
	LocationID   int64   `json:"location_id"`
	SystemID     int64   `json:"system_id"`
	IsBuyOrder   bool    `json:"is_buy_order"`
	Price        float64 `json:"price"`
	VolumeRemain int64   `json:"volume_remain"`
	VolumeTotal  int64   `json:"volume_total"`
	Issued       string  `json:"issued"`
	Duration     int64   `json:"duration"`
	// Range is omitted by some structure markets, it defaults to "station".
	Range     string `json:"range"`
	MinVolume *int64 `json:"min_volume"`
}

// Asset is an item owned by a character.
type Asset struct {
	ItemID       int64  `json:"item_id"`
	TypeID       int64  `json:"type_id"`
	LocationID   int64  `json:"location_id"`
	LocationFlag string `json:"location_flag"`
	LocationType string `json:"location_type"`
	Quantity     *int64 `json:"quantity"`
	IsSingleton  bool   `json:"is_singleton"`
}

// CharacterOrder is an open order placed by the character.
type CharacterOrder struct {
	OrderID       int64    `json:"order_id"`
	TypeID        int64    `json:"type_id"`
	RegionID      int64    `json:"region_id"`
	LocationID    int64    `json:"location_id"`
	IsBuyOrder    bool     `json:"is_buy_order"`
	IsCorporation bool     `json:"is_corporation"`
	Price         float64  `json:"price"`
	VolumeTotal   int64    `json:"volume_total"`
	VolumeRemain  int64    `json:"volume_remain"`
	Issued        string   `json:"issued"`
	Duration      int64    `json:"duration"`
	Escrow        *float64 `json:"escrow"`
	MinVolume     *int64   `json:"min_volume"`
	Range         string   `json:"range"`
}

// Blueprint is a blueprint owned by the character. Quantity is -1 for an
// original, -2 for a copy and the stack size otherwise. Runs is -1 for originals.
type Blueprint struct {
	ItemID             int64  `json:"item_id"`
	TypeID             int64  `json:"type_id"`
	LocationID         int64  `json:"location_id"`
	LocationFlag       string `json:"location_flag"`
	Quantity           int64  `json:"quantity"`
	TimeEfficiency     int64  `json:"time_efficiency"`
	MaterialEfficiency int64  `json:"material_efficiency"`
	Runs               int64  `json:"runs"`
}

// Identity is the "identity" section of config.json5, which character and
// which places the datasets are pulled for.
type Identity struct {
	CharacterID   int64  `json:"character_id"`
	HomeRegionID  int64  `json:"home_region_id"`
	OpsRegionID   int64  `json:"ops_region_id"`
	JitaStationID int64  `json:"jita_station_id"`
	StructureID   int64  `json:"structure_id"`
	StructureName string `json:"structure_name"`
}

const (
	TheForgeRegionID = 10000002
	JitaStationID    = 60003760
)

// WithDefaults fills in The Forge and Jita 4-4 when they are not configured.
func (i Identity) WithDefaults() Identity {
	if i.HomeRegionID == 0 {
		i.HomeRegionID = TheForgeRegionID
	}
	if i.JitaStationID == 0 {
		i.JitaStationID = JitaStationID
	}
	return i
}
