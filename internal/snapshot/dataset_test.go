package snapshot

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDatasetValidate(t *testing.T) {
	table := []struct {
		name    string
		dataset Dataset
		valid   bool
	}{
		{name: "ok", dataset: testDataset, valid: true},
		{
			name:    "bad name",
			dataset: Dataset{Name: "orders; DROP TABLE x", Columns: testDataset.Columns, Key: []string{"order_id"}},
		},
		{name: "no columns", dataset: Dataset{Name: "orders", Key: []string{"order_id"}}},
		{name: "no key", dataset: Dataset{Name: "orders", Columns: testDataset.Columns}},
		{
			name:    "unknown key",
			dataset: Dataset{Name: "orders", Columns: testDataset.Columns, Key: []string{"id"}},
		},
		{
			name: "duplicate column",
			dataset: Dataset{
				Name:    "orders",
				Columns: []Column{{Name: "a", Decl: "TEXT"}, {Name: "a", Decl: "TEXT"}},
				Key:     []string{"a"},
			},
		},
		{
			name: "index on unknown column",
			dataset: Dataset{
				Name:    "orders",
				Columns: testDataset.Columns,
				Key:     []string{"order_id"},
				Indexes: []Index{{Name: "x", Columns: []string{"missing"}}},
			},
		},
	}

	for _, row := range table {
		t.Run(row.name, func(t *testing.T) {
			err := row.dataset.Validate()
			if row.valid {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestDatasetSQL(t *testing.T) {
	require.Equal(t, "market_orders_temp", testDataset.StagingName())
	require.Equal(
		t,
		`CREATE TABLE "market_orders_temp" (
    "order_id" INTEGER NOT NULL,
    "type_id" INTEGER NOT NULL,
    "price" REAL NOT NULL,
    "is_buy_order" INTEGER NOT NULL,
    PRIMARY KEY ("order_id")
)`,
		testDataset.CreateTableSQL("market_orders_temp"),
	)
	require.Equal(
		t,
		`INSERT OR REPLACE INTO "market_orders_temp" ("order_id", "type_id", "price", "is_buy_order") VALUES (?, ?, ?, ?)`,
		testDataset.insertSQL("market_orders_temp"),
	)
	require.Equal(t, "idx_market_orders_type", testDataset.indexName(testDataset.Indexes[0], false))
	require.Equal(t, "idx_market_orders_type_b", testDataset.indexName(testDataset.Indexes[0], true))
}
