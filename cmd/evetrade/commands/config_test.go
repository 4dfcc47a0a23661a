package commands

import (
	"evetrade/internal/components/configutil"
	"evetrade/internal/components/db"
	"evetrade/internal/jobs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExampleConfig(t *testing.T) {
	config, err := configutil.ReadConfig[Config]("../../../config.example.json5")
	require.NoError(t, err)

	require.Equal(t, "<dev_state>/evetrade.db", config.Database.File)
	require.Equal(t, int64(60003760), config.Identity.JitaStationID)
	require.Equal(t, 1800, config.Refresh.LockTTLSeconds)

	names := []string{
		jobs.JobMarketOrders,
		jobs.JobBWFMarketOrders,
		jobs.JobHangarInventory,
		jobs.JobCharacterOrders,
		jobs.JobBlueprints,
		jobs.JobStationNames,
		jobs.JobWalletJournal,
		jobs.JobTransactions,
	}
	for _, name := range names {
		require.Contains(t, config.Schedule.Jobs, name)
	}
}

func TestConfigValidate(t *testing.T) {
	table := []struct {
		name   string
		config Config
		valid  bool
	}{
		{
			name:   "file database",
			config: Config{Database: dbConfig("evetrade.db", "")},
			valid:  true,
		},
		{
			name:   "remote database",
			config: Config{Database: dbConfig("", "libsql://evetrade.turso.io")},
			valid:  true,
		},
		{name: "no database"},
		{
			name: "bad cron spec",
			config: Config{
				Database: dbConfig("evetrade.db", ""),
				Schedule: ScheduleConfig{Jobs: map[string]string{"market-orders": "every half hour"}},
			},
		},
		{
			name: "negative lock ttl",
			config: Config{
				Database: dbConfig("evetrade.db", ""),
				Refresh:  RefreshConfig{LockTTLSeconds: -1},
			},
		},
	}

	for _, row := range table {
		t.Run(row.name, func(t *testing.T) {
			err := row.config.Validate()
			if row.valid {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestLocalConfigOverrides(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json5"), []byte(`{
		database: { file: "evetrade.db" },
		esi: { user_agent: "evetrade" },
	}`), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.local.json5"), []byte(`{
		esi: { access_token: "secret" },
	}`), 0600))

	config, err := configutil.ReadConfig[Config](filepath.Join(dir, "config.json5"))
	require.NoError(t, err)
	require.Equal(t, "evetrade", config.Esi.UserAgent)
	require.Equal(t, "secret", config.Esi.AccessToken)
}

func dbConfig(file, url string) db.Config {
	return db.Config{File: file, Url: url}
}
