package db

import (
	"context"
	"database/sql"
)

// Queries are the statements run against the incremental tables, these are
// upserted in place and never go through a snapshot refresh.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

const (
	StationTypeNPC       = "NPC Station"
	StationTypeStructure = "Player Structure"
	StationTypePrivate   = "Private Structure"
	StationTypeUnknown   = "Unknown"
)

type Station struct {
	LocationID  int64
	Name        string
	Type        sql.NullString
	LastUpdated sql.NullString
}

const upsertStation = `
INSERT OR REPLACE INTO stations (location_id, name, type, last_updated)
VALUES (?, ?, ?, ?)
`

type UpsertStationParams struct {
	LocationID  int64
	Name        string
	Type        string
	LastUpdated string
}

func (q *Queries) UpsertStation(ctx context.Context, arg UpsertStationParams) error {
	_, err := q.db.ExecContext(ctx, upsertStation,
		arg.LocationID,
		arg.Name,
		arg.Type,
		arg.LastUpdated,
	)
	return err
}

const getStation = `
SELECT location_id, name, type, last_updated FROM stations
WHERE location_id = ?
`

func (q *Queries) GetStation(ctx context.Context, locationID int64) (Station, error) {
	row := q.db.QueryRowContext(ctx, getStation, locationID)
	var i Station
	err := row.Scan(
		&i.LocationID,
		&i.Name,
		&i.Type,
		&i.LastUpdated,
	)
	return i, err
}

const listStationIDs = `
SELECT location_id FROM stations ORDER BY location_id
`

func (q *Queries) ListStationIDs(ctx context.Context) ([]int64, error) {
	rows, err := q.db.QueryContext(ctx, listStationIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []int64
	for rows.Next() {
		var locationID int64
		if err := rows.Scan(&locationID); err != nil {
			return nil, err
		}
		items = append(items, locationID)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const insertJournalEntry = `
INSERT OR IGNORE INTO wallet_journal (
    id, character_id, date, ref_type, amount, balance,
    description, first_party_id, second_party_id, reason,
    tax, tax_receiver_id, context_id, context_id_type
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

type InsertJournalEntryParams struct {
	ID            int64
	CharacterID   int64
	Date          string
	RefType       string
	Amount        sql.NullFloat64
	Balance       sql.NullFloat64
	Description   sql.NullString
	FirstPartyID  sql.NullInt64
	SecondPartyID sql.NullInt64
	Reason        sql.NullString
	Tax           sql.NullFloat64
	TaxReceiverID sql.NullInt64
	ContextID     sql.NullInt64
	ContextIDType sql.NullString
}

// InsertJournalEntry returns false when an entry with the same id is already stored.
func (q *Queries) InsertJournalEntry(ctx context.Context, arg InsertJournalEntryParams) (bool, error) {
	res, err := q.db.ExecContext(ctx, insertJournalEntry,
		arg.ID,
		arg.CharacterID,
		arg.Date,
		arg.RefType,
		arg.Amount,
		arg.Balance,
		arg.Description,
		arg.FirstPartyID,
		arg.SecondPartyID,
		arg.Reason,
		arg.Tax,
		arg.TaxReceiverID,
		arg.ContextID,
		arg.ContextIDType,
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	return affected > 0, err
}

const countJournalEntries = `
SELECT count(*) FROM wallet_journal WHERE character_id = ?
`

func (q *Queries) CountJournalEntries(ctx context.Context, characterID int64) (int64, error) {
	row := q.db.QueryRowContext(ctx, countJournalEntries, characterID)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const insertWalletTransaction = `
INSERT OR IGNORE INTO wallet_transactions (
    transaction_id, character_id, date, type_id, location_id,
    quantity, unit_price, client_id, is_buy, is_personal,
    journal_ref_id, last_updated
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

type InsertWalletTransactionParams struct {
	TransactionID int64
	CharacterID   int64
	Date          string
	TypeID        int64
	LocationID    int64
	Quantity      int64
	UnitPrice     float64
	ClientID      int64
	IsBuy         bool
	IsPersonal    bool
	JournalRefID  sql.NullInt64
	LastUpdated   string
}

// InsertWalletTransaction returns false when the transaction is already stored.
func (q *Queries) InsertWalletTransaction(ctx context.Context, arg InsertWalletTransactionParams) (bool, error) {
	res, err := q.db.ExecContext(ctx, insertWalletTransaction,
		arg.TransactionID,
		arg.CharacterID,
		arg.Date,
		arg.TypeID,
		arg.LocationID,
		arg.Quantity,
		arg.UnitPrice,
		arg.ClientID,
		arg.IsBuy,
		arg.IsPersonal,
		arg.JournalRefID,
		arg.LastUpdated,
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	return affected > 0, err
}

const countWalletTransactions = `
SELECT count(*) FROM wallet_transactions WHERE character_id = ?
`

func (q *Queries) CountWalletTransactions(ctx context.Context, characterID int64) (int64, error) {
	row := q.db.QueryRowContext(ctx, countWalletTransactions, characterID)
	var count int64
	err := row.Scan(&count)
	return count, err
}
