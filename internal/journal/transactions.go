package journal

import (
	"context"
	"evetrade/internal/components/assert"
	"evetrade/internal/components/chrono"
	"evetrade/internal/components/db"
	"evetrade/internal/components/telemetry"
	"evetrade/internal/esi"
	"fmt"
	"time"
)

const (
	report_transactions_ingest = "transactions.ingest"
)

// Transaction is a market transaction of the character's wallet.
type Transaction struct {
	TransactionID int64   `json:"transaction_id"`
	Date          string  `json:"date"`
	TypeID        int64   `json:"type_id"`
	LocationID    int64   `json:"location_id"`
	Quantity      int64   `json:"quantity"`
	UnitPrice     float64 `json:"unit_price"`
	ClientID      int64   `json:"client_id"`
	IsBuy         bool    `json:"is_buy"`
	IsPersonal    bool    `json:"is_personal"`
	JournalRefID  *int64  `json:"journal_ref_id"`
}

func (t Transaction) params(characterID int64, lastUpdated string) db.InsertWalletTransactionParams {
	return db.InsertWalletTransactionParams{
		TransactionID: t.TransactionID,
		CharacterID:   characterID,
		Date:          t.Date,
		TypeID:        t.TypeID,
		LocationID:    t.LocationID,
		Quantity:      t.Quantity,
		UnitPrice:     t.UnitPrice,
		ClientID:      t.ClientID,
		IsBuy:         t.IsBuy,
		IsPersonal:    t.IsPersonal,
		JournalRefID:  nullInt(t.JournalRefID),
		LastUpdated:   lastUpdated,
	}
}

// TransactionIngester appends new wallet transactions. ESI answers with the
// most recent transactions in one unpaged list.
type TransactionIngester struct {
	esi         *esi.Client
	makeTx      db.MakeTx
	time        chrono.TimeAPI
	tel         telemetry.API
	characterID int64
}

func NewTransactionIngester(client *esi.Client, makeTx db.MakeTx, time chrono.TimeAPI, tel telemetry.API, characterID int64) TransactionIngester {
	assert.NotNil(client, "esi client")
	assert.NotNil(makeTx, "makeTx")
	assert.NotNil(time, "time")
	return TransactionIngester{
		esi:         client,
		makeTx:      makeTx,
		time:        time,
		tel:         telemetry.NewScopedAPI("journal", tel),
		characterID: characterID,
	}
}

func (i TransactionIngester) Ingest(ctx context.Context) (Result, error) {
	if i.characterID == 0 {
		return Result{}, fmt.Errorf("identity.character_id is not configured")
	}

	transactions, err := esi.Get[[]Transaction](
		ctx,
		i.esi,
		fmt.Sprintf("/characters/%d/wallet/transactions/", i.characterID),
		nil,
	)
	if err != nil {
		i.tel.ReportBroken(report_transactions_ingest, err)
		return Result{}, fmt.Errorf("fetch wallet transactions: %w", err)
	}

	inserted, err := i.insert(ctx, transactions)
	if err != nil {
		i.tel.ReportBroken(report_transactions_ingest, err)
		return Result{Fetched: int64(len(transactions))}, err
	}

	i.tel.ReportCount("transactions_inserted", inserted)
	return Result{Fetched: int64(len(transactions)), Inserted: inserted}, nil
}

func (i TransactionIngester) insert(ctx context.Context, transactions []Transaction) (int64, error) {
	tx, discard, commit, err := i.makeTx(ctx)
	if err != nil {
		return 0, err
	}
	defer discard()

	lastUpdated := i.time.Now().UTC().Format(time.RFC3339)
	var inserted int64
	for _, t := range transactions {
		if t.TransactionID == 0 || t.Date == "" || t.TypeID == 0 {
			return 0, fmt.Errorf("wallet transaction %d: missing transaction_id, date or type_id", t.TransactionID)
		}
		ok, err := tx.InsertWalletTransaction(ctx, t.params(i.characterID, lastUpdated))
		if err != nil {
			return 0, fmt.Errorf("insert wallet transaction %d: %w", t.TransactionID, err)
		}
		if ok {
			inserted++
		}
	}
	return inserted, commit()
}
