package journal

import (
	"context"
	"database/sql"
	"evetrade/internal/components/assert"
	"evetrade/internal/components/db"
	"evetrade/internal/components/telemetry"
	"evetrade/internal/esi"
	"fmt"
)

const (
	report_ingester_ingest = "ingester.ingest"
)

// Entry is a wallet journal entry, every field but the id, date and ref type is optional.
type Entry struct {
	ID            int64    `json:"id"`
	Date          string   `json:"date"`
	RefType       string   `json:"ref_type"`
	Amount        *float64 `json:"amount"`
	Balance       *float64 `json:"balance"`
	Description   *string  `json:"description"`
	FirstPartyID  *int64   `json:"first_party_id"`
	SecondPartyID *int64   `json:"second_party_id"`
	Reason        *string  `json:"reason"`
	Tax           *float64 `json:"tax"`
	TaxReceiverID *int64   `json:"tax_receiver_id"`
	ContextID     *int64   `json:"context_id"`
	ContextIDType *string  `json:"context_id_type"`
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func (e Entry) params(characterID int64) db.InsertJournalEntryParams {
	return db.InsertJournalEntryParams{
		ID:            e.ID,
		CharacterID:   characterID,
		Date:          e.Date,
		RefType:       e.RefType,
		Amount:        nullFloat(e.Amount),
		Balance:       nullFloat(e.Balance),
		Description:   nullString(e.Description),
		FirstPartyID:  nullInt(e.FirstPartyID),
		SecondPartyID: nullInt(e.SecondPartyID),
		Reason:        nullString(e.Reason),
		Tax:           nullFloat(e.Tax),
		TaxReceiverID: nullInt(e.TaxReceiverID),
		ContextID:     nullInt(e.ContextID),
		ContextIDType: nullString(e.ContextIDType),
	}
}

type Result struct {
	Fetched  int64
	Inserted int64
}

// Ingester appends new wallet journal entries. Entries are never updated or
// removed, ESI only keeps the last 30 days so older ones exist nowhere else.
type Ingester struct {
	esi         *esi.Client
	makeTx      db.MakeTx
	tel         telemetry.API
	characterID int64
}

func NewIngester(client *esi.Client, makeTx db.MakeTx, tel telemetry.API, characterID int64) Ingester {
	assert.NotNil(client, "esi client")
	assert.NotNil(makeTx, "makeTx")
	return Ingester{
		esi:         client,
		makeTx:      makeTx,
		tel:         telemetry.NewScopedAPI("journal", tel),
		characterID: characterID,
	}
}

// Ingest stores every journal page in its own transaction. A page that fails
// to fetch stops the walk but keeps the pages before it, they are picked up
// again as duplicates on the next run.
func (i Ingester) Ingest(ctx context.Context) (Result, error) {
	if i.characterID == 0 {
		return Result{}, fmt.Errorf("identity.character_id is not configured")
	}

	var result Result
	pages := esi.Paginate[Entry](
		i.esi,
		fmt.Sprintf("/characters/%d/wallet/journal/", i.characterID),
		nil,
	)
	for page, err := range pages(ctx) {
		if err != nil {
			i.tel.ReportBroken(report_ingester_ingest, err)
			return result, fmt.Errorf("fetch wallet journal: %w", err)
		}
		inserted, err := i.insertPage(ctx, page)
		if err != nil {
			i.tel.ReportBroken(report_ingester_ingest, err)
			return result, err
		}
		result.Fetched += int64(len(page))
		result.Inserted += inserted
	}

	i.tel.ReportCount("entries_inserted", result.Inserted)
	return result, nil
}

func (i Ingester) insertPage(ctx context.Context, page []Entry) (int64, error) {
	tx, discard, commit, err := i.makeTx(ctx)
	if err != nil {
		return 0, err
	}
	defer discard()

	var inserted int64
	for _, entry := range page {
		if entry.ID == 0 || entry.Date == "" || entry.RefType == "" {
			return 0, fmt.Errorf("journal entry %d: missing id, date or ref_type", entry.ID)
		}
		ok, err := tx.InsertJournalEntry(ctx, entry.params(i.characterID))
		if err != nil {
			return 0, fmt.Errorf("insert journal entry %d: %w", entry.ID, err)
		}
		if ok {
			inserted++
		}
	}
	return inserted, commit()
}
