package unifica

import (
	"context"
	"fmt"

	"github.com/bartek5186/billsync/internal/integrations/fetch"
	"github.com/bartek5186/billsync/internal/normalize"
)

// Audit przegląda wszystkie strony (bez checkpointu, bez zapisu) i zwraca rekordy
// danej UC w kształcie z API. UC porównywane po normalizacji.
func (u *Unifica) Audit(ctx context.Context, uc string) ([]fetch.Record, error) {
	target := normalize.Identifier(uc)
	if target == "" {
		return nil, fmt.Errorf("unifica audit: pusta uc")
	}

	var (
		found   []fetch.Record
		scanned int
	)
	for pg, err := range u.pager(1, nil).Pages(ctx) {
		if err != nil {
			return found, fmt.Errorf("unifica audit: page %d: %w", pg.Number, err)
		}
		scanned++
		for _, rec := range pg.Records {
			if normalize.Identifier(rec["uc"]) != target {
				continue
			}
			found = append(found, rec)

			ev := u.log.Info().
				Int("page", pg.Number).
				Int("match", len(found)).
				Str("mes_ref", normalize.String(rec["date_ref"])).
				Str("valor_concessionaria", normalize.String(rec["dealership_bill_cost"])).
				Str("valor_boleto", normalize.String(rec["invoice_total_cost"])).
				Str("status", normalize.String(rec["status"]))
			for _, k := range []string{"id", "_id", "uuid"} {
				if v, ok := rec[k]; ok {
					ev = ev.Str("key_"+k, normalize.String(v))
				}
			}
			ev.Msg("uc found")
		}
	}
	u.log.Info().Str("uc", target).Int("pages", scanned).Int("matches", len(found)).Msg("audit finished")
	return found, nil
}
