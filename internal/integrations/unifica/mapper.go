package unifica

import (
	"time"

	"github.com/bartek5186/billsync/internal/db"
	"github.com/bartek5186/billsync/internal/integrations/fetch"
	"github.com/bartek5186/billsync/internal/normalize"
)

// MapRecord mapuje rekord z /operacao/cobrancas na wiersz raw_unifica.
// false, gdy brakuje uc albo mes_referencia nie jest pełną datą.
func MapRecord(rec fetch.Record, now time.Time) (db.RawUnifica, bool) {
	uc := normalize.Identifier(rec["uc"])
	mes := normalize.Date(rec["date_ref"])
	if uc == "" || len(mes) != 10 {
		return db.RawUnifica{}, false
	}

	link := normalize.OptString(rec["billing_file_key"])
	if link == nil {
		link = normalize.OptString(rec["dealership_bill_file_key"])
	}

	return db.RawUnifica{
		InvoiceRow: db.InvoiceRow{
			UC:                 uc,
			MesReferencia:      db.Date(mes),
			NomeCliente:        normalize.OptString(rec["client_name"]),
			ConsumoKWh:         normalize.Amount(rec["kWh_consumption"]),
			EnergiaCompensada:  normalize.Amount(rec["kWh_consumption_offset"]),
			EconomiaTotal:      normalize.Amount(rec["savings_brl"]),
			RemuneracaoGeracao: normalize.Amount(rec["invoice_total_cost"]),
			StatusPagamento:    normalize.OptString(rec["status"]),
			Vencimento:         db.Date(normalize.Date(rec["due_date"])),
			OrigemConta:        Origem,
			UpdatedAt:          now,
		},
		ValorFatura:               normalize.Amount(rec["dealership_bill_cost"]),
		CodigoBarras:              normalize.OptString(rec["bar_code"]),
		CodigoPix:                 normalize.OptString(rec["pix_code"]),
		DataEmissaoConcessionaria: db.Date(normalize.Date(rec["dealership_bill_issue_date"])),
		VencimentoConcessionaria:  db.Date(normalize.Date(rec["dealership_bill_due_date"])),
		DataEmissao:               db.Date(normalize.Date(rec["issue_date"])),
		LinkFatura:                link,
	}, true
}

// MapPage zwraca zmapowane wiersze i liczbę odrzuconych rekordów.
func MapPage(recs []fetch.Record, now time.Time) ([]db.RawUnifica, int) {
	rows := make([]db.RawUnifica, 0, len(recs))
	for _, r := range recs {
		row, ok := MapRecord(r, now)
		if !ok {
			continue
		}
		rows = append(rows, row)
	}
	return rows, len(recs) - len(rows)
}
