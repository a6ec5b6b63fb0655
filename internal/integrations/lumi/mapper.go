package lumi

import (
	"time"

	"github.com/bartek5186/billsync/internal/db"
	"github.com/bartek5186/billsync/internal/integrations/fetch"
	"github.com/bartek5186/billsync/internal/normalize"
)

// pola, które Lumi oddaje w zagnieżdżonym "payments" (obiekt albo lista)
// albo spłaszczone jako "payments.<pole>"
var paymentFields = []string{
	"energia_compensada", "economia", "status_cobranca_asaas",
	"vencimento", "remuneracao_geracao", "sent_at",
}

// Flatten przenosi pola płatności na najwyższy poziom, jeśli ich tam brak.
// Z listy płatności brana jest pierwsza.
func Flatten(rec fetch.Record) fetch.Record {
	out := make(fetch.Record, len(rec)+len(paymentFields))
	for k, v := range rec {
		out[k] = v
	}

	var pay map[string]any
	switch p := rec["payments"].(type) {
	case map[string]any:
		pay = p
	case []any:
		if len(p) > 0 {
			pay, _ = p[0].(map[string]any)
		}
	}

	for _, f := range paymentFields {
		if normalize.String(out[f]) != "" {
			continue
		}
		if v, ok := rec["payments."+f]; ok && normalize.String(v) != "" {
			out[f] = v
			continue
		}
		if pay != nil {
			if v, ok := pay[f]; ok {
				out[f] = v
			}
		}
	}
	return out
}

// MapRecord mapuje fakturę Lumi na wiersz raw_lumi; false bez uc lub mes_referencia.
func MapRecord(raw fetch.Record, account string, now time.Time) (db.RawLumi, bool) {
	rec := Flatten(raw)
	uc := normalize.Identifier(rec["uc"])
	mes := normalize.Date(rec["mes_referencia"])
	if uc == "" || mes == "" {
		return db.RawLumi{}, false
	}

	return db.RawLumi{
		InvoiceRow: db.InvoiceRow{
			UC:                 uc,
			MesReferencia:      db.Date(mes),
			NomeCliente:        normalize.OptString(rec["nome"]),
			ConsumoKWh:         normalize.Amount(rec["consumo_total_faturado_qt"]),
			EnergiaCompensada:  normalize.Amount(rec["energia_compensada"]),
			EconomiaTotal:      normalize.Amount(rec["economia"]),
			RemuneracaoGeracao: normalize.Amount(rec["remuneracao_geracao"]),
			StatusPagamento:    normalize.OptString(rec["status_cobranca_asaas"]),
			Vencimento:         db.Date(normalize.Date(rec["vencimento"])),
			OrigemConta:        account,
			UpdatedAt:          now,
		},
		ValorTotalFatura: normalize.Amount(rec["valor_total_fatura"]),
		DataEnvio:        db.Date(normalize.Date(rec["sent_at"])),
		LinkBoleto:       normalize.OptString(rec["drive_id"]),
	}, true
}

func MapBatch(recs []fetch.Record, account string, now time.Time) ([]db.RawLumi, int) {
	rows := make([]db.RawLumi, 0, len(recs))
	for _, r := range recs {
		if row, ok := MapRecord(r, account, now); ok {
			rows = append(rows, row)
		}
	}
	return rows, len(recs) - len(rows)
}
