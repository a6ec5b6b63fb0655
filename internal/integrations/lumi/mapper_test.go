package lumi

import (
	"testing"

	"github.com/bartek5186/billsync/internal/db"
	"github.com/bartek5186/billsync/internal/integrations/fetch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlatten(t *testing.T) {
	t.Run("nested object", func(t *testing.T) {
		out := Flatten(fetch.Record{"payments": map[string]any{"economia": "5", "sent_at": "2024-01-02T10:00:00"}})
		assert.Equal(t, "5", out["economia"])
		assert.Equal(t, "2024-01-02T10:00:00", out["sent_at"])
	})
	t.Run("list takes first", func(t *testing.T) {
		out := Flatten(fetch.Record{"payments": []any{
			map[string]any{"vencimento": "2024-02-10"},
			map[string]any{"vencimento": "2024-03-10"},
		}})
		assert.Equal(t, "2024-02-10", out["vencimento"])
	})
	t.Run("dotted keys", func(t *testing.T) {
		out := Flatten(fetch.Record{"payments.remuneracao_geracao": "12,00"})
		assert.Equal(t, "12,00", out["remuneracao_geracao"])
	})
	t.Run("top level wins", func(t *testing.T) {
		out := Flatten(fetch.Record{"economia": "1", "payments": map[string]any{"economia": "2"}})
		assert.Equal(t, "1", out["economia"])
	})
	t.Run("empty list", func(t *testing.T) {
		out := Flatten(fetch.Record{"payments": []any{}})
		assert.Nil(t, out["economia"])
	})
	t.Run("input untouched", func(t *testing.T) {
		in := fetch.Record{"payments": map[string]any{"economia": "2"}}
		_ = Flatten(in)
		_, ok := in["economia"]
		assert.False(t, ok)
	})
}

func TestMapRecord(t *testing.T) {
	row, ok := MapRecord(fetch.Record{
		"uc":                        " 3001.234-5 ",
		"mes_referencia":            "2024-04",
		"nome":                      "Mercado Boa Vista",
		"consumo_total_faturado_qt": "1.050",
		"valor_total_fatura":        "R$ 812,40",
		"drive_id":                  "1AbC",
		"payments": []any{map[string]any{
			"energia_compensada":    "900,5",
			"economia":              "120,00",
			"remuneracao_geracao":   650.25,
			"status_cobranca_asaas": "PENDING",
			"vencimento":            "15/05/2024",
			"sent_at":               "2024-05-01T08:30:00Z",
		}},
	}, "LUMI_COOP", fixedNow)
	require.True(t, ok)

	assert.Equal(t, "30012345", row.UC)
	assert.Equal(t, db.Date("2024-04-01"), row.MesReferencia)
	assert.Equal(t, "Mercado Boa Vista", *row.NomeCliente)
	assert.Equal(t, 1050.0, row.ConsumoKWh)
	assert.Equal(t, 812.40, row.ValorTotalFatura)
	assert.Equal(t, 900.5, row.EnergiaCompensada)
	assert.Equal(t, 120.0, row.EconomiaTotal)
	assert.Equal(t, 650.25, row.RemuneracaoGeracao)
	assert.Equal(t, "PENDING", *row.StatusPagamento)
	assert.Equal(t, db.Date("2024-05-15"), row.Vencimento)
	assert.Equal(t, db.Date("2024-05-01"), row.DataEnvio)
	assert.Equal(t, "1AbC", *row.LinkBoleto)
	assert.Equal(t, "LUMI_COOP", row.OrigemConta)
}

func TestMapRecord_RequiresKey(t *testing.T) {
	_, ok := MapRecord(fetch.Record{"mes_referencia": "2024-01-01"}, "LUMI", fixedNow)
	assert.False(t, ok)
	_, ok = MapRecord(fetch.Record{"uc": "1"}, "LUMI", fixedNow)
	assert.False(t, ok)

	rows, dropped := MapBatch([]fetch.Record{{"uc": "1", "mes_referencia": "2024-01"}, {"uc": "2"}}, "LUMI", fixedNow)
	assert.Len(t, rows, 1)
	assert.Equal(t, 1, dropped)
}
