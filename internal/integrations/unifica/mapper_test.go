package unifica

import (
	"encoding/json"
	"testing"

	"github.com/bartek5186/billsync/internal/db"
	"github.com/bartek5186/billsync/internal/integrations/fetch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapRecord_AllFields(t *testing.T) {
	r := fetch.Record{
		"uc":                         " 20.337.095-1 ",
		"date_ref":                   "2024-03",
		"client_name":                "Padaria Sol",
		"dealership_bill_cost":       "R$ 1.234,56",
		"invoice_total_cost":         json.Number("321.5"),
		"kWh_consumption":            "1.500",
		"kWh_consumption_offset":     1200,
		"savings_brl":                "45,10",
		"status":                     "PENDENTE",
		"due_date":                   "10/04/2024",
		"bar_code":                   "8364000000",
		"pix_code":                   "",
		"dealership_bill_issue_date": "2024-03-28T12:00:00.000Z",
		"dealership_bill_due_date":   "2024-04-08",
		"issue_date":                 "2024-03-30",
		"billing_file_key":           nil,
		"dealership_bill_file_key":   "files/abc.pdf",
	}

	row, ok := MapRecord(r, fixedNow)
	require.True(t, ok)
	assert.Equal(t, "203370951", row.UC)
	assert.Equal(t, db.Date("2024-03-01"), row.MesReferencia)
	assert.Equal(t, "Padaria Sol", *row.NomeCliente)
	assert.Equal(t, 1234.56, row.ValorFatura)
	assert.Equal(t, 321.5, row.RemuneracaoGeracao)
	assert.Equal(t, 1500.0, row.ConsumoKWh)
	assert.Equal(t, 1200.0, row.EnergiaCompensada)
	assert.Equal(t, 45.10, row.EconomiaTotal)
	assert.Equal(t, "PENDENTE", *row.StatusPagamento)
	assert.Equal(t, db.Date("2024-04-10"), row.Vencimento)
	assert.Nil(t, row.CodigoPix)
	assert.Equal(t, db.Date("2024-03-28"), row.DataEmissaoConcessionaria)
	assert.Equal(t, db.Date("2024-04-08"), row.VencimentoConcessionaria)
	assert.Equal(t, db.Date("2024-03-30"), row.DataEmissao)
	assert.Equal(t, "files/abc.pdf", *row.LinkFatura)
	assert.Equal(t, fixedNow, row.UpdatedAt)
}

func TestMapRecord_BillingFileKeyPreferred(t *testing.T) {
	row, ok := MapRecord(fetch.Record{
		"uc": "1", "date_ref": "2024-01-01",
		"billing_file_key": "a.pdf", "dealership_bill_file_key": "b.pdf",
	}, fixedNow)
	require.True(t, ok)
	assert.Equal(t, "a.pdf", *row.LinkFatura)
}

func TestMapRecord_Drops(t *testing.T) {
	cases := map[string]fetch.Record{
		"no uc":            {"date_ref": "2024-01"},
		"uc only symbols":  {"uc": "./-", "date_ref": "2024-01"},
		"no date":          {"uc": "1"},
		"unparseable date": {"uc": "1", "date_ref": "mar/2024"},
		"short date":       {"uc": "1", "date_ref": "2024"},
	}
	for name, r := range cases {
		_, ok := MapRecord(r, fixedNow)
		assert.False(t, ok, name)
	}
}

func TestMapPage_CountsDropped(t *testing.T) {
	rows, dropped := MapPage([]fetch.Record{
		{"uc": "1", "date_ref": "2024-01"},
		{"uc": "", "date_ref": "2024-01"},
		{"uc": "2", "date_ref": "2024-01-01"},
	}, fixedNow)
	assert.Len(t, rows, 2)
	assert.Equal(t, 1, dropped)
}
