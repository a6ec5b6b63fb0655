package export

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bartek5186/billsync/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

const testView = `CREATE VIEW analytics_completo AS
SELECT u.uc AS uc,
       u.mes_referencia AS mes_referencia,
       u.nome_cliente AS nome_cliente,
       r.concessionaria AS concessionaria,
       r.objetivo_etapa AS objetivo_etapa,
       u.valor_fatura AS total_cobranca,
       u.consumo_kwh AS consumo_kwh,
       u.status_pagamento AS status,
       u.vencimento AS vencimento,
       r.data_ganho AS data_ganho,
       'UNIFICA' AS fonte_dados
FROM raw_unifica u
LEFT JOIN raw_rd_station r ON r.uc = u.uc`

func newDB(t *testing.T) *gorm.DB {
	t.Helper()
	h, err := db.Open(db.KindSQLitePure, ":memory:")
	require.NoError(t, err)
	require.NoError(t, h.Migrate())
	require.NoError(t, h.DB.Exec(testView).Error)
	t.Cleanup(func() { _ = h.Close() })
	return h.DB
}

func strp(s string) *string { return &s }

func seed(t *testing.T, gdb *gorm.DB) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	rows := []db.RawUnifica{
		{InvoiceRow: db.InvoiceRow{UC: "1", MesReferencia: "2024-01-01", NomeCliente: strp("Bruno"), ConsumoKWh: 100, StatusPagamento: strp("PAGO"), Vencimento: "2024-02-10", UpdatedAt: now}, ValorFatura: 150.5},
		{InvoiceRow: db.InvoiceRow{UC: "2", MesReferencia: "2024-02-01", NomeCliente: strp("Ana"), UpdatedAt: now}, ValorFatura: 80},
		{InvoiceRow: db.InvoiceRow{UC: "3", MesReferencia: "2024-02-01", NomeCliente: strp("Carla"), UpdatedAt: now}, ValorFatura: 90},
	}
	_, err := db.Upsert(ctx, gdb, rows, db.InvoiceKey)
	require.NoError(t, err)
	_, err = db.Upsert(ctx, gdb, []db.RawRDStation{{IDNegocio: 10, UC: "1", Concessionaria: strp("CEMIG"), ObjetivoEtapa: "Ativo", UpdatedAt: now}}, db.DealKey)
	require.NoError(t, err)
}

func TestReadView_OrderAndColumns(t *testing.T) {
	gdb := newDB(t)
	seed(t, gdb)

	tbl, err := ReadView(context.Background(), gdb, View)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"UC", "Mês Ref", "Cliente", "Concessionária (RD)", "Etapa (RD)",
		"Valor Cobrança (R$)", "Consumo (kWh)", "Status Pagamento", "Vencimento",
		"Origem do Dado Financeiro",
	}, tbl.Headers, "missing view columns skipped, data_ganho not exported")

	require.Len(t, tbl.Rows, 3)
	assert.Equal(t, "Ana", tbl.Rows[0][2], "newest month first, then by name")
	assert.Equal(t, "Carla", tbl.Rows[1][2])
	assert.Equal(t, "Bruno", tbl.Rows[2][2])
	assert.Equal(t, "CEMIG", tbl.Rows[2][3])
	assert.Equal(t, "UNIFICA", tbl.Rows[2][9])
}

func TestReadView_RejectsBadName(t *testing.T) {
	gdb := newDB(t)
	_, err := ReadView(context.Background(), gdb, "x; DROP TABLE raw_lumi")
	assert.Error(t, err)
}

func TestRun_WritesWorkbook(t *testing.T) {
	gdb := newDB(t)
	seed(t, gdb)
	dir := t.TempDir()
	now := time.Date(2024, 6, 1, 9, 5, 0, 0, time.UTC)

	path, n, err := Run(context.Background(), gdb, dir, now)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "Tabelao_Completo_2024-06-01_09-05.xlsx", filepath.Base(path))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(Sheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "UC", rows[0][0])
	assert.Equal(t, "Origem do Dado Financeiro", rows[0][len(rows[0])-1])
	assert.Equal(t, "2", rows[1][0])
	assert.Equal(t, "Bruno", rows[3][2])
}

func TestRun_EmptyViewNoFile(t *testing.T) {
	gdb := newDB(t)
	dir := t.TempDir()

	_, _, err := Run(context.Background(), gdb, dir, time.Now())
	assert.ErrorIs(t, err, ErrEmpty)

	matches, _ := filepath.Glob(filepath.Join(dir, "*.xlsx"))
	assert.Empty(t, matches)
}

func TestCell(t *testing.T) {
	assert.Equal(t, "2024-01-31", cell(time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), "DATE"))
	assert.Equal(t, 12.5, cell([]byte("12.50"), "NUMERIC"))
	assert.Equal(t, "12.50", cell("12.50", "TEXT"))
	assert.Equal(t, "abc", cell([]byte("abc"), "NUMERIC"))
	assert.Nil(t, cell(nil, "TEXT"))
	assert.Equal(t, int64(7), cell(int64(7), "INTEGER"))
}
