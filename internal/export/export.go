// Package export zrzuca skonsolidowany widok analityczny do arkusza xlsx.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

const (
	View  = "analytics_completo"
	Sheet = "Tabelao"
)

// ErrEmpty – widok nie zwrócił żadnego wiersza; plik nie powstaje.
var ErrEmpty = errors.New("export: widok jest pusty")

// Column – kolumna widoku i jej nagłówek w arkuszu.
type Column struct {
	Name   string
	Header string
}

// Columns – kolumny arkusza w kolejności; brakujące w widoku są pomijane.
var Columns = []Column{
	{"uc", "UC"},
	{"mes_referencia", "Mês Ref"},
	{"nome_cliente", "Cliente"},
	{"concessionaria", "Concessionária (RD)"},
	{"area_de_gestao", "Área de Gestão"},
	{"objetivo_etapa", "Etapa (RD)"},
	{"total_cobranca", "Valor Cobrança (R$)"},
	{"consumo_kwh", "Consumo (kWh)"},
	{"compensacao_kwh", "Compensação (kWh)"},
	{"economia_rs", "Economia (R$)"},
	{"status", "Status Pagamento"},
	{"vencimento", "Vencimento"},
	{"fonte_dados", "Origem do Dado Financeiro"},
}

var reIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

type Table struct {
	Headers []string
	Rows    [][]any
}

// ReadView czyta widok posortowany po mes_referencia malejąco, potem po nome_cliente.
func ReadView(ctx context.Context, gdb *gorm.DB, view string) (Table, error) {
	if !reIdent.MatchString(view) {
		return Table{}, fmt.Errorf("export: niepoprawna nazwa widoku %q", view)
	}
	rows, err := gdb.WithContext(ctx).
		Raw("SELECT * FROM " + view + " ORDER BY mes_referencia DESC, nome_cliente ASC").
		Rows()
	if err != nil {
		return Table{}, fmt.Errorf("export: query %s: %w", view, err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return Table{}, err
	}
	index := make(map[string]int, len(types))
	for i, ct := range types {
		index[strings.ToLower(ct.Name())] = i
	}

	var (
		t    Table
		pick []int
	)
	for _, c := range Columns {
		if i, ok := index[c.Name]; ok {
			t.Headers = append(t.Headers, c.Header)
			pick = append(pick, i)
		}
	}

	for rows.Next() {
		vals := make([]any, len(types))
		ptrs := make([]any, len(types))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Table{}, fmt.Errorf("export: scan: %w", err)
		}
		out := make([]any, len(pick))
		for j, i := range pick {
			out[j] = cell(vals[i], types[i].DatabaseTypeName())
		}
		t.Rows = append(t.Rows, out)
	}
	if err := rows.Err(); err != nil {
		return Table{}, err
	}
	return t, nil
}

func isNumericType(name string) bool {
	switch strings.ToUpper(name) {
	case "NUMERIC", "DECIMAL", "REAL", "FLOAT", "FLOAT4", "FLOAT8", "DOUBLE", "DOUBLE PRECISION",
		"INT", "INT2", "INT4", "INT8", "INTEGER", "BIGINT", "SMALLINT":
		return true
	}
	return false
}

// cell sprowadza wartość ze sterownika do typu, który excelize zapisze sensownie.
func cell(v any, dbType string) any {
	switch t := v.(type) {
	case nil:
		return nil
	case time.Time:
		return t.Format("2006-01-02")
	case []byte:
		return textCell(string(t), dbType)
	case string:
		return textCell(t, dbType)
	default:
		return t
	}
}

func textCell(s, dbType string) any {
	if isNumericType(dbType) {
		if d, err := decimal.NewFromString(strings.TrimSpace(s)); err == nil {
			return d.InexactFloat64()
		}
	}
	return s
}

// WriteXLSX zapisuje tabelę strumieniowo (nagłówek pogrubiony) do path.
func WriteXLSX(path string, t Table) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", Sheet); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	sw, err := f.NewStreamWriter(Sheet)
	if err != nil {
		return err
	}
	if len(t.Headers) > 0 {
		if err := sw.SetColWidth(1, len(t.Headers), 20); err != nil {
			return err
		}
	}

	header := make([]any, len(t.Headers))
	for i, h := range t.Headers {
		header[i] = excelize.Cell{StyleID: bold, Value: h}
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}
	for r, row := range t.Rows {
		addr, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(addr, row); err != nil {
			return fmt.Errorf("export: row %d: %w", r+1, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return err
	}
	return f.SaveAs(path)
}

// FileName: Tabelao_Completo_2024-06-01_10-00.xlsx
func FileName(now time.Time) string {
	return "Tabelao_Completo_" + now.Format("2006-01-02_15-04") + ".xlsx"
}

// Run czyta analytics_completo i zapisuje arkusz w dir. Zwraca ścieżkę i liczbę wierszy.
func Run(ctx context.Context, gdb *gorm.DB, dir string, now time.Time) (string, int, error) {
	t, err := ReadView(ctx, gdb, View)
	if err != nil {
		return "", 0, err
	}
	if len(t.Rows) == 0 {
		return "", 0, ErrEmpty
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, err
	}
	path := filepath.Join(dir, FileName(now))
	if err := WriteXLSX(path, t); err != nil {
		return "", 0, fmt.Errorf("export: zapis %s: %w", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return abs, len(t.Rows), nil
}
