// internal/normalize/normalize.go
package normalize

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Wszystkie funkcje są totalne: zły input degraduje do wartości domyślnej, nigdy nie panikują.

var (
	idCleaner  = strings.NewReplacer(".", "", "-", "", "/", "", " ", "")
	reYearMon  = regexp.MustCompile(`^\d{4}-\d{2}$`)
	reDayFirst = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	reThousand = regexp.MustCompile(`^-?\d{1,3}(\.\d{3})+$`)
)

// String zamienia surową wartość z JSON-a na tekst (bez notacji wykładniczej dla liczb).
func String(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(b))
	}
}

// Amount: "R$ 1.234,56" -> 1234.56; nil, "" i śmieci -> 0.
func Amount(v any) float64 {
	switch t := v.(type) {
	case nil:
		return 0
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case json.Number:
		f, err := strconv.ParseFloat(t.String(), 64)
		if err != nil {
			return 0
		}
		return f
	case string:
		return parseAmount(t)
	default:
		return 0
	}
}

func parseAmount(s string) float64 {
	s = strings.ReplaceAll(s, "R$", "")
	s = strings.Map(func(r rune) rune {
		if r == ' ' || r == '\u00a0' || r == '\t' {
			return -1
		}
		return r
	}, s)
	if s == "" {
		return 0
	}

	switch {
	case strings.Contains(s, ","):
		// format brazylijski: kropki to tysiące, przecinek to część dziesiętna
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	case strings.Count(s, ".") > 1 || reThousand.MatchString(s):
		// "1.234" albo "1.234.567" – same separatory tysięcy
		s = strings.ReplaceAll(s, ".", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

// Date zwraca "YYYY-MM-DD" dla znanych formatów, "" dla pustych,
// a nierozpoznany tekst przepuszcza bez zmian.
func Date(v any) string {
	s := String(v)
	if s == "" {
		return ""
	}
	if i := strings.Index(s, "T"); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	if len(s) == 7 && reYearMon.MatchString(s) {
		return s + "-01"
	}
	if m := reDayFirst.FindStringSubmatch(s); m != nil {
		return m[3] + "-" + pad2(m[2]) + "-" + pad2(m[1])
	}
	return s
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

// Identifier usuwa . - / i spacje, żeby UC z różnych źródeł były porównywalne.
func Identifier(v any) string {
	return idCleaner.Replace(String(v))
}

// Int: "12", "12,0", 12.7 -> 12; puste lub niepoprawne -> nil.
func Int(v any) *int {
	s := strings.ReplaceAll(String(v), ",", ".")
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	n := int(f)
	return &n
}

// Int64 dla kluczy liczbowych (np. id_negocio).
func Int64(v any) (int64, bool) {
	s := String(v)
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// OptString zwraca nil dla pustych wartości (kolumny nullable).
func OptString(v any) *string {
	s := String(v)
	if s == "" {
		return nil
	}
	return &s
}
