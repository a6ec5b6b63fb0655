package fetch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Record – jeden surowy rekord z API; kształt zależy od źródła i wersji API.
// Liczby zostają jako json.Number (normalize sobie z nimi radzi).
type Record = map[string]any

// ErrEmptyEnvelope: odpowiedź poprawna, ale bez listy rekordów w żadnym znanym miejscu.
var ErrEmptyEnvelope = errors.New("fetch: brak listy rekordów w odpowiedzi")

// Meta – paginacja raportowana przez upstream (0 = brak informacji).
type Meta struct {
	CurrentPage int
	LastPage    int
	Total       int
}

type Envelope struct {
	Records []Record
	Meta    Meta
	HasMore *bool
}

// Unwrap wyciąga listę rekordów, próbując po kolei:
// goła lista, {data:[...]}, {data:{rows:[...]}}, {deals:[...]}.
func Unwrap(body []byte) ([]Record, error) {
	env, err := DecodeEnvelope(body)
	if err != nil {
		return nil, err
	}
	return env.Records, nil
}

func DecodeEnvelope(body []byte) (Envelope, error) {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return Envelope{}, fmt.Errorf("fetch: decode json: %w", err)
	}

	switch v := raw.(type) {
	case []any:
		return Envelope{Records: toRecords(v)}, nil
	case map[string]any:
		env := Envelope{Meta: decodeMeta(v["meta"]), HasMore: boolPtr(v["has_more"])}
		if list, ok := findList(v); ok {
			env.Records = toRecords(list)
			return env, nil
		}
		return env, ErrEmptyEnvelope
	default:
		return Envelope{}, ErrEmptyEnvelope
	}
}

func findList(obj map[string]any) ([]any, bool) {
	switch d := obj["data"].(type) {
	case []any:
		return d, true
	case map[string]any:
		if rows, ok := d["rows"].([]any); ok {
			return rows, true
		}
	}
	if deals, ok := obj["deals"].([]any); ok {
		return deals, true
	}
	return nil, false
}

// elementy niebędące obiektami są pomijane
func toRecords(list []any) []Record {
	out := make([]Record, 0, len(list))
	for _, it := range list {
		if m, ok := it.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func decodeMeta(v any) Meta {
	m, ok := v.(map[string]any)
	if !ok {
		return Meta{}
	}
	return Meta{
		CurrentPage: intOf(m["current_page"]),
		LastPage:    intOf(m["last_page"]),
		Total:       intOf(m["total"]),
	}
}

func intOf(v any) int {
	switch t := v.(type) {
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			f, ferr := t.Float64()
			if ferr != nil {
				return 0
			}
			return int(f)
		}
		return int(n)
	case float64:
		return int(t)
	default:
		return 0
	}
}

func boolPtr(v any) *bool {
	b, ok := v.(bool)
	if !ok {
		return nil
	}
	return &b
}
