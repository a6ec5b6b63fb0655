package db

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Keyed – wiersz z kluczem naturalnym (do deduplikacji wewnątrz partii).
type Keyed interface {
	NaturalKey() string
}

const upsertChunk = 500

// Upsert zapisuje partię w jednej transakcji: INSERT albo nadpisanie wszystkich
// kolumn poza kluczem (last-write-wins). Pusta partia to no-op.
func Upsert[T Keyed](ctx context.Context, gdb *gorm.DB, rows []T, keyCols []string) (int, error) {
	rows = DedupeLast(rows)
	if len(rows) == 0 {
		return 0, nil
	}

	cols := make([]clause.Column, 0, len(keyCols))
	for _, c := range keyCols {
		cols = append(cols, clause.Column{Name: c})
	}

	err := gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   cols,
			UpdateAll: true,
		}).CreateInBatches(&rows, upsertChunk).Error
	})
	if err != nil {
		return 0, fmt.Errorf("upsert %d rows: %w", len(rows), err)
	}
	return len(rows), nil
}

// DedupeLast zostawia ostatnie wystąpienie każdego klucza, w kolejności pierwszego.
// Postgres nie pozwala, by ON CONFLICT trafił ten sam wiersz dwa razy w jednym INSERT.
func DedupeLast[T Keyed](rows []T) []T {
	if len(rows) < 2 {
		return rows
	}
	pos := make(map[string]int, len(rows))
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		k := r.NaturalKey()
		if i, ok := pos[k]; ok {
			out[i] = r
			continue
		}
		pos[k] = len(out)
		out = append(out, r)
	}
	return out
}
