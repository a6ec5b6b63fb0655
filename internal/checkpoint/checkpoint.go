// Package checkpoint trzyma numer następnej strony do pobrania dla synca,
// żeby przerwany proces wznowił pracę zamiast zaczynać od strony 1.
//
// Cykl życia: brak checkpointu = strona 1; Save po każdej stronie, której upsert
// się zatwierdził (nigdy wcześniej); Clear po naturalnym końcu danych.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bartek5186/billsync/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FirstPage – strona startowa przy zimnym starcie albo uszkodzonym checkpoincie.
const FirstPage = 1

type Store interface {
	// Load nigdy nie zawodzi: brak albo śmieci w checkpoincie to FirstPage.
	Load(ctx context.Context) int
	Save(ctx context.Context, page int) error
	Clear(ctx context.Context) error
}

func parsePage(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < FirstPage {
		return FirstPage
	}
	return n
}

// FileStore – jeden plik tekstowy z jedną liczbą (np. unifica_checkpoint.txt).
type FileStore struct {
	Path string
}

func NewFile(path string) *FileStore { return &FileStore{Path: path} }

func (f *FileStore) Load(ctx context.Context) int {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return FirstPage
	}
	return parsePage(string(b))
}

// Save zapisuje atomowo: plik tymczasowy w tym samym katalogu + rename.
func (f *FileStore) Save(ctx context.Context, page int) error {
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".checkpoint-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	_, werr := tmp.WriteString(strconv.Itoa(page))
	cerr := tmp.Close()
	if werr != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("checkpoint write: %w", werr)
	}
	if cerr != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("checkpoint close: %w", cerr)
	}
	if err := os.Rename(tmpName, f.Path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("checkpoint rename: %w", err)
	}
	return nil
}

func (f *FileStore) Clear(ctx context.Context) error {
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// KVStore trzyma checkpoint w tabeli kvs hurtowni (gdy proces nie ma trwałego dysku).
type KVStore struct {
	DB  *gorm.DB
	Key string
}

func NewKV(gdb *gorm.DB, job string) *KVStore {
	return &KVStore{DB: gdb, Key: "checkpoint:" + job}
}

func (k *KVStore) Load(ctx context.Context) int {
	var rec db.KV
	if err := k.DB.WithContext(ctx).Where("k = ?", k.Key).Take(&rec).Error; err != nil {
		return FirstPage
	}
	return parsePage(rec.V)
}

func (k *KVStore) Save(ctx context.Context, page int) error {
	rec := db.KV{K: k.Key, V: strconv.Itoa(page)}
	return k.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "k"}},
		DoUpdates: clause.AssignmentColumns([]string{"v"}),
	}).Create(&rec).Error
}

func (k *KVStore) Clear(ctx context.Context) error {
	return k.DB.WithContext(ctx).Where("k = ?", k.Key).Delete(&db.KV{}).Error
}

// New wybiera backend wg configu: "kv" albo domyślnie plik w katalogu aplikacji.
func New(kind, dir, job string, gdb *gorm.DB) Store {
	if kind == "kv" && gdb != nil {
		return NewKV(gdb, job)
	}
	return NewFile(filepath.Join(dir, job+"_checkpoint.txt"))
}
