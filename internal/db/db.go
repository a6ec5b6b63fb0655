package db

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	cgosqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Rodzaje baz obsługiwane przez Open.
const (
	KindPostgres   = "postgres"
	KindMySQL      = "mysql"
	KindSQLite     = "sqlite"      // gorm.io/driver/sqlite (cgo)
	KindSQLitePure = "sqlite-pure" // glebarez/sqlite, bez cgo
)

type Handle struct {
	DB   *gorm.DB
	Kind string
	Path string
}

// KindFromDSN zgaduje rodzaj bazy z DSN, gdy config go nie podaje.
func KindFromDSN(dsn string) string {
	d := strings.ToLower(strings.TrimSpace(dsn))
	switch {
	case strings.HasPrefix(d, "postgres://"), strings.HasPrefix(d, "postgresql://"), strings.Contains(d, "host="):
		return KindPostgres
	case strings.Contains(d, "@tcp("), strings.HasPrefix(d, "mysql://"):
		return KindMySQL
	default:
		return KindSQLitePure
	}
}

func Open(kind, dsn string) (*Handle, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("db: pusty DSN")
	}
	if kind == "" {
		kind = KindFromDSN(dsn)
	}

	var dial gorm.Dialector
	switch kind {
	case KindPostgres:
		dial = postgres.Open(dsn)
	case KindMySQL:
		dial = mysql.Open(strings.TrimPrefix(dsn, "mysql://"))
	case KindSQLite:
		dial = cgosqlite.Open(dsn)
	case KindSQLitePure:
		dial = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("db: nieznany rodzaj bazy %q", kind)
	}

	gdb, err := gorm.Open(dial, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // logger.Info jeśli potrzebny verbose SQL
	})
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", kind, err)
	}

	if kind == KindSQLite || kind == KindSQLitePure {
		// sqlite: jeden writer, a ":memory:" musi żyć na jednym połączeniu
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return &Handle{DB: gdb, Kind: kind, Path: redact(dsn)}, nil
}

// OpenAt otwiera lokalną bazę sqlite w katalogu aplikacji (tryb dev).
// kind: KindSQLite albo KindSQLitePure (domyślnie).
func OpenAt(kind, dir string) (*Handle, error) {
	if kind != KindSQLite {
		kind = KindSQLitePure
	}
	return Open(kind, filepath.Join(dir, "billsync.db"))
}

func (h *Handle) Close() error {
	sqlDB, err := h.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// redact ukrywa hasło w DSN do logów
func redact(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	if i := strings.Index(creds, ":"); i >= 0 {
		return dsn[:scheme+3] + creds[:i] + ":***" + dsn[at:]
	}
	return dsn
}
