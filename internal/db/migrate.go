package db

import (
	"fmt"
)

// Migrate tworzy brakujące tabele i dokłada brakujące kolumny w raw_*.
// Istniejące kolumny hurtowni nie są ruszane poza tym, co robi AutoMigrate.
func (h *Handle) Migrate() error {
	if err := h.DB.AutoMigrate(
		&RawLumi{},
		&RawUnifica{},
		&RawRDStation{},
		&KV{},
	); err != nil {
		return fmt.Errorf("AutoMigrate error: %w", err)
	}
	return nil
}
