// internal/config/config.go
package conf

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Główny config aplikacji
type Config struct {
	SyncIntervalSeconds int    `json:"sync_interval_seconds"` // 0 = jeden przebieg i koniec
	DatabaseURL         string `json:"database_url"`          // wymagany; pusty tylko z db_kind sqlite*
	DBKind              string `json:"db_kind,omitempty"`     // pusty = wykryj z DSN
	Checkpoint          string `json:"checkpoint"`            // "file" albo "kv"
	ExportDir           string `json:"export_dir"`

	// Enabled – kolejność, w jakiej syncer odpala integracje.
	Enabled      []string                   `json:"enabled"`
	Integrations map[string]json.RawMessage `json:"integrations"` // nazwa -> surowy JSON integracji
}

// Domyślne ustawienia integracji (sekrety idą z .env, nie z pliku)
type UnificaDefaults struct {
	BaseURL        string `json:"base_url"`
	PerPage        int    `json:"per_page"`
	TimeoutSec     int    `json:"timeout_sec"`
	PageDelayMs    int    `json:"page_delay_ms"`
	TransportRetry bool   `json:"transport_retry"`
}

type LumiAccountDefaults struct {
	Name     string `json:"name"`
	EmailEnv string `json:"email_env"`
	SenhaEnv string `json:"senha_env"`
}

type LumiDefaults struct {
	BaseURL    string                `json:"base_url"`
	Endpoint   string                `json:"endpoint"`
	TimeoutSec int                   `json:"timeout_sec"`
	Accounts   []LumiAccountDefaults `json:"accounts"`
}

type RDDefaults struct {
	BaseURL     string `json:"base_url"`
	Limit       int    `json:"limit"`
	PageDelayMs int    `json:"page_delay_ms"`
	TimeoutSec  int    `json:"timeout_sec"`
}

func Default() *Config {
	rawUnifica, _ := json.Marshal(UnificaDefaults{
		PerPage:        50,
		TimeoutSec:     120,
		PageDelayMs:    500,
		TransportRetry: true,
	})
	rawLumi, _ := json.Marshal(LumiDefaults{
		Endpoint:   "/faturas/dados",
		TimeoutSec: 120,
		Accounts: []LumiAccountDefaults{
			{Name: "LUMI", EmailEnv: "LUMI_EMAIL", SenhaEnv: "LUMI_SENHA"},
			{Name: "LUMI_COOP", EmailEnv: "LUMI_COOP_EMAIL", SenhaEnv: "LUMI_COOP_SENHA"},
		},
	})
	rawRD, _ := json.Marshal(RDDefaults{
		BaseURL:     "https://crm.rdstation.com/api/v1",
		Limit:       200,
		PageDelayMs: 200,
		TimeoutSec:  60,
	})

	return &Config{
		SyncIntervalSeconds: 0,
		Checkpoint:          "file",
		ExportDir:           ".",
		Enabled:             []string{"lumi", "unifica", "rdstation"},
		Integrations: map[string]json.RawMessage{
			"lumi":      rawLumi,
			"unifica":   rawUnifica,
			"rdstation": rawRD,
		},
	}
}

func LoadOrCreate(path string) (*Config, bool, error) {
	// upewnij się, że katalog istnieje
	_ = os.MkdirAll(filepath.Dir(path), 0o755)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			if err := Save(path, cfg); err != nil {
				return nil, false, fmt.Errorf("błąd zapisu domyślnego configa: %w", err)
			}
			return cfg, true, nil
		}
		return nil, false, fmt.Errorf("błąd otwierania configa: %w", err)
	}
	defer f.Close()

	var cfg Config
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, false, fmt.Errorf("błąd parsowania configa: %w", err)
	}
	if cfg.Integrations == nil {
		cfg.Integrations = map[string]json.RawMessage{}
	}
	if len(cfg.Enabled) == 0 {
		cfg.Enabled = Default().Enabled
	}
	return &cfg, false, nil
}

func Save(path string, cfg *Config) error {
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}

// LocalDB: bez DATABASE_URL, ale z jawnym DB_KIND=sqlite|sqlite-pure
// baza to plik w katalogu aplikacji (tryb dev).
func (c *Config) LocalDB() bool {
	return strings.TrimSpace(c.DatabaseURL) == "" && (c.DBKind == "sqlite" || c.DBKind == "sqlite-pure")
}

// ValidateDB: DATABASE_URL jest wymagany, chyba że LocalDB.
func (c *Config) ValidateDB() error {
	if c.LocalDB() {
		return nil
	}
	return NewChecker("db").Require("DATABASE_URL", c.DatabaseURL).Err()
}

// ApplyEnv nadpisuje ustawienia procesu zmiennymi środowiskowymi.
func (c *Config) ApplyEnv() {
	c.DatabaseURL = Env("DATABASE_URL", c.DatabaseURL)
	c.DBKind = Env("DB_KIND", c.DBKind)
	c.Checkpoint = Env("CHECKPOINT_STORE", c.Checkpoint)
	c.ExportDir = Env("EXPORT_DIR", c.ExportDir)
}
