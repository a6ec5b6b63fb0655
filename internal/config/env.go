package conf

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// LoadEnv wczytuje plik .env do środowiska procesu. Zmienne już ustawione
// w środowisku wygrywają z plikiem. Brak pliku nie jest błędem.
func LoadEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("błąd wczytania %s: %w", path, err)
	}
	return nil
}

// Env zwraca przyciętą wartość zmiennej albo fallback, gdy pusta.
func Env(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// ErrMissing – brak wymaganego ustawienia; błąd fatalny przed jakimkolwiek requestem.
var ErrMissing = errors.New("brak wymaganej konfiguracji")

type ValidationError struct {
	Integration string
	Missing     []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config %s: brak %s", e.Integration, strings.Join(e.Missing, ", "))
}

func (e *ValidationError) Unwrap() error { return ErrMissing }

// Checker zbiera wszystkie braki naraz, żeby użytkownik poprawił .env za jednym razem.
type Checker struct {
	integration string
	missing     []string
}

func NewChecker(integration string) *Checker {
	return &Checker{integration: integration}
}

func (c *Checker) Require(name, value string) *Checker {
	if strings.TrimSpace(value) == "" {
		c.missing = append(c.missing, name)
	}
	return c
}

func (c *Checker) Err() error {
	if len(c.missing) == 0 {
		return nil
	}
	return &ValidationError{Integration: c.integration, Missing: c.missing}
}
