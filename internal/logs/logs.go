package logs

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// New: plik logów (append) + opcjonalnie konsola. verbose włącza Debug.
func New(logFilePath string, withConsole, verbose bool) zerolog.Logger {
	_ = os.MkdirAll(filepath.Dir(logFilePath), 0o755)

	// Utwórz plik logów (append + tworzenie jeśli brak)
	logFile, err := os.OpenFile(logFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatal().Err(err).Msg("Nie można otworzyć pliku log")
	}

	return build(logFile, withConsole, verbose)
}

func build(file io.Writer, withConsole, verbose bool) zerolog.Logger {
	// Format czasu
	zerolog.TimeFieldFormat = time.RFC3339

	writer := file
	if withConsole {
		consoleWriter := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		writer = zerolog.MultiLevelWriter(file, consoleWriter)
	}

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	// Logger z timestampem i info o miejscu wywołania
	logger := zerolog.New(writer).Level(level).With().
		Timestamp().
		Caller().
		Logger()

	// Ustaw globalny logger
	log.Logger = logger

	return logger
}
