package logs

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	l := New(path, false, false)
	l.Info().Str("integration", "unifica").Msg("hello")
	l.Debug().Msg("hidden")

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 1)

	var ev map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &ev))
	assert.Equal(t, "hello", ev["message"])
	assert.Equal(t, "unifica", ev["integration"])
	assert.Contains(t, ev, "time")
	assert.Contains(t, ev, "caller")
}

func TestBuild_Verbose(t *testing.T) {
	var buf bytes.Buffer
	l := build(&buf, false, true)
	l.Debug().Msg("visible")
	assert.Contains(t, buf.String(), "visible")
}
