package commands

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMappingsCSV(t *testing.T) {
	t.Run("skips header and reads optional company", func(t *testing.T) {
		input := "source_code,symbol,company_name\n500325,RELIANCE,Reliance Industries\n532540,TCS\n"
		mappings, err := parseMappingsCSV(strings.NewReader(input))
		require.NoError(t, err)
		require.Len(t, mappings, 2)
		assert.Equal(t, "500325", mappings[0].SourceCode)
		assert.Equal(t, "Reliance Industries", mappings[0].CompanyName)
		assert.Equal(t, "TCS", mappings[1].CanonicalSymbol)
		assert.Empty(t, mappings[1].CompanyName)
	})

	t.Run("no header", func(t *testing.T) {
		mappings, err := parseMappingsCSV(strings.NewReader("500209,INFY\n"))
		require.NoError(t, err)
		assert.Len(t, mappings, 1)
	})

	t.Run("rejects short rows", func(t *testing.T) {
		_, err := parseMappingsCSV(strings.NewReader("500209,INFY\n500180\n"))
		assert.ErrorContains(t, err, "line 2")
	})

	t.Run("rejects empty file", func(t *testing.T) {
		_, err := parseMappingsCSV(strings.NewReader("source_code,symbol\n"))
		assert.Error(t, err)
	})
}

func TestReadSymbols(t *testing.T) {
	file := filepath.Join(t.TempDir(), "universe.txt")
	require.NoError(t, os.WriteFile(file, []byte("# nifty\ninfy\n\n  tcs \n"), 0o600))

	symbols, err := readSymbols("reliance, hdfcbank,", file)
	require.NoError(t, err)
	assert.Equal(t, []string{"RELIANCE", "HDFCBANK", "INFY", "TCS"}, symbols)

	_, err = readSymbols("", filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestCommandTree(t *testing.T) {
	want := []string{"init-store", "backfill", "daily-update", "cleanup", "expire",
		"health-report", "fetch", "earnings", "mappings", "serve"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}

	for _, name := range []string{"add", "import", "list"} {
		cmd, _, err := rootCmd.Find([]string{"mappings", name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}
