package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/eunmann/chunkagg/internal/config"
	"github.com/eunmann/chunkagg/pkg/aggregate"
	"github.com/eunmann/chunkagg/pkg/chunkstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunNoArgs(t *testing.T) {
	err := Run(nil)
	if err == nil {
		t.Fatal("expected error with no args")
	}
	if !strings.Contains(err.Error(), "usage") {
		t.Errorf("expected usage message, got: %v", err)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	err := Run([]string{"unknown"})
	if err == nil {
		t.Fatal("expected error with unknown command")
	}
	if !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("expected 'unknown command' error, got: %v", err)
	}
}

func TestImportMissingPath(t *testing.T) {
	err := Run([]string{"import", "sales"})
	if err == nil {
		t.Fatal("expected error with missing path")
	}
	if !strings.Contains(err.Error(), "accepts 2 arg(s)") {
		t.Errorf("expected argument count error, got: %v", err)
	}
}

func TestAggregateMissingDimension(t *testing.T) {
	_, err := runCLI(t, newDB(t), "aggregate", "sales")
	require.Error(t, err)
	assert.True(t, errors.Is(err, aggregate.ErrInvalidConfig), "got %v", err)
	assert.Contains(t, err.Error(), "dimension")
}

func TestAggregateRejectsLimitWithOthers(t *testing.T) {
	db := newDB(t)
	csvPath := filepath.Join(t.TempDir(), "sales.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(salesCSV), 0o600))
	_, err := runCLI(t, db, "import", "sales", csvPath)
	require.NoError(t, err)

	_, err = runCLI(t, db, "aggregate", "sales", "--dimension", "region", "--limit", "1", "--others", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--others")

	out, err := runCLI(t, db, "aggregate", "sales", "--dimension", "region", "--others", "1", "--json")
	require.NoError(t, err)
	var res aggregate.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.InDelta(t, 6, res.Total(), 1e-9, "Others keeps the full total")
}

func TestInvalidMemBudget(t *testing.T) {
	_, err := runCLI(t, newDB(t), "--mem-budget", "lots", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mem_budget")
	assert.Contains(t, err.Error(), config.EnvMemBudget)
}

func TestInvalidBackend(t *testing.T) {
	_, err := runCLI(t, newDB(t), "--backend", "postgres", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend")
}

func TestParseFilters(t *testing.T) {
	fs, err := parseFilters([]string{"region=EU", "note=a=b", " kind =", "empty="})
	require.NoError(t, err)
	assert.Equal(t, []aggregate.Filter{
		{Column: "region", Value: "EU"},
		{Column: "note", Value: "a=b"},
		{Column: "kind", Value: ""},
		{Column: "empty", Value: ""},
	}, fs)

	for _, bad := range []string{"region", "=EU", ""} {
		_, err := parseFilters([]string{bad})
		assert.Error(t, err, "filter %q", bad)
	}
}

func TestFormatFloat(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{42, "42"},
		{-3, "-3"},
		{2.5, "2.5"},
		{1.0 / 3, "0.3333"},
		{33.33333, "33.3333"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatFloat(tt.in), "formatFloat(%v)", tt.in)
	}
}

const salesCSV = `region,kind,amount
EU,retail,10
US,retail,5
EU,online,2.5
APAC,online,1
US,online,5
EU,retail,
`

func TestEndToEnd(t *testing.T) {
	db := newDB(t)
	csvPath := filepath.Join(t.TempDir(), "sales.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(salesCSV), 0o600))

	out, err := runCLI(t, db, "import", "sales", csvPath, "--name", "Q1 sales")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "sales\t6 rows\t1 batches"), "import output: %q", out)

	out, err = runCLI(t, db, "aggregate", "sales",
		"--dimension", "region", "--measure", "sum", "--measure-col", "amount", "--json")
	require.NoError(t, err)
	var res aggregate.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Entries, 3)
	assert.Equal(t, "EU", res.Entries[0].Key)
	assert.InDelta(t, 12.5, res.Entries[0].Value, 1e-9)
	assert.InDelta(t, 23.5, res.Total(), 1e-9)

	out, err = runCLI(t, db, "aggregate", "sales", "--dimension", "region", "--others", "1")
	require.NoError(t, err)
	lines := nonEmptyLines(out)
	require.Len(t, lines, 2)
	assert.Equal(t, []string{"EU", "3"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{aggregate.Others, "3"}, strings.Fields(lines[1]))

	out, err = runCLI(t, db, "aggregate", "sales", "--dimension", "kind", "--percent",
		"--filter", "region=eu")
	require.NoError(t, err)
	assert.Equal(t, []string{"retail", "66.6667"}, strings.Fields(nonEmptyLines(out)[0]))

	out, err = runCLI(t, db, "unique", "sales", "region")
	require.NoError(t, err)
	assert.Equal(t, []string{"EU", "US", "APAC"}, nonEmptyLines(out))

	out, err = runCLI(t, db, "filter", "sales", "--filter", "kind=online", "--limit", "2")
	require.NoError(t, err)
	assert.Len(t, nonEmptyLines(out), 2)

	out, err = runCLI(t, db, "page", "sales", "--page", "1", "--page-size", "4")
	require.NoError(t, err)
	var page chunkstore.Page
	require.NoError(t, json.Unmarshal([]byte(out), &page))
	assert.Equal(t, 6, page.TotalRows)
	assert.Len(t, page.Rows, 2)
	assert.False(t, page.HasMore)

	_, err = runCLI(t, db, "append", "sales", csvPath)
	require.NoError(t, err)
	out, err = runCLI(t, db, "info", "sales")
	require.NoError(t, err)
	var md chunkstore.ProjectMetadata
	require.NoError(t, json.Unmarshal([]byte(out), &md))
	assert.Equal(t, 12, md.RowCount)
	assert.Equal(t, "Q1 sales", md.Name)

	out, err = runCLI(t, db, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "sales")

	_, err = runCLI(t, db, "purge-cache")
	require.NoError(t, err)

	_, err = runCLI(t, db, "delete", "sales")
	require.NoError(t, err)
	_, err = runCLI(t, db, "info", "sales")
	assert.True(t, errors.Is(err, chunkstore.ErrDatasetNotFound), "got %v", err)
}

func TestImportSubSource(t *testing.T) {
	db := newDB(t)
	csvPath := filepath.Join(t.TempDir(), "sales.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(salesCSV), 0o600))

	_, err := runCLI(t, db, "import", "sales", csvPath)
	require.NoError(t, err)
	_, err = runCLI(t, db, "append", "sales", csvPath, "--source", "returns", "--source-name", "Returns")
	require.NoError(t, err)

	out, err := runCLI(t, db, "aggregate", "sales", "--dimension", "region", "--source", "returns", "--json")
	require.NoError(t, err)
	var res aggregate.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.InDelta(t, 6, res.Total(), 1e-9)

	out, err = runCLI(t, db, "delete", "sales", "--source", "returns")
	require.NoError(t, err)
	assert.Contains(t, out, "source returns")

	_, err = runCLI(t, db, "aggregate", "sales", "--dimension", "region", "--source", "returns")
	assert.Error(t, err)
}

func TestGenerate(t *testing.T) {
	db := newDB(t)
	_, err := runCLI(t, db, "gen", "synthetic", "--rows", "750", "--shape", "skewed")
	require.NoError(t, err)

	out, err := runCLI(t, db, "aggregate", "synthetic", "--dimension", "region", "--json")
	require.NoError(t, err)
	var res aggregate.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.InDelta(t, 750, res.Total(), 1e-9)
}

func TestBadgerBackend(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "badger")
	csvPath := filepath.Join(t.TempDir(), "sales.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(salesCSV), 0o600))

	_, err := runCLI(t, dir, "--backend", "badger", "import", "sales", csvPath)
	require.NoError(t, err)
	out, err := runCLI(t, dir, "--backend", "badger", "unique", "sales", "kind")
	require.NoError(t, err)
	assert.Equal(t, []string{"retail", "online"}, nonEmptyLines(out))
}

func TestConfigFile(t *testing.T) {
	newDB(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "chunkagg.yaml")
	db := filepath.Join(dir, "from-config.db")
	require.NoError(t, os.WriteFile(cfgPath, []byte("db_path: "+db+"\nstore:\n  chunk_size: 2\n"), 0o600))
	csvPath := filepath.Join(dir, "sales.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(salesCSV), 0o600))

	var buf bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"--config", cfgPath, "import", "sales", csvPath}, &buf))
	buf.Reset()
	require.NoError(t, run(context.Background(), []string{"--config", cfgPath, "info", "sales"}, &buf))

	var md chunkstore.ProjectMetadata
	require.NoError(t, json.Unmarshal(buf.Bytes(), &md))
	assert.Equal(t, 3, md.ChunkCount)
	_, err := os.Stat(db)
	assert.NoError(t, err)
}

func newDB(t *testing.T) string {
	t.Helper()
	t.Setenv(config.EnvDB, "")
	t.Setenv(config.EnvBackend, "")
	t.Setenv(config.EnvMemBudget, "")
	return filepath.Join(t.TempDir(), "test.db")
}

func runCLI(t *testing.T, db string, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	err := run(context.Background(), append([]string{"--db", db, "--mem-budget", "64MiB"}, args...), &buf)
	return buf.String(), err
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}
