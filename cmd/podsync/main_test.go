package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/podsync/pkg/compression"
	"github.com/ajitpratap0/podsync/pkg/connector/core"
	"github.com/ajitpratap0/podsync/pkg/errors"
	jsonpool "github.com/ajitpratap0/podsync/pkg/json"
	"github.com/ajitpratap0/podsync/pkg/store"
)

func TestParseKeys(t *testing.T) {
	tests := []struct {
		arg     string
		column  string
		keys    []interface{}
		wantErr bool
	}{
		{"external_id=a, b", "external_id", []interface{}{"a", "b"}, false},
		{"item_id=1,2,", "item_id", []interface{}{int64(1), int64(2)}, false},
		{"app_item_id=x", "", nil, true},
		{"item_id", "", nil, true},
		{"=1", "", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			column, keys, err := parseKeys(tt.arg)
			if tt.wantErr {
				assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.column, column)
			assert.Equal(t, tt.keys, keys)
		})
	}
}

func TestDecodeChanges(t *testing.T) {
	doc := `{
	  "inserts": [{"title": "New", "amount": 12}],
	  "updates": [{"id": 5, "before": {"title": "Old"}, "after": {"title": "Newer"}}],
	  "deletes": [6, 7]
	}`
	cs, err := decodeChanges(strings.NewReader(doc))
	require.NoError(t, err)

	require.Len(t, cs.Inserts, 1)
	assert.Equal(t, "New", cs.Inserts[0].After["title"])
	assert.Equal(t, jsonpool.Number("12"), cs.Inserts[0].After["amount"])
	require.Len(t, cs.Updates, 1)
	assert.Equal(t, int64(5), cs.Updates[0].ID)
	assert.Equal(t, "Old", cs.Updates[0].Before["title"])
	require.Len(t, cs.Deletes, 2)
	assert.Equal(t, core.ChangeTypeDelete, cs.Deletes[1].Type)
	assert.Equal(t, int64(7), cs.Deletes[1].ID)
	assert.Equal(t, 4, cs.Len())

	_, err = decodeChanges(strings.NewReader(`{"updates": [{"after": {}}]}`))
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))

	_, err = decodeChanges(strings.NewReader(`not json`))
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
}

func TestReadChangeFileCompressed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "changes.json.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	w, err := compression.NewWriter(f, compression.Gzip, compression.Default)
	require.NoError(t, err)
	_, err = w.Write([]byte(`{"deletes": [9]}`))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	cs, err := readChangeFile(path)
	require.NoError(t, err)
	require.Len(t, cs.Deletes, 1)
	assert.Equal(t, int64(9), cs.Deletes[0].ID)
}

func TestOpenRows(t *testing.T) {
	t.Run("stdout", func(t *testing.T) {
		var buf bytes.Buffer
		rows, err := openRows(&buf, "", "")
		require.NoError(t, err)
		require.NoError(t, rows.Write(map[string]interface{}{"item_id": 1}))
		require.NoError(t, rows.Write(map[string]interface{}{"item_id": 2}))
		require.NoError(t, rows.Close())
		require.NoError(t, rows.Close())

		assert.Equal(t, "{\"item_id\":1}\n{\"item_id\":2}\n", buf.String())
		assert.Equal(t, 2, rows.Count())
	})

	t.Run("compressed file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rows.jsonl.zst")
		rows, err := openRows(nil, path, "")
		require.NoError(t, err)
		require.NoError(t, rows.Write(map[string]interface{}{"title": "Deal"}))
		require.NoError(t, rows.Close())

		f, err := os.Open(path)
		require.NoError(t, err)
		defer f.Close()
		r, err := compression.NewReader(f, compression.Zstd)
		require.NoError(t, err)
		defer r.Close()
		var row map[string]interface{}
		require.NoError(t, jsonpool.Decode(r, &row))
		assert.Equal(t, "Deal", row["title"])
	})

	t.Run("unknown compression", func(t *testing.T) {
		_, err := openRows(nil, "", "brotli")
		assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	})
}

func TestConnectorName(t *testing.T) {
	assert.Equal(t, "podio-items", connectorName("items"))
	assert.Equal(t, "podio-members", connectorName("Members"))
	assert.Equal(t, "podio-contacts", connectorName("podio-contacts"))
}

func TestCLIConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "podsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: crm
type: podio-items
app_id: 42
space_id: 7
silent: true
security:
  credentials:
    client_id: from-file
`), 0o600))

	t.Setenv("PODSYNC_CLIENT_SECRET", "from-env")
	t.Setenv("PODSYNC_SPACE_ID", "8")

	root := &cobra.Command{Use: "podsync"}
	app := newCLI()
	app.bindPersistentFlags(root)
	require.NoError(t, root.PersistentFlags().Parse([]string{"--config", path, "--app-id", "43", "--batch-size", "100"}))

	cfg, err := app.config("podio-members")
	require.NoError(t, err)

	assert.Equal(t, "podio-members", cfg.Type)
	assert.Equal(t, 43, cfg.AppID)
	assert.Equal(t, 8, cfg.SpaceID)
	assert.Equal(t, 100, cfg.Performance.BatchSize)
	assert.True(t, cfg.Silent)
	assert.True(t, cfg.Reliability.FailFast)
	assert.Equal(t, "from-file", cfg.Security.Credentials[store.KeyClientID])
	assert.Equal(t, "from-env", cfg.Security.Credentials[store.KeyClientSecret])
}

func TestCLIConfigInvalid(t *testing.T) {
	root := &cobra.Command{Use: "podsync"}
	app := newCLI()
	app.bindPersistentFlags(root)
	require.NoError(t, root.PersistentFlags().Parse([]string{"--batch-size", "900"}))

	_, err := app.config("podio-items")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestRootCommand(t *testing.T) {
	root := newRootCommand()
	var names []string
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	for _, want := range []string{"version", "list", "auth", "orgs", "spaces", "apps", "views", "schema", "export-schema", "status", "read", "write"} {
		assert.Contains(t, names, want)
	}

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"list"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "podio-items")
	assert.Contains(t, out.String(), "podio-contacts")
}
