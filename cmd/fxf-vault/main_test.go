package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fxf-vault/internal/diff"
	"github.com/fxf-vault/internal/store"
)

func writeConfig(t *testing.T) (string, string) {
	t.Helper()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "vault.db")
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := fmt.Sprintf(`
gather:
  sites:
    - http://sync.example.com/cgi-bin/bfgather/bessecurity
database:
  path: %s
logging:
  level: error
`, dbPath)
	require.NoError(t, os.WriteFile(cfgPath, []byte(yaml), 0o644))
	return cfgPath, dbPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestDiffCommand(t *testing.T) {
	cfgPath, dbPath := writeConfig(t)

	st, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)

	ctx := context.Background()
	var ids []int64
	err = st.Atomic(ctx, func(tx *store.Tx) error {
		site := store.Site{Name: "bessecurity", URL: "http://sync.example.com/cgi-bin/bfgather/bessecurity"}
		if err := tx.InsertSite(ctx, &site); err != nil {
			return err
		}
		bundle := store.Bundle{SiteID: site.ID, Name: "52", Latest: 1, DiskLatest: 1}
		if err := tx.InsertBundle(ctx, &bundle); err != nil {
			return err
		}
		source := store.BundleRevision{BundleID: bundle.ID, Version: 1, Kind: store.KindNew, SourceURL: "v1"}
		if err := tx.InsertBundleRevision(ctx, &source); err != nil {
			return err
		}
		for i, action := range []string{"run a", "run b"} {
			rev := store.FixletRevision{
				SiteID:           site.ID,
				FixletID:         7,
				Version:          i + 1,
				Kind:             store.KindNew,
				SourceRevisionID: source.ID,
				Content:          fmt.Sprintf(`{"relevance":[],"text":[],"actions":[%q]}`, action),
			}
			if err := tx.InsertFixletRevision(ctx, &rev); err != nil {
				return err
			}
			ids = append(ids, rev.ID)
		}
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := execute(t, "--config", cfgPath, "diff", fmt.Sprint(ids[0]), fmt.Sprint(ids[1]))
	require.NoError(t, err)

	var result diff.FixletDiff
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.HasChanges)
	assert.Equal(t, []string{`run <span class="added">b</span>`}, result.New.Actions)
}

func TestDiffCommand_Errors(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	_, err := execute(t, "--config", cfgPath, "diff", "x", "1")
	assert.ErrorContains(t, err, "invalid revision id")

	_, err = execute(t, "--config", cfgPath, "diff", "1", "2")
	assert.ErrorContains(t, err, "not found")

	_, err = execute(t, "--config", cfgPath, "diff", "1")
	assert.Error(t, err)
}

func TestMissingConfig(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "update")
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestServeCommand_DescribesJSONAPI(t *testing.T) {
	serve, _, err := rootCmd().Find([]string{"serve"})
	require.NoError(t, err)
	assert.Equal(t, "serve", serve.Name())
	assert.Contains(t, serve.Short, "JSON")
	assert.NotContains(t, serve.Short, "UI")
}
