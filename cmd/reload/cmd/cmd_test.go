package cmd

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/HerbHall/reload/internal/reload"
	"github.com/HerbHall/reload/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestScanTargets(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, "lib/a.js", "lib/b.json", "lib/node_modules/c.js", "dist/d.js")

	opts := reload.DefaultOptions()
	opts.Roots = []string{"lib", "dist"}
	ignore := reload.NewIgnoreSet(reload.DefaultIgnoreNames...)
	ignore.Add("dist")

	got := scanTargets(opts, ignore, root, testutil.Logger(t))
	require.Len(t, got, 1)
	assert.Equal(t, filepath.Join(root, "lib", "a.js"), got[0].Path)
	assert.True(t, got[0].ModTime.Equal(testutil.Base))
}

func TestScanTargetsDefaultRoot(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, "index.js", "test/x.js")

	got := scanTargets(reload.DefaultOptions(), reload.NewIgnoreSet(reload.DefaultIgnoreNames...), root, testutil.Logger(t))
	require.Len(t, got, 1)
	assert.Equal(t, filepath.Join(root, "index.js"), got[0].Path)
}

func TestWriteTargets(t *testing.T) {
	targets := []reload.WatchTarget{
		{Path: "/app/a.js", ModTime: testutil.Base},
		{Path: "/app/lib/b.js", ModTime: testutil.Base},
	}

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeTargets(&buf, "text", targets))
		assert.Equal(t, "/app/a.js\n/app/lib/b.js\n", buf.String())
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeTargets(&buf, "json", targets))
		var got []reload.WatchTarget
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		require.Len(t, got, 2)
		assert.Equal(t, "/app/lib/b.js", got[1].Path)
		assert.Contains(t, buf.String(), `"mod_time": "2025-01-01T00:00:00Z"`)
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeTargets(&buf, "yaml", targets))
		var got []map[string]any
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
		require.Len(t, got, 2)
		assert.Equal(t, "/app/a.js", got[0]["path"])
		assert.Contains(t, buf.String(), "mod_time:")
	})

	t.Run("unknown", func(t *testing.T) {
		assert.Error(t, writeTargets(&bytes.Buffer{}, "xml", targets))
	})
}

func TestSplitAddr(t *testing.T) {
	host, port, err := splitAddr("0.0.0.0:9000")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", host)
	assert.Equal(t, "9000", port)

	host, port, err = splitAddr("")
	require.NoError(t, err)
	assert.Empty(t, host)
	assert.Empty(t, port)

	_, _, err = splitAddr("no-port")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, Execute())
	assert.True(t, strings.HasPrefix(buf.String(), "reload "), "output = %q", buf.String())
}
