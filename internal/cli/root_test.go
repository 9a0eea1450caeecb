package cli

import (
	"bytes"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/storeload/internal/mockshop"
)

// resetFlags restores every flag of cmd and its children to its default so
// tests sharing RootCmd do not see each other's values.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			def := strings.Trim(f.DefValue, "[]")
			var vals []string
			if def != "" {
				vals = strings.Split(def, ",")
			}
			_ = sv.Replace(vals)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// execute runs the root command with args and returns what it printed to
// stdout. Env files are pointed at a missing path so the developer's .env
// never leaks into a test.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(RootCmd)

	var stdout, stderr bytes.Buffer
	RootCmd.SetOut(&stdout)
	RootCmd.SetErr(&stderr)
	t.Cleanup(func() {
		RootCmd.SetOut(nil)
		RootCmd.SetErr(nil)
		RootCmd.SetArgs(nil)
	})

	noEnv := filepath.Join(t.TempDir(), "missing.env")
	RootCmd.SetArgs(append([]string{"--env-file", noEnv, "--log-level", "silent"}, args...))

	err := RootCmd.Execute()
	return stdout.String(), err
}

// newShopServer starts a mock storefront and points API_URL at it.
func newShopServer(t *testing.T) *mockshop.Shop {
	t.Helper()
	shop := mockshop.New(mockshop.DefaultOptions())
	srv := httptest.NewServer(shop)
	t.Cleanup(srv.Close)
	t.Setenv("API_URL", srv.URL)
	t.Setenv("HISTORY_DB", "")
	return shop
}

func TestRootCommand_Help(t *testing.T) {
	out, err := execute(t)
	require.NoError(t, err)
	assert.Contains(t, out, "storeload")
	assert.Contains(t, out, "run")
	assert.Contains(t, out, "profiles")
	assert.Contains(t, out, "history")
}

func TestRootCommand_Version(t *testing.T) {
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, version)
}

func TestRootCommand_UnknownCommand(t *testing.T) {
	_, err := execute(t, "explode")
	assert.Error(t, err)
}
