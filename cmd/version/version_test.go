package version

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pizzawithsucuk/neptune-archiver/pkg/config"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/errors"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/store/sqlstore"
)

func TestVersion(t *testing.T) {
	exp := "local version:            set-by-make\n" +
		"supported archives:       >= 0.1, < 2.0\n" +
		"read-only fields version: 2\n"

	tmp := t.TempDir()
	existing := filepath.Join(tmp, "store.db")
	st, err := sqlstore.Open(sqlstore.Config{Path: existing})
	require.NoError(t, err)
	require.NoError(t, st.Close())
	missing := filepath.Join(tmp, "missing", "store.db")

	tests := []struct {
		name       string
		userConfig config.User
		configErr  error
		expStore   string
	}{
		{
			name:       "Store",
			userConfig: config.User{Store: existing},
			expStore:   "sqlstore/1",
		},
		{
			name:       "MissingStore",
			userConfig: config.User{Store: missing},
			expStore:   "none (" + missing + " doesn't exist)",
		},
		{
			name:      "BadConfig",
			configErr: errors.New("parse"),
			expStore:  "unknown",
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			var out bytes.Buffer
			stdout = &out
			parseUserConfig = func() (config.User, error) {
				return test.userConfig, test.configErr
			}

			run(&cobra.Command{})
			assert.Equal(t, exp+"store version:            "+test.expStore+"\n", out.String())
		})
	}

	// Printing the version must not create the store.
	assert.NoDirExists(t, filepath.Dir(missing))
}
