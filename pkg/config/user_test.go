package config

import (
	"fmt"
	"strings"
	"testing"

	"github.com/ghodss/yaml"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pizzawithsucuk/neptune-archiver/pkg/errors"
)

const out = "/home/user/.neptune-archiver.yaml"

func mockHomedir() {
	homedirExpand = func(path string) (string, error) {
		return strings.Replace(path, "~", "/home/user", 1), nil
	}
}

func TestParseUser(t *testing.T) {
	userEmptyVersion := User{
		Store:                   "/data/store.db",
		Workers:                 4,
		AlternativeSysNamespace: "archived",
	}
	userCorrectVersion := User{
		Version:                 SupportedUserConfigVersion,
		Store:                   "/data/store.db",
		Workers:                 4,
		AlternativeSysNamespace: "archived",
	}
	userIncorrectVersion := User{
		Version: "incorrect_version",
		Store:   "/data/store.db",
	}
	userEmptyVersionString, err := yaml.Marshal(userEmptyVersion)
	assert.NoError(t, err)
	userCorrectVersionString, err := yaml.Marshal(userCorrectVersion)
	assert.NoError(t, err)
	userIncorrectVersionString, err := yaml.Marshal(userIncorrectVersion)
	assert.NoError(t, err)

	tests := []struct {
		name      string
		input     []byte
		expConfig User
		expError  error
	}{
		{
			name:      "EmptyVersion",
			input:     userEmptyVersionString,
			expConfig: userCorrectVersion,
		},
		{
			name:      "CorrectVersion",
			input:     userCorrectVersionString,
			expConfig: userCorrectVersion,
		},
		{
			name: "Defaults",
			input: []byte(fmt.Sprintf(
				"version: %s\nstore: stores/main.db", SupportedUserConfigVersion)),
			expConfig: User{
				Version: SupportedUserConfigVersion,
				Store:   "/home/user/stores/main.db",
				Workers: DefaultWorkers,
			},
		},
		{
			name:  "IncorrectVersion",
			input: userIncorrectVersionString,
			expError: errors.WithContext(incompatibleVersionError{
				path:   out,
				exp:    SupportedUserConfigVersion,
				actual: userIncorrectVersion.Version,
			}, "parse"),
		},
		{
			name: "IncorrectVersionAndExtraFields",
			input: []byte(`
version: incorrect_version
extra: fields
`),
			expError: errors.WithContext(incompatibleVersionError{
				path:   out,
				exp:    SupportedUserConfigVersion,
				actual: "incorrect_version",
			}, "parse"),
		},
		{
			name:     "NegativeWorkers",
			input:    []byte("workers: -1"),
			expError: errors.NewFriendlyError("The number of workers in %q must be positive, got %d.", out, -1),
		},
	}

	fs = afero.NewMemMapFs()
	mockHomedir()
	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			err := afero.WriteFile(fs, out, test.input, 0644)
			assert.NoError(t, err)
			config, err := ParseUser()
			assert.Equal(t, test.expConfig, config)
			assert.Equal(t, test.expError, err)
		})
	}
}

func TestParseUserExtraFields(t *testing.T) {
	fs = afero.NewMemMapFs()
	mockHomedir()

	input := fmt.Sprintf("version: %s\nextra: fields", SupportedUserConfigVersion)
	require.NoError(t, afero.WriteFile(fs, out, []byte(input), 0644))

	_, err := ParseUser()
	assert.Contains(t, errors.GetPrintableMessage(err), `The neptune-archiver config "/home/user/.neptune-archiver.yaml" is invalid`)
	assert.Contains(t, errors.GetPrintableMessage(err), `unknown field "extra"`)
}

func TestParseMissingUser(t *testing.T) {
	fs = afero.NewMemMapFs()
	mockHomedir()

	config, err := ParseUser()
	assert.NoError(t, err)
	assert.Equal(t, User{
		Version: SupportedUserConfigVersion,
		Store:   "/home/user/.neptune-archiver/store.db",
		Workers: DefaultWorkers,
	}, config)
}

func TestParseWrittenUser(t *testing.T) {
	fs = afero.NewMemMapFs()
	mockHomedir()

	user := User{
		Store:                   "/data/store.db",
		Workers:                 8,
		AlternativeSysNamespace: "archived",
	}

	// Write the user to disk, and assert that we get the same user config when
	// we parse it.
	assert.NoError(t, WriteUser(user))

	parsed, err := ParseUser()
	assert.NoError(t, err)

	user.Version = SupportedUserConfigVersion
	assert.Equal(t, user, parsed)
}
