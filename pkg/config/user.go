package config

import (
	"path/filepath"

	"github.com/ghodss/yaml"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"

	"github.com/pizzawithsucuk/neptune-archiver/pkg/errors"
)

const (
	// UserConfigPath is the default path to the user config.
	UserConfigPath = "~/.neptune-archiver.yaml"

	// DefaultStorePath is the metadata store database used when neither
	// the user config nor the command line set one.
	DefaultStorePath = "~/.neptune-archiver/store.db"

	// DefaultWorkers is the number of runs archived in parallel.
	DefaultWorkers = 1

	// InitialUserConfigVersion is the first version of the user config.
	// Config files that do not specify a version will default to this
	// version.
	InitialUserConfigVersion = "v1alpha1"

	// SupportedUserConfigVersion is the supported version of the user
	// config of the current binary.
	SupportedUserConfigVersion = "v1alpha1"
)

// User contains the defaults for the command line flags.
type User struct {
	Version string `json:"version,omitempty"`

	// Store is the path to the metadata store database. Relative paths are
	// relative to the config file.
	Store string `json:"store,omitempty"`

	// Workers is the number of runs that are archived in parallel.
	Workers int `json:"workers,omitempty"`

	// AlternativeSysNamespace is the namespace that read-only fields are
	// restored under.
	AlternativeSysNamespace string `json:"alternativeSysNamespace,omitempty"`
}

func (u User) getVersion() string {
	return u.Version
}

// homedirExpand will be overridden in mock tests
var homedirExpand = homedir.Expand

// ParseUser parses the User stored in the default path. The defaults are
// returned if the file doesn't exist.
func ParseUser() (User, error) {
	path, err := GetUserConfigPath()
	if err != nil {
		return User{}, errors.WithContext(err, "expand config path")
	}

	config := User{Version: InitialUserConfigVersion}
	err = parseConfig(path, &config, SupportedUserConfigVersion)
	if _, ok := err.(errors.FileNotFound); ok {
		config = User{Version: SupportedUserConfigVersion}
		err = nil
	}
	if err != nil {
		return User{}, errors.WithContext(err, "parse")
	}

	if config.Workers < 0 {
		return User{}, errors.NewFriendlyError(
			"The number of workers in %q must be positive, got %d.", path, config.Workers)
	}
	if config.Workers == 0 {
		config.Workers = DefaultWorkers
	}

	if config.Store == "" {
		config.Store = DefaultStorePath
	}
	config.Store, err = homedirExpand(config.Store)
	if err != nil {
		return User{}, errors.WithContext(err, "expand store path")
	}

	// Evaluate relative paths relative to the config path.
	if !filepath.IsAbs(config.Store) {
		config.Store = filepath.Join(filepath.Dir(path), config.Store)
	}
	return config, nil
}

// WriteUser writes the given user config to disk.
func WriteUser(cfg User) error {
	cfg.Version = SupportedUserConfigVersion
	path, err := GetUserConfigPath()
	if err != nil {
		return errors.WithContext(err, "expand config path")
	}

	yamlBytes, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.WithContext(err, "marshal")
	}

	if err := afero.WriteFile(fs, path, yamlBytes, 0644); err != nil {
		return errors.WithContext(err, "write")
	}
	return nil
}

// GetUserConfigPath returns the path to the user's configuration. This path
// is expanded, so it can be directly passed to file operations.
func GetUserConfigPath() (string, error) {
	return homedirExpand(UserConfigPath)
}
