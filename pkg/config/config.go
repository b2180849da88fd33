// Package config parses the user configuration of the command line.
package config

import (
	"fmt"
	"os"

	"github.com/ghodss/yaml"
	"github.com/spf13/afero"

	"github.com/pizzawithsucuk/neptune-archiver/pkg/errors"
)

// invalidConfigTemplate is shown when a config file can't be decoded. The
// yaml library only reports a flat message, so it's included as is.
const invalidConfigTemplate = "The neptune-archiver config %q is invalid.\n" +
	"Check that it only sets store, workers and alternativeSysNamespace,\n" +
	"that workers is a number, or run `neptune-archiver config` to rewrite it.\n\n" +
	"Decoding failed with:\n" +
	"%s"

type versioned interface {
	getVersion() string
}

type incompatibleVersionError struct {
	path, exp, actual string
}

func (err incompatibleVersionError) Error() string {
	return err.FriendlyMessage()
}

func (err incompatibleVersionError) FriendlyMessage() string {
	return fmt.Sprintf("The config %q was written for config version %q, "+
		"but this neptune-archiver reads version %q.\n"+
		"Run `neptune-archiver config` to rewrite it.", err.path, err.actual, err.exp)
}

// parseConfig decodes the YAML file at path into config. The version is
// checked before unknown fields, so files from other versions get the
// version error.
func parseConfig(path string, config versioned, expVersion string) error {
	contents, err := afero.ReadFile(fs, path)
	switch {
	case os.IsNotExist(err):
		return errors.FileNotFound{Path: path}
	case err != nil:
		return errors.WithContext(err, "read file")
	}

	if err := yaml.Unmarshal(contents, config); err != nil {
		return errors.NewFriendlyError(invalidConfigTemplate, path, err)
	}

	if version := config.getVersion(); version != expVersion {
		return incompatibleVersionError{path: path, exp: expVersion, actual: version}
	}

	if err := yaml.UnmarshalStrict(contents, config, yaml.DisallowUnknownFields); err != nil {
		return errors.NewFriendlyError(invalidConfigTemplate, path, err)
	}
	return nil
}
