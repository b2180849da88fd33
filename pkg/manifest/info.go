package manifest

import (
	"encoding/json"
	"time"

	goversion "github.com/hashicorp/go-version"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/pizzawithsucuk/neptune-archiver/pkg/errors"
)

// DatetimeLayout is the format of Info.Datetime.
const DatetimeLayout = "2006-01-02 15:04:05"

// SupportedArchiverVersions is the range of archiver versions whose archives
// can be restored by this build.
const SupportedArchiverVersions = ">= 0.1, < 2.0"

// Info describes how and when an archive was created.
type Info struct {
	ArchiverVersion string `json:"archiver_version"`
	Datetime        string `json:"datetime"`
	NeptuneVersion  string `json:"neptune_version"`
	Workspace       string `json:"workspace"`
}

// NewInfo creates the archive info for an archive of a project in workspace.
func NewInfo(archiverVersion, storeVersion, workspace string, now time.Time) Info {
	return Info{
		ArchiverVersion: archiverVersion,
		Datetime:        now.Format(DatetimeLayout),
		NeptuneVersion:  storeVersion,
		Workspace:       workspace,
	}
}

// WriteInfo writes info to path.
func WriteInfo(fs afero.Fs, path string, info Info) error {
	return writeJSON(fs, path, info)
}

// ReadInfo parses the archive info at path.
func ReadInfo(fs afero.Fs, path string) (Info, error) {
	contents, err := readFile(fs, path)
	if err != nil {
		return Info{}, err
	}

	var info Info
	if err := json.Unmarshal(contents, &info); err != nil {
		return Info{}, errors.NewFriendlyError(parseErrTemplate, path, err)
	}
	return info, nil
}

// CheckCompatible returns an error if the archive was created by an archiver
// whose format isn't supported. Development builds don't have a parseable
// version, and are always accepted.
func CheckCompatible(info Info) error {
	v, err := goversion.NewVersion(info.ArchiverVersion)
	if err != nil {
		log.WithError(err).WithField("version", info.ArchiverVersion).Debug(
			"Skipping archive compatibility check for unversioned archiver")
		return nil
	}

	constraint, err := goversion.NewConstraint(SupportedArchiverVersions)
	if err != nil {
		return errors.WithContext(err, "parse supported versions")
	}

	if !constraint.Check(v.Core()) {
		return errors.NewFriendlyError("The archive was created by archiver "+
			"version %s, which isn't supported by this version.\n"+
			"Supported versions: %s", info.ArchiverVersion, SupportedArchiverVersions)
	}
	return nil
}
