package version

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pizzawithsucuk/neptune-archiver/cmd/util"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/attribute"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/config"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/manifest"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/version"
)

// Mocked for unit testing.
var (
	stdout          io.Writer = os.Stdout
	parseUserConfig           = config.ParseUser
	openStore                 = util.OpenStore
	stat                      = os.Stat
)

// New creates a new `version` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of neptune-archiver and the archives it reads.",
		Long: "Print the local version of neptune-archiver, the archive versions\n" +
			"that it can restore, and the version of the metadata store.",
		Run: func(cmd *cobra.Command, args []string) {
			run(cmd)
		},
	}
}

func run(cmd *cobra.Command) {
	fmt.Fprintf(stdout, "local version:            %s\n", version.Version)
	fmt.Fprintf(stdout, "supported archives:       %s\n", manifest.SupportedArchiverVersions)
	fmt.Fprintf(stdout, "read-only fields version: %d\n", attribute.ReadOnlyFieldsVersion)

	storeVersion, err := getStoreVersion(cmd)
	if err != nil {
		log.WithError(err).Debug("Failed to get store version")
		storeVersion = "unknown"
	}
	fmt.Fprintf(stdout, "store version:            %s\n", storeVersion)
}

func getStoreVersion(cmd *cobra.Command) (string, error) {
	userConfig, err := parseUserConfig()
	if err != nil {
		return "", err
	}

	// Opening the store would create it.
	path := util.StorePath(cmd, userConfig)
	if _, err := stat(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Sprintf("none (%s doesn't exist)", path), nil
		}
		return "", err
	}

	st, err := openStore(path, io.Discard)
	if err != nil {
		return "", err
	}
	defer st.Close()
	return st.Version(), nil
}
