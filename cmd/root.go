package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pizzawithsucuk/neptune-archiver/cmd/archive"
	configCmd "github.com/pizzawithsucuk/neptune-archiver/cmd/config"
	"github.com/pizzawithsucuk/neptune-archiver/cmd/retrieve"
	"github.com/pizzawithsucuk/neptune-archiver/cmd/util"
	"github.com/pizzawithsucuk/neptune-archiver/cmd/version"
)

// verboseLogKey is the environment variable used to enable verbose logging.
// When it's set to `true`, Debug events are logged, rather than just Info and
// above.
const verboseLogKey = "NEPTUNE_ARCHIVER_LOG_VERBOSE"

// Execute runs the main CLI process.
func Execute() {
	if os.Getenv(verboseLogKey) == "true" {
		log.SetLevel(log.DebugLevel)
	}

	rootCmd := New()
	if err := rootCmd.Execute(); err != nil {
		util.HandleFatalError(err)
	}
}

// New creates the root command with all subcommands attached.
func New() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "neptune-archiver",
		Short:        "Archive Neptune projects to disk, and restore them.",
		SilenceUsage: true,

		// The call to rootCmd.Execute prints the error, so we silence errors
		// here to avoid double printing.
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String(util.StoreFlag, "",
		"The metadata store database. Defaults to the store in the user config.")

	rootCmd.AddCommand(
		archive.New(),
		configCmd.New(),
		retrieve.New(),
		version.New(),
	)
	return rootCmd
}
