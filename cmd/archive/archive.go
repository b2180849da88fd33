package archive

import (
	"fmt"
	"io"
	"os"

	"github.com/MakeNowJust/heredoc"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pizzawithsucuk/neptune-archiver/cmd/util"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/archive"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/config"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/errors"
)

// projectEnvKey is the environment variable that's used when --project-id
// isn't set.
const projectEnvKey = "NEPTUNE_PROJECT"

// Mocked for unit testing.
var (
	stdout              io.Writer = os.Stdout
	getenv                        = os.Getenv
	getWorkingDirectory           = os.Getwd
	parseUserConfig               = config.ParseUser
	openStore                     = util.OpenStore
)

// New creates a new `archive` command.
func New() *cobra.Command {
	var opts archive.Options
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Copy a project and all of its runs into a local archive",
		Long: heredoc.Doc(`
			Copy the attributes of a project and all of its runs into a new
			directory on disk.

			The archive is created in <destination>/<archive_name>. Every run is
			written to its own subdirectory, next to the project manifest.
			Archives can be restored into another project with
			'neptune-archiver retrieve'.`),
		Run: func(cmd *cobra.Command, args []string) {
			userConfig, err := parseUserConfig()
			if err != nil {
				util.HandleFatalError(errors.WithContext(err, "parse user config"))
			}

			if err := resolveOptions(cmd, userConfig, &opts); err != nil {
				util.HandleFatalError(err)
			}

			if err := run(util.StorePath(cmd, userConfig), opts); err != nil {
				util.HandleFatalError(err)
			}
		},
	}

	cmd.Flags().StringVar(&opts.ProjectID, "project-id", "",
		"The project to archive, as workspace/name. Defaults to $"+projectEnvKey+".")
	cmd.Flags().StringVar(&opts.Destination, "destination", "",
		"The directory to create the archive in. Defaults to the working directory.")
	cmd.Flags().StringVar(&opts.ArchiveName, "archive_name", "",
		"The name of the archive directory. Defaults to the project name.")
	cmd.Flags().BoolVar(&opts.StoreRunsTable, "store-runs-table", false,
		"Also save the runs table of the project as runs_table.csv.")
	cmd.Flags().IntVar(&opts.Workers, "workers", config.DefaultWorkers,
		"The number of runs to archive in parallel. Defaults to the user config.")
	return cmd
}

// resolveOptions fills in the options that weren't set on the command line.
func resolveOptions(cmd *cobra.Command, userConfig config.User, opts *archive.Options) error {
	if opts.ProjectID == "" {
		opts.ProjectID = getenv(projectEnvKey)
	}
	if opts.ProjectID == "" {
		return errors.NewFriendlyError(
			"No project to archive. Set it with --project-id or $%s.", projectEnvKey)
	}

	if opts.Destination == "" {
		wd, err := getWorkingDirectory()
		if err != nil {
			return errors.WithContext(err, "get working directory")
		}
		opts.Destination = wd
	}

	if !cmd.Flags().Changed("workers") {
		opts.Workers = userConfig.Workers
	}
	if opts.Workers < 1 {
		return errors.NewFriendlyError("--workers must be positive, got %d.", opts.Workers)
	}
	return nil
}

func run(storePath string, opts archive.Options) error {
	st, err := openStore(storePath, util.ProgressOutput())
	if err != nil {
		return err
	}
	defer st.Close()

	archiver, err := archive.New(st, opts)
	if err != nil {
		return errors.WithContext(err, "start archive")
	}

	log.WithField("project", opts.ProjectID).Info("Archiving")
	err = archiver.Archive()
	if err != nil && !errors.As(err, &errors.RunsFailed{}) {
		return errors.WithContext(err, "archive")
	}

	fmt.Fprintf(stdout, "Archived %s to %s\n", opts.ProjectID, archiver.Root())
	return err
}
