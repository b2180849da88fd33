package retrieve

import (
	"fmt"
	"io"
	"os"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/pizzawithsucuk/neptune-archiver/cmd/util"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/config"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/errors"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/restore"
)

// Mocked for unit testing.
var (
	stdout          io.Writer = os.Stdout
	parseUserConfig           = config.ParseUser
	openStore                 = util.OpenStore
)

type flags struct {
	restore.Options
	noProjectCreation bool
}

// New creates a new `retrieve` command.
func New() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "retrieve",
		Short: "Restore an archive into a project",
		Long: heredoc.Doc(`
			Replay an archive created by 'neptune-archiver archive' into a
			project. Every archived run is restored as a new run.

			Read-only fields such as sys/id can't be written back. They're
			restored under --alternative-sys-namespace instead, or skipped if
			it's empty.`),
		Run: func(cmd *cobra.Command, args []string) {
			userConfig, err := parseUserConfig()
			if err != nil {
				util.HandleFatalError(errors.WithContext(err, "parse user config"))
			}

			opts := resolveOptions(cmd, userConfig, f)
			if err := run(util.StorePath(cmd, userConfig), opts); err != nil {
				util.HandleFatalError(err)
			}
		},
	}

	cmd.Flags().StringVar(&f.Source, "source", "",
		"The archive directory to restore.")
	cmd.Flags().StringVar(&f.Workspace, "workspace", "",
		"The workspace to restore into. Defaults to the archived workspace.")
	cmd.Flags().StringVar(&f.ProjectName, "project-name", "",
		"The project to restore into. Defaults to the archived project name.")
	cmd.Flags().StringVar(&f.AlternativeSysNamespace, "alternative-sys-namespace", "",
		"The namespace to restore read-only fields under. Defaults to the user config.")
	cmd.Flags().BoolVar(&f.noProjectCreation, "no-project-creation", false,
		"Restore into an existing project instead of creating it.")
	cmd.Flags().StringVar(&f.Key, "key", "",
		"The key of the created project. Defaults to the archived key.")
	cmd.Flags().StringVar(&f.Visibility, "visibility", restore.DefaultVisibility,
		"The visibility of the created project.")
	return cmd
}

func resolveOptions(cmd *cobra.Command, userConfig config.User, f flags) restore.Options {
	opts := f.Options
	opts.CreateProject = !f.noProjectCreation
	if !cmd.Flags().Changed("alternative-sys-namespace") {
		opts.AlternativeSysNamespace = userConfig.AlternativeSysNamespace
	}
	return opts
}

func run(storePath string, opts restore.Options) error {
	if opts.Source == "" {
		return errors.NewFriendlyError("The archive to restore must be set with --source.")
	}

	st, err := openStore(storePath, util.ProgressOutput())
	if err != nil {
		return err
	}
	defer st.Close()

	retriever, err := restore.New(st, opts)
	if err != nil {
		return errors.WithContext(err, "open archive")
	}

	err = retriever.Restore()
	if err != nil && !errors.As(err, &errors.RunsFailed{}) {
		return errors.WithContext(err, "restore")
	}

	fmt.Fprintf(stdout, "Restored %s to %s\n", opts.Source, retriever.Project().ID())
	return err
}
