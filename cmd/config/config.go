package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh/terminal"

	"github.com/pizzawithsucuk/neptune-archiver/cmd/util"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/config"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/errors"
)

// defaultAlternativeSysNamespace is suggested when restoring read-only fields
// hasn't been configured yet.
const defaultAlternativeSysNamespace = "archived"

// Mocked for unit testing.
var (
	stdout          io.Writer = os.Stdout
	stdin           io.Reader = os.Stdin
	parseUserConfig           = config.ParseUser
	writeUserConfig           = config.WriteUser
	getConfigPath             = config.GetUserConfigPath
	stdinIsTerminal           = func() bool { return terminal.IsTerminal(int(os.Stdin.Fd())) }
)

// New creates a new `config` command.
func New() *cobra.Command {
	var cliOpts config.User
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Setup the neptune-archiver user configuration",
		Run: func(_ *cobra.Command, _ []string) {
			if err := SetupConfig(cliOpts); err != nil {
				err = errors.NewFriendlyError("Failed to setup configuration:\n%s", err)
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVar(&cliOpts.Store, "store-path", "",
		"Set the metadata store database in the config. "+
			"Optional: If not set, `neptune-archiver config` will interactively prompt.")
	cmd.Flags().IntVar(&cliOpts.Workers, "workers", 0,
		"Set the number of runs archived in parallel. "+
			"Optional: If not set, `neptune-archiver config` will interactively prompt.")
	cmd.Flags().StringVar(&cliOpts.AlternativeSysNamespace, "alternative-sys-namespace", "",
		"Set the namespace that read-only fields are restored under. "+
			"Optional: If not set, `neptune-archiver config` will interactively prompt.")

	// Setup the commands for querying the contents of the user config.
	type getterSpec struct {
		use, short string
		fn         func(config.User) string
	}

	getters := []getterSpec{
		{
			use:   "get-store",
			short: "Get the currently configured metadata store",
			fn:    func(cfg config.User) string { return cfg.Store },
		},
		{
			use:   "get-workers",
			short: "Get the currently configured number of archive workers",
			fn:    func(cfg config.User) string { return strconv.Itoa(cfg.Workers) },
		},
		{
			use:   "get-alternative-sys-namespace",
			short: "Get the namespace that read-only fields are restored under",
			fn:    func(cfg config.User) string { return cfg.AlternativeSysNamespace },
		},
	}
	for _, getter := range getters {
		getter := getter
		cmd.AddCommand(&cobra.Command{
			Use:   getter.use,
			Short: getter.short,
			Run: func(_ *cobra.Command, _ []string) {
				cfg, err := parseUserConfig()
				if err != nil {
					err = errors.WithContext(err, "read config")
					util.HandleFatalError(err)
				}

				fmt.Fprintln(stdout, getter.fn(cfg))
			},
		})
	}

	return cmd
}

// SetupConfig writes the user config. Fields that aren't set in cliOpts are
// prompted for.
func SetupConfig(cliOpts config.User) error {
	cfg, err := generateConfig(cliOpts)
	if err != nil {
		return errors.WithContext(err, "generate config")
	}

	if err := writeUserConfig(cfg); err != nil {
		return errors.WithContext(err, "write config")
	}

	path, err := getConfigPath()
	if err != nil {
		return errors.WithContext(err, "get user config path")
	}

	fmt.Fprintf(stdout, "Wrote config to %s\n", path)
	return nil
}

func workersValidationFn(resp string) (string, bool) {
	n, err := strconv.Atoi(resp)
	if err != nil || n < 1 {
		return "The number of workers must be a positive integer.", false
	}
	return "", true
}

func namespaceValidationFn(ns string) (string, bool) {
	if ns == "" {
		return "", true
	}

	for _, segment := range strings.Split(ns, "/") {
		if segment == "" {
			return "The namespace can't start or end with `/`, or contain `//`.", false
		}
	}

	if ns == "sys" || strings.HasPrefix(ns, "sys/") {
		return "Read-only fields can't be restored inside the `sys` namespace. " +
			"Please pick another namespace.", false
	}
	return "", true
}

type prompt struct {
	helpString, prompt, defaultAnswer, currAnswer string
	field                                         *string
	validationFn                                  func(string) (string, bool)
}

// generateConfig interacts with the user to decide what the user's desired
// configuration is. The current config is offered as an alternative to the
// defaults.
func generateConfig(cliOpts config.User) (config.User, error) {
	currConfig, err := parseUserConfig()
	if err != nil {
		currConfig = config.User{}
		log.WithError(err).Debug("Failed to read current config")
	}

	cfg := cliOpts
	var workers string
	var prompts []prompt
	if cliOpts.Store == "" {
		prompts = append(prompts, prompt{
			helpString: "Enter the path to the metadata store database.\n" +
				"It's created if it doesn't exist.",
			prompt:        "Metadata store",
			defaultAnswer: config.DefaultStorePath,
			currAnswer:    currConfig.Store,
			field:         &cfg.Store,
		})
	}

	if cliOpts.Workers == 0 {
		var currWorkers string
		if currConfig.Workers != 0 {
			currWorkers = strconv.Itoa(currConfig.Workers)
		}
		prompts = append(prompts, prompt{
			helpString:    "Enter the number of runs that are archived in parallel.",
			prompt:        "Archive workers",
			defaultAnswer: strconv.Itoa(config.DefaultWorkers),
			currAnswer:    currWorkers,
			field:         &workers,
			validationFn:  workersValidationFn,
		})
	} else if msg, ok := workersValidationFn(strconv.Itoa(cliOpts.Workers)); !ok {
		return config.User{}, errors.New("%s", msg)
	}

	if cliOpts.AlternativeSysNamespace == "" {
		prompts = append(prompts, prompt{
			helpString: "Enter the namespace that read-only fields such as sys/id are restored under.\n" +
				"Read-only fields are skipped when restoring if it's empty.",
			prompt:        "Alternative sys namespace",
			defaultAnswer: defaultAlternativeSysNamespace,
			currAnswer:    currConfig.AlternativeSysNamespace,
			field:         &cfg.AlternativeSysNamespace,
			validationFn:  namespaceValidationFn,
		})
	} else if msg, ok := namespaceValidationFn(cliOpts.AlternativeSysNamespace); !ok {
		return config.User{}, errors.New("%s", msg)
	}

	if len(prompts) != 0 && !stdinIsTerminal() {
		return config.User{}, errors.NewFriendlyError("Can't prompt for the config " +
			"because stdin isn't a terminal.\nSet every field with " +
			"--store-path, --workers and --alternative-sys-namespace instead.")
	}

	reader := bufio.NewReader(stdin)
	for _, prompt := range prompts {
		var resp string
		for {
			resp, err = promptUser(reader, prompt.helpString, prompt.prompt,
				prompt.defaultAnswer, prompt.currAnswer)
			if err != nil {
				return config.User{}, errors.WithContext(err, "read response")
			}

			if prompt.validationFn == nil {
				break
			}

			validationErr, ok := prompt.validationFn(resp)
			if ok {
				break
			}

			fmt.Fprintln(stdout, validationErr)
		}

		*prompt.field = resp
	}

	if workers != "" {
		// The response was validated by workersValidationFn.
		cfg.Workers, _ = strconv.Atoi(workers)
	}
	return cfg, nil
}

func promptUser(reader *bufio.Reader, helpString, prompt, defaultAnswer, currAnswer string) (string, error) {
	// Display a new line at the end to separate different fields to make it
	// look clearer.
	defer fmt.Fprintln(stdout)

	var options []string
	if defaultAnswer != "" {
		options = append(options, defaultAnswer)
	}
	if currAnswer != "" && currAnswer != defaultAnswer {
		options = append(options, currAnswer)
	}
	options = append(options, "(Enter manually)")

	fmt.Fprintln(stdout, helpString+"\n"+prompt+":")

	if nOptions := len(options); nOptions > 1 {
		fmt.Fprintln(stdout)
		for i, option := range options {
			if i == 0 {
				option += " (recommended)"
			}
			fmt.Fprintf(stdout, "\t%d. %s\n", i+1, option)
		}
		fmt.Fprintln(stdout)

		choice, err := readChoice(reader, nOptions)
		if err != nil {
			return "", err
		}
		if choice != nOptions {
			return options[choice-1], nil
		}
	}

	fmt.Fprint(stdout, "Please enter manually: ")
	return readLine(reader)
}

// readChoice asks until the user picks one of the n options. An empty line
// picks the first option.
func readChoice(reader *bufio.Reader, n int) (int, error) {
	for {
		fmt.Fprintf(stdout, "Please choose one [1-%d]: ", n)
		resp, err := readLine(reader)
		if err != nil {
			return 0, err
		}

		if resp == "" {
			return 1, nil
		}
		if choice, err := strconv.Atoi(resp); err == nil && choice >= 1 && choice <= n {
			return choice, nil
		}
	}
}

func readLine(reader *bufio.Reader) (string, error) {
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\n"), nil
}
