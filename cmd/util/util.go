// Package util contains helpers shared by the commands.
package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh/terminal"

	"github.com/pizzawithsucuk/neptune-archiver/pkg/config"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/errors"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/store/sqlstore"
)

// StoreFlag is the persistent flag that overrides the store in the user
// config.
const StoreFlag = "store"

// Mocked for unit testing.
var (
	exit                 = os.Exit
	stderr     io.Writer = os.Stderr
	mkdirAll             = os.MkdirAll
	isTerminal           = terminal.IsTerminal
)

// HandleFatalError handles errors that are severe enough to terminate the
// program.
func HandleFatalError(err error) {
	log.WithError(err).Debug("Fatal error")
	fmt.Fprintln(stderr, errors.GetPrintableMessage(err))
	exit(1)
}

// HandlePanic logs the stack trace of a panic, and exits. It must be
// deferred.
func HandlePanic() {
	if r := recover(); r != nil {
		log.WithField("stack", string(debug.Stack())).Errorf("Unexpected panic: %v", r)
		fmt.Fprintln(stderr, "neptune-archiver crashed unexpectedly. Rerun with "+
			"NEPTUNE_ARCHIVER_LOG_VERBOSE=true for more information.")
		exit(1)
	}
}

// StorePath returns the store database to use for cmd. The --store flag
// takes precedence over the user config.
func StorePath(cmd *cobra.Command, userConfig config.User) string {
	if flag := cmd.Flag(StoreFlag); flag != nil && flag.Changed {
		return flag.Value.String()
	}
	return userConfig.Store
}

// ProgressOutput returns where transfer progress is printed. Progress is
// only shown when stderr is a terminal.
func ProgressOutput() io.Writer {
	if isTerminal(int(os.Stderr.Fd())) {
		return stderr
	}
	return io.Discard
}

// OpenStore opens the store database at path, creating its directory if
// needed. Transfer progress is reported to progress.
func OpenStore(path string, progress io.Writer) (*sqlstore.Store, error) {
	if err := mkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.WithContext(err, "create store directory")
	}

	st, err := sqlstore.Open(sqlstore.Config{Path: path, ProgressOutput: progress})
	if err != nil {
		return nil, errors.WithContext(err, fmt.Sprintf("open store %s", path))
	}
	return st, nil
}
