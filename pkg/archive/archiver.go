// Package archive copies the attributes of a project and its runs from the
// store into a local archive directory.
package archive

import (
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/pizzawithsucuk/neptune-archiver/pkg/errors"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/manifest"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/store"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/version"
)

// fs is used for mock tests. It will be overridden by afero.NewMemMapFs()
// in the tests.
var fs = afero.NewOsFs()

// clock is mocked for unit testing.
var clock = clockwork.NewRealClock()

// Options configures an Archiver.
type Options struct {
	// ProjectID is the project to archive, in the form `workspace/name`.
	ProjectID string

	// Destination is the directory that the archive is created in.
	Destination string

	// ArchiveName is the name of the archive directory. Defaults to the
	// name of the project.
	ArchiveName string

	// Workers is the number of runs that are archived in parallel.
	Workers int

	// StoreRunsTable adds a copy of the runs table to the archive.
	StoreRunsTable bool
}

// Archiver archives a project and all of its runs.
type Archiver struct {
	store     store.Store
	opts      Options
	project   store.Object
	runsTable store.RunsTable
	root      string
}

// RunResult is the outcome of archiving a single run.
type RunResult struct {
	RunID      string
	Attributes int
	Warnings   []Warning
	Err        error
}

// New opens the project and creates the archive directory. It fails if the
// archive directory already exists.
func New(st store.Store, opts Options) (*Archiver, error) {
	if opts.ProjectID == "" {
		return nil, errors.MissingFieldError{Field: "project ID"}
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}

	project, err := st.OpenProject(opts.ProjectID, store.ReadOnly)
	if err != nil {
		return nil, errors.WithContext(err, "open project")
	}

	a, err := newArchiver(st, project, opts)
	if err != nil {
		project.Close()
		return nil, err
	}
	return a, nil
}

func newArchiver(st store.Store, project store.Object, opts Options) (*Archiver, error) {
	runsTable, err := st.ListRuns(opts.ProjectID)
	if err != nil {
		return nil, errors.WithContext(err, "list runs")
	}

	name := opts.ArchiveName
	if name == "" {
		name, err = projectName(project)
		if err != nil {
			return nil, errors.WithContext(err, "get project name")
		}
	}

	root := filepath.Join(opts.Destination, name)
	if err := createDir(root); err != nil {
		return nil, err
	}

	return &Archiver{
		store:     st,
		opts:      opts,
		project:   project,
		runsTable: runsTable,
		root:      root,
	}, nil
}

// Root returns the path of the archive directory.
func (a *Archiver) Root() string {
	return a.root
}

// Archive writes the archive info, the project, every run, and optionally
// the runs table. Runs that fail are logged, and reported through a
// RunsFailed error after all other runs were archived.
func (a *Archiver) Archive() error {
	defer a.project.Close()

	if err := a.writeInfo(); err != nil {
		return errors.WithContext(err, "write archive info")
	}

	res, err := archiveObject(a.project, a.root, manifest.ProjectStructure)
	if err != nil {
		return errors.WithContext(err, "archive project")
	}
	logWarnings(log.WithField("project", a.opts.ProjectID), res.Warnings)
	log.WithField("attributes", res.Attributes).Info("Archived project")

	runsErr := a.reportRuns(a.archiveRuns(a.runsTable.RunIDs()))

	if a.opts.StoreRunsTable {
		if err := writeRunsTable(filepath.Join(a.root, manifest.RunsTable), a.runsTable); err != nil {
			return errors.WithContext(err, "write runs table")
		}
	}
	return runsErr
}

func (a *Archiver) writeInfo() error {
	workspace := strings.SplitN(a.opts.ProjectID, "/", 2)[0]
	info := manifest.NewInfo(version.Version, a.store.Version(), workspace, clock.Now())
	return manifest.WriteInfo(fs, filepath.Join(a.root, manifest.ArchiveInfo), info)
}

// archiveRuns archives every run with a pool of workers. Runs are
// independent: each worker has its own handle to the run, and its own
// directory in the archive.
func (a *Archiver) archiveRuns(runIDs []string) []RunResult {
	results := make([]RunResult, len(runIDs))

	var group errgroup.Group
	group.SetLimit(a.opts.Workers)
	for i, runID := range runIDs {
		i, runID := i, runID
		group.Go(func() error {
			results[i] = a.archiveRun(runID)
			return nil
		})
	}
	group.Wait()
	return results
}

func (a *Archiver) archiveRun(runID string) RunResult {
	res := RunResult{RunID: runID}

	run, err := a.store.OpenRun(a.opts.ProjectID, runID, store.ReadOnly)
	if err != nil {
		res.Err = errors.WithContext(err, "open run")
		return res
	}
	defer func() {
		if err := run.Close(); err != nil {
			log.WithError(err).WithField("run", runID).Warn("Failed to close run")
		}
	}()

	dir := filepath.Join(a.root, runID)
	if err := createDir(dir); err != nil {
		res.Err = err
		return res
	}

	objRes, err := archiveObject(run, dir, manifest.RunStructure)
	if err != nil {
		res.Err = err
		return res
	}
	res.Attributes = objRes.Attributes
	res.Warnings = objRes.Warnings
	return res
}

func (a *Archiver) reportRuns(results []RunResult) error {
	var failed []string
	for _, res := range results {
		logger := log.WithField("run", res.RunID)
		logWarnings(logger, res.Warnings)
		if res.Err != nil {
			logger.WithError(res.Err).Error("Failed to archive run")
			failed = append(failed, res.RunID)
			continue
		}
		logger.WithField("attributes", res.Attributes).Info("Archived run")
	}

	if len(failed) != 0 {
		return errors.RunsFailed{RunIDs: failed, Total: len(results)}
	}
	return nil
}

func logWarnings(logger *log.Entry, warnings []Warning) {
	for _, w := range warnings {
		logger.WithError(w.Err).WithField("key", w.Key).Warn(
			"String set is unavailable. Archiving it as an empty set.")
	}
}

func projectName(project store.Object) (string, error) {
	ns, err := project.Structure()
	if err != nil {
		return "", errors.WithContext(err, "get structure")
	}

	attr, ok := lookup(ns, "sys/name")
	if !ok {
		return "", errors.MissingFieldError{Field: "sys/name"}
	}

	value, err := attr.Fetch()
	if err != nil {
		return "", errors.WithContext(err, "fetch")
	}

	name, ok := value.(string)
	if !ok || name == "" {
		return "", errors.New("invalid project name: %v", value)
	}
	return name, nil
}

func createDir(path string) error {
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return errors.WithContext(err, "stat")
	}
	if exists {
		return errors.DestinationAlreadyExists{Path: path}
	}

	if err := fs.MkdirAll(path, 0755); err != nil {
		return errors.WithContext(err, fmt.Sprintf("mkdir %s", path))
	}
	return nil
}

func writeRunsTable(path string, table store.RunsTable) error {
	f, err := fs.Create(path)
	if err != nil {
		return errors.WithContext(err, "create")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(table.Columns); err != nil {
		return errors.WithContext(err, "write header")
	}
	if err := w.WriteAll(table.Rows); err != nil {
		return errors.WithContext(err, "write rows")
	}
	return nil
}
