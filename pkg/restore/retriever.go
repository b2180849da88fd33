// Package restore replays a local archive into a project of the store.
package restore

import (
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/pizzawithsucuk/neptune-archiver/pkg/errors"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/manifest"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/store"
)

// fs is used for mock tests. It will be overridden by afero.NewMemMapFs()
// in the tests.
var fs = afero.NewOsFs()

// DefaultVisibility is the visibility of created projects.
const DefaultVisibility = "priv"

// Options configures a Retriever.
type Options struct {
	// Source is the archive directory.
	Source string

	// Workspace defaults to the workspace that the archive was created
	// from.
	Workspace string

	// ProjectName defaults to the name of the archived project.
	ProjectName string

	// AlternativeSysNamespace is the namespace that read-only fields are
	// restored under. Read-only fields are skipped if it's empty.
	AlternativeSysNamespace string

	// CreateProject creates the project before restoring into it.
	CreateProject bool

	// Key defaults to the key of the archived project.
	Key string

	// Visibility defaults to DefaultVisibility.
	Visibility string
}

// Retriever restores an archive.
type Retriever struct {
	store   store.Store
	opts    Options
	project *manifest.Manifest
	spec    store.ProjectSpec
}

// New reads the archive at opts.Source, and resolves the project that it
// will be restored to.
func New(st store.Store, opts Options) (*Retriever, error) {
	if opts.Source == "" {
		return nil, errors.MissingFieldError{Field: "source"}
	}

	opts.AlternativeSysNamespace = strings.Trim(opts.AlternativeSysNamespace, "/")
	if strings.Contains(opts.AlternativeSysNamespace, "//") {
		return nil, errors.NewFriendlyError("The alternative sys namespace %q "+
			"can't contain empty path segments.", opts.AlternativeSysNamespace)
	}

	// The archive info only provides the default workspace, so it's
	// optional when the workspace is set explicitly.
	infoPath := filepath.Join(opts.Source, manifest.ArchiveInfo)
	info, err := manifest.ReadInfo(fs, infoPath)
	switch {
	case err == nil:
		if err := manifest.CheckCompatible(info); err != nil {
			return nil, err
		}
	case errors.As(err, new(errors.FileNotFound)) && opts.Workspace != "":
		log.WithField("path", infoPath).Warn(
			"Archive info is missing. Skipping the compatibility check.")
	default:
		return nil, errors.WithContext(err, "read archive info")
	}

	project, err := manifest.Read(fs, filepath.Join(opts.Source, manifest.ProjectStructure))
	if err != nil {
		return nil, errors.WithContext(err, "read project manifest")
	}

	spec, err := resolveProject(opts, info, project)
	if err != nil {
		return nil, err
	}
	return &Retriever{store: st, opts: opts, project: project, spec: spec}, nil
}

func resolveProject(opts Options, info manifest.Info, project *manifest.Manifest) (store.ProjectSpec, error) {
	spec := store.ProjectSpec{
		Workspace:  opts.Workspace,
		Name:       opts.ProjectName,
		Key:        opts.Key,
		Visibility: opts.Visibility,
	}

	if spec.Workspace == "" {
		spec.Workspace = info.Workspace
	}
	if spec.Workspace == "" {
		return store.ProjectSpec{}, errors.MissingFieldError{Field: "workspace"}
	}

	for _, key := range []string{"sys/name", "sys/id"} {
		if spec.Name != "" {
			break
		}
		spec.Name, _ = project.Atom(key)
	}
	if spec.Name == "" {
		return store.ProjectSpec{}, errors.MissingFieldError{Field: "project name"}
	}

	if spec.Key == "" {
		spec.Key, _ = project.Atom("sys/key")
	}
	if spec.Visibility == "" {
		spec.Visibility = DefaultVisibility
	}
	return spec, nil
}

// Project returns the project that the archive is restored to.
func (r *Retriever) Project() store.ProjectSpec {
	return r.spec
}

// Restore replays the project, and then every run of the archive into a new
// run. Runs that fail are logged, and reported through a RunsFailed error
// after all other runs were restored.
func (r *Retriever) Restore() error {
	if r.opts.CreateProject {
		if err := r.store.CreateProject(r.spec); err != nil {
			return errors.WithContext(err, "create project")
		}
		log.WithField("project", r.spec.ID()).Info("Created project")
	}

	if err := r.restoreProject(); err != nil {
		return errors.WithContext(err, "restore project")
	}
	log.WithField("attributes", r.project.Len()).Info("Restored project")

	runDirs, err := r.runDirs()
	if err != nil {
		return errors.WithContext(err, "list runs")
	}

	var failed []string
	for _, name := range runDirs {
		logger := log.WithField("run", name)
		n, err := r.restoreRun(filepath.Join(r.opts.Source, name))
		if err != nil {
			logger.WithError(err).Error("Failed to restore run")
			failed = append(failed, name)
			continue
		}
		logger.WithField("attributes", n).Info("Restored run")
	}

	if len(failed) != 0 {
		return errors.RunsFailed{RunIDs: failed, Total: len(runDirs)}
	}
	return nil
}

func (r *Retriever) restoreProject() error {
	project, err := r.store.OpenProject(r.spec.ID(), store.ReadWrite)
	if err != nil {
		return errors.WithContext(err, "open project")
	}

	if err := Replay(r.project, project, r.opts.Source, r.opts.AlternativeSysNamespace); err != nil {
		project.Close()
		return err
	}
	return project.Close()
}

// restoreRun restores the archived run in dir, and returns the number of
// attributes that were restored. The run is only created once its manifest
// was read.
func (r *Retriever) restoreRun(dir string) (int, error) {
	m, err := manifest.Read(fs, filepath.Join(dir, manifest.RunStructure))
	if err != nil {
		return 0, errors.WithContext(err, "read manifest")
	}

	run, err := r.store.CreateRun(r.spec.ID())
	if err != nil {
		return 0, errors.WithContext(err, "create run")
	}

	if err := Replay(m, run, dir, r.opts.AlternativeSysNamespace); err != nil {
		run.Close()
		return 0, err
	}
	if err := run.Close(); err != nil {
		return 0, errors.WithContext(err, "close run")
	}
	return m.Len(), nil
}

// runDirs returns the names of the run directories in the archive, sorted.
// Side-car directories of the project itself aren't runs.
func (r *Retriever) runDirs() ([]string, error) {
	entries, err := afero.ReadDir(fs, r.opts.Source)
	if err != nil {
		return nil, err
	}

	sideCars := map[string]struct{}{}
	for _, kind := range []map[string]string{r.project.FileSets, r.project.FileSeries} {
		for _, id := range kind {
			sideCars[id] = struct{}{}
		}
	}

	var names []string
	for _, entry := range entries {
		if _, ok := sideCars[entry.Name()]; ok || !entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}
