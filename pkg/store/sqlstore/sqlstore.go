// Package sqlstore implements the metadata store on a SQLite database. Each
// project and run is an object holding a tree of typed attributes. Series
// observations and file contents are kept in their own tables.
package sqlstore

import (
	"database/sql"
	_ "embed" // For the schema.
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	_ "modernc.org/sqlite" // Registers the sqlite driver.

	"github.com/pizzawithsucuk/neptune-archiver/pkg/errors"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/store"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

// fs is used for mock tests.
var fs = afero.NewOsFs()

// clock is mocked for unit testing.
var clock = clockwork.NewRealClock()

// Visibilities that projects can be created with.
var visibilities = map[string]struct{}{
	"priv":      {},
	"pub":       {},
	"workspace": {},
}

// Fields that are written by the store itself. Writes to them through
// Object.Field are rejected.
var managedFields = map[string]struct{}{
	"sys/id":            {},
	"sys/name":          {},
	"sys/visibility":    {},
	"sys/creation_time": {},
	"sys/state":         {},
}

// Run states.
const (
	stateActive   = "Active"
	stateInactive = "Inactive"
)

// Config configures the connection to the database.
type Config struct {
	// Path is the path of the database file. It's created if it doesn't
	// exist.
	Path string

	// ProgressOutput receives a line for every uploaded and downloaded
	// file. Progress isn't reported if it's nil.
	ProgressOutput io.Writer
}

// Store is a metadata store backed by SQLite.
type Store struct {
	db       *sql.DB
	progress io.Writer
}

// Open opens the database at cfg.Path, and creates its tables if needed.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.MissingFieldError{Field: "store path"}
	}

	db, err := sql.Open("sqlite", cfg.Path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, errors.WithContext(err, "open database")
	}

	// Queries are never nested, so a single connection serializes writers
	// from parallel workers without SQLITE_BUSY errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, errors.WithContext(err, "apply schema")
	}

	progress := cfg.ProgressOutput
	if progress == nil {
		progress = io.Discard
	}
	log.WithField("path", cfg.Path).Debug("Opened metadata store")
	return &Store{db: db, progress: progress}, nil
}

// Version implements the store.Store interface.
func (s *Store) Version() string {
	return fmt.Sprintf("sqlstore/%d", schemaVersion)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateProject implements the store.Store interface. The key defaults to
// the upper-cased alphanumeric characters of the name.
func (s *Store) CreateProject(spec store.ProjectSpec) error {
	if spec.Workspace == "" {
		return errors.MissingFieldError{Field: "workspace"}
	}
	if spec.Name == "" {
		return errors.MissingFieldError{Field: "project name"}
	}
	if strings.Contains(spec.Workspace+spec.Name, "/") {
		return errors.New("invalid project %q: names can't contain slashes", spec.ID())
	}
	if spec.Key == "" {
		spec.Key = deriveKey(spec.Name)
	}
	if spec.Visibility == "" {
		spec.Visibility = "priv"
	}
	if _, ok := visibilities[spec.Visibility]; !ok {
		return errors.New("unknown visibility %q", spec.Visibility)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errors.WithContext(err, "begin")
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRow(`SELECT COUNT(*) FROM projects WHERE id = ? OR key = ?`,
		spec.ID(), spec.Key).Scan(&exists)
	if err != nil {
		return errors.WithContext(err, "query projects")
	}
	if exists != 0 {
		return errors.NewFriendlyError("A project named %q or with key %q already exists.",
			spec.ID(), spec.Key)
	}

	_, err = tx.Exec(`INSERT INTO projects (id, workspace, name, key, visibility) VALUES (?, ?, ?, ?, ?)`,
		spec.ID(), spec.Workspace, spec.Name, spec.Key, spec.Visibility)
	if err != nil {
		return errors.WithContext(err, "insert project")
	}

	id, err := insertObject(tx, spec.ID(), "")
	if err != nil {
		return err
	}

	for _, attr := range []struct {
		path  string
		value interface{}
	}{
		{"sys/id", spec.Key},
		{"sys/name", spec.Name},
		{"sys/key", spec.Key},
		{"sys/visibility", spec.Visibility},
		{"sys/creation_time", clock.Now()},
	} {
		if err := assign(tx, id, attr.path, attr.value); err != nil {
			return errors.WithContext(err, attr.path)
		}
	}
	return tx.Commit()
}

// OpenProject implements the store.Store interface.
func (s *Store) OpenProject(projectID string, mode store.Mode) (store.Object, error) {
	id, err := s.objectID(projectID, "")
	if err == sql.ErrNoRows {
		return nil, errors.NewFriendlyError("Project %q does not exist.", projectID)
	}
	if err != nil {
		return nil, err
	}
	return &object{store: s, id: id, projectID: projectID, mode: mode}, nil
}

// OpenRun implements the store.Store interface.
func (s *Store) OpenRun(projectID, runID string, mode store.Mode) (store.Object, error) {
	if runID == "" {
		return nil, errors.MissingFieldError{Field: "run ID"}
	}

	id, err := s.objectID(projectID, runID)
	if err == sql.ErrNoRows {
		return nil, errors.New("run %s does not exist in project %s", runID, projectID)
	}
	if err != nil {
		return nil, err
	}

	obj := &object{store: s, id: id, projectID: projectID, runID: runID, mode: mode}
	if mode == store.ReadWrite {
		if err := assignRaw(s.db, id, "sys/state", store.RunState, stateActive); err != nil {
			return nil, errors.WithContext(err, "mark run as active")
		}
	}
	return obj, nil
}

// CreateRun implements the store.Store interface. Runs are identified by the
// project key followed by a sequence number.
func (s *Store) CreateRun(projectID string) (store.Object, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, errors.WithContext(err, "begin")
	}
	defer tx.Rollback()

	var key string
	var n int64
	err = tx.QueryRow(`SELECT key, next_run FROM projects WHERE id = ?`, projectID).Scan(&key, &n)
	if err == sql.ErrNoRows {
		return nil, errors.NewFriendlyError("Project %q does not exist.", projectID)
	}
	if err != nil {
		return nil, errors.WithContext(err, "query project")
	}

	if _, err := tx.Exec(`UPDATE projects SET next_run = next_run + 1 WHERE id = ?`, projectID); err != nil {
		return nil, errors.WithContext(err, "update project")
	}

	runID := fmt.Sprintf("%s-%d", key, n)
	id, err := insertObject(tx, projectID, runID)
	if err != nil {
		return nil, err
	}

	if err := assign(tx, id, "sys/id", runID); err != nil {
		return nil, errors.WithContext(err, "sys/id")
	}
	if err := assign(tx, id, "sys/creation_time", clock.Now()); err != nil {
		return nil, errors.WithContext(err, "sys/creation_time")
	}
	if err := assignRaw(tx, id, "sys/state", store.RunState, stateActive); err != nil {
		return nil, errors.WithContext(err, "sys/state")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.WithContext(err, "commit")
	}
	log.WithField("run", runID).Debug("Created run")
	return &object{store: s, id: id, projectID: projectID, runID: runID, mode: store.ReadWrite}, nil
}

// ListRuns implements the store.Store interface. Runs are listed in the
// order that they were created.
func (s *Store) ListRuns(projectID string) (store.RunsTable, error) {
	if _, err := s.objectID(projectID, ""); err != nil {
		if err == sql.ErrNoRows {
			return store.RunsTable{}, errors.NewFriendlyError("Project %q does not exist.", projectID)
		}
		return store.RunsTable{}, err
	}

	rows, err := s.db.Query(`
SELECT o.run, COALESCE(c.value, ''), COALESCE(st.value, '')
FROM objects o
LEFT JOIN attributes c ON c.object = o.id AND c.path = 'sys/creation_time'
LEFT JOIN attributes st ON st.object = o.id AND st.path = 'sys/state'
WHERE o.project = ? AND o.run != ''
ORDER BY o.id`, projectID)
	if err != nil {
		return store.RunsTable{}, errors.WithContext(err, "query runs")
	}
	defer rows.Close()

	table := store.RunsTable{Columns: []string{store.RunIDColumn, "sys/creation_time", "sys/state"}}
	for rows.Next() {
		var id, created, state string
		if err := rows.Scan(&id, &created, &state); err != nil {
			return store.RunsTable{}, errors.WithContext(err, "scan run")
		}
		table.Rows = append(table.Rows, []string{id, created, state})
	}
	return table, rows.Err()
}

func (s *Store) objectID(projectID, runID string) (int64, error) {
	var id int64
	err := s.db.QueryRow(`SELECT id FROM objects WHERE project = ? AND run = ?`,
		projectID, runID).Scan(&id)
	if err != nil && err != sql.ErrNoRows {
		return 0, errors.WithContext(err, "query object")
	}
	return id, err
}

func insertObject(tx *sql.Tx, projectID, runID string) (int64, error) {
	res, err := tx.Exec(`INSERT INTO objects (project, run) VALUES (?, ?)`, projectID, runID)
	if err != nil {
		return 0, errors.WithContext(err, "insert object")
	}
	return res.LastInsertId()
}

func deriveKey(name string) string {
	var key []rune
	for _, r := range strings.ToUpper(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			key = append(key, r)
		}
		if len(key) == 10 {
			break
		}
	}
	if len(key) == 0 {
		return "PROJ"
	}
	return string(key)
}
