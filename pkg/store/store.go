// Package store defines the remote metadata store that projects and runs are
// archived from and restored to.
package store

import (
	"time"

	"github.com/pizzawithsucuk/neptune-archiver/pkg/series"
)

// Type is the remote type tag of an attribute.
type Type string

// The remote attribute types.
const (
	Boolean      Type = "Boolean"
	Integer      Type = "Integer"
	Float        Type = "Float"
	String       Type = "String"
	Datetime     Type = "Datetime"
	StringSet    Type = "StringSet"
	FloatSeries  Type = "FloatSeries"
	StringSeries Type = "StringSeries"
	File         Type = "File"
	FileSet      Type = "FileSet"
	FileSeries   Type = "FileSeries"
	RunState     Type = "RunState"
	GitRef       Type = "GitRef"
)

// Mode is the access mode an object is opened with.
type Mode string

const (
	// ReadOnly objects can be fetched but not modified.
	ReadOnly Mode = "read-only"

	// ReadWrite objects accept writes through Object.Field.
	ReadWrite Mode = "read-write"
)

// Store is a connection to a remote metadata store.
type Store interface {
	// OpenProject opens the project with the ID `workspace/name`.
	OpenProject(projectID string, mode Mode) (Object, error)

	// OpenRun opens an existing run of a project.
	OpenRun(projectID, runID string, mode Mode) (Object, error)

	// CreateRun creates a new, empty run in the project.
	CreateRun(projectID string) (Object, error)

	// ListRuns returns the runs table of the project. It always contains
	// the `sys/id` column.
	ListRuns(projectID string) (RunsTable, error)

	// CreateProject creates a new project.
	CreateProject(ProjectSpec) error

	// Version is the version of the store client.
	Version() string

	Close() error
}

// ProjectSpec describes a project to create.
type ProjectSpec struct {
	Workspace  string
	Name       string
	Key        string
	Visibility string
}

// ID returns the project ID in the form `workspace/name`.
func (spec ProjectSpec) ID() string {
	return spec.Workspace + "/" + spec.Name
}

// RunIDColumn is the runs table column holding the run identifiers.
const RunIDColumn = "sys/id"

// RunsTable is a tabular listing of the runs of a project.
type RunsTable struct {
	Columns []string
	Rows    [][]string
}

// RunIDs returns the values of the RunIDColumn.
func (table RunsTable) RunIDs() []string {
	col := -1
	for i, name := range table.Columns {
		if name == RunIDColumn {
			col = i
			break
		}
	}
	if col == -1 {
		return nil
	}

	var ids []string
	for _, row := range table.Rows {
		if col < len(row) {
			ids = append(ids, row[col])
		}
	}
	return ids
}

// Namespace is the nested structure of an object. Values are either nested
// Namespaces or Attributes.
type Namespace map[string]interface{}

// Object is a project or run.
type Object interface {
	// Structure returns the attribute tree of the object.
	Structure() (Namespace, error)

	// Field returns a writable handle to the attribute at path. The
	// attribute is created on the first write.
	Field(path string) Field

	// Close flushes pending writes and releases the object.
	Close() error
}

// Attribute is a read handle to a remote attribute.
type Attribute interface {
	Type() Type

	// Fetch returns the value of an atom (bool, int64, float64 or string),
	// a datetime (time.Time) or a string set ([]string).
	Fetch() (interface{}, error)

	// FetchValues returns all the observations of a series.
	FetchValues() (series.Table, error)

	// Download writes the contents of a file to dest. File sets are
	// written as a zip archive. File series are written as a directory
	// with one file per observation, named after its step.
	Download(dest string) error
}

// Field is a write handle to a remote attribute.
type Field interface {
	Assign(value interface{}) error
	Add(values ...string) error
	Extend(values []interface{}, steps []float64, timestamps []time.Time) error
	Upload(path string) error
	UploadFiles(dir string) error
	Append(path string) error
}
