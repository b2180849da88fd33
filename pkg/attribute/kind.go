// Package attribute maps remote attribute types onto the closed set of kinds
// that an archive knows how to store.
package attribute

import (
	"github.com/pizzawithsucuk/neptune-archiver/pkg/errors"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/store"
)

// Kind is the semantic kind of an attribute.
type Kind int

// The attribute kinds. Ignored attributes are recognized, but never stored
// in an archive.
const (
	Ignored Kind = iota
	Atom
	Timestamp
	StringSet
	FloatSeries
	StringSeries
	File
	FileSet
	FileSeries
)

// Kinds lists the stored kinds, in the order that they're restored.
var Kinds = []Kind{
	Atom,
	Timestamp,
	FloatSeries,
	StringSeries,
	File,
	StringSet,
	FileSet,
	FileSeries,
}

// Section returns the name of the manifest section holding the kind.
func (k Kind) Section() string {
	switch k {
	case Atom:
		return "atoms"
	case Timestamp:
		return "time_stamps"
	case StringSet:
		return "string_sets"
	case FloatSeries:
		return "float_series"
	case StringSeries:
		return "string_series"
	case File:
		return "files"
	case FileSet:
		return "file_sets"
	case FileSeries:
		return "file_series"
	default:
		return ""
	}
}

func (k Kind) String() string {
	if k == Ignored {
		return "ignored"
	}
	return k.Section()
}

// Classify returns the kind of attributes with the remote type t.
func Classify(t store.Type) (Kind, error) {
	switch t {
	case store.Boolean, store.Integer, store.Float, store.String:
		return Atom, nil
	case store.Datetime:
		return Timestamp, nil
	case store.StringSet:
		return StringSet, nil
	case store.FloatSeries:
		return FloatSeries, nil
	case store.StringSeries:
		return StringSeries, nil
	case store.File:
		return File, nil
	case store.FileSet:
		return FileSet, nil
	case store.FileSeries:
		return FileSeries, nil

	// The run state is computed by the store, and git references can't be
	// queried yet.
	case store.RunState, store.GitRef:
		return Ignored, nil
	default:
		return Ignored, errors.UnknownAttributeKind{Type: string(t)}
	}
}
