// Package manifest reads and writes the documents that describe an archive:
// one manifest per archived object, and the archive info record.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/afero"

	"github.com/pizzawithsucuk/neptune-archiver/pkg/attribute"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/errors"
)

// File names within an archive.
const (
	ProjectStructure = "project_structure.json"
	RunStructure     = "run_structure.json"
	ArchiveInfo      = ".archive_info"
	RunsTable        = "runs_table.csv"
)

const indent = "    "

const parseErrTemplate = "The archive file %q could not be parsed.\n" +
	"It may have been modified or truncated after it was archived.\n\n" +
	"For reference, here is the error from the parser:\n" +
	"%s"

// Manifest maps the qualified key of every archived attribute of an object to
// either its value, or the identifier of the side-car file holding its value.
// Each key belongs to exactly one section.
type Manifest struct {
	Atoms        map[string]interface{} `json:"atoms"`
	Files        map[string]string      `json:"files"`
	FileSets     map[string]string      `json:"file_sets"`
	FileSeries   map[string]string      `json:"file_series"`
	TimeStamps   map[string]float64     `json:"time_stamps"`
	FloatSeries  map[string]*string     `json:"float_series"`
	StringSeries map[string]*string     `json:"string_series"`
	StringSets   map[string][]string    `json:"string_sets"`
}

// New returns an empty manifest.
func New() *Manifest {
	m := &Manifest{}
	m.init()
	return m
}

func (m *Manifest) init() {
	if m.Atoms == nil {
		m.Atoms = map[string]interface{}{}
	}
	if m.Files == nil {
		m.Files = map[string]string{}
	}
	if m.FileSets == nil {
		m.FileSets = map[string]string{}
	}
	if m.FileSeries == nil {
		m.FileSeries = map[string]string{}
	}
	if m.TimeStamps == nil {
		m.TimeStamps = map[string]float64{}
	}
	if m.FloatSeries == nil {
		m.FloatSeries = map[string]*string{}
	}
	if m.StringSeries == nil {
		m.StringSeries = map[string]*string{}
	}
	if m.StringSets == nil {
		m.StringSets = map[string][]string{}
	}
}

// Put records the value of key. The type of value must match kind.
func (m *Manifest) Put(kind attribute.Kind, key string, value interface{}) error {
	if _, ok := m.Kind(key); ok {
		return errors.DuplicateKey{Key: key}
	}

	badType := func() error {
		return errors.New("unexpected %T value for %s %q", value, kind, key)
	}
	switch kind {
	case attribute.Atom:
		switch v := value.(type) {
		case bool, int64, float64, string:
			m.Atoms[key] = v
		case int:
			m.Atoms[key] = int64(v)
		default:
			return badType()
		}
	case attribute.Timestamp:
		v, ok := value.(float64)
		if !ok {
			return badType()
		}
		m.TimeStamps[key] = v
	case attribute.StringSet:
		v, ok := value.([]string)
		if !ok {
			return badType()
		}
		if v == nil {
			v = []string{}
		}
		m.StringSets[key] = v
	case attribute.FloatSeries, attribute.StringSeries:
		v, ok := value.(*string)
		if !ok {
			return badType()
		}
		if kind == attribute.FloatSeries {
			m.FloatSeries[key] = v
		} else {
			m.StringSeries[key] = v
		}
	case attribute.File, attribute.FileSet, attribute.FileSeries:
		v, ok := value.(string)
		if !ok {
			return badType()
		}
		switch kind {
		case attribute.File:
			m.Files[key] = v
		case attribute.FileSet:
			m.FileSets[key] = v
		default:
			m.FileSeries[key] = v
		}
	default:
		return errors.New("kind %s can't be stored", kind)
	}
	return nil
}

// Kind returns the kind that key is stored as, if any.
func (m *Manifest) Kind(key string) (attribute.Kind, bool) {
	for _, kind := range attribute.Kinds {
		if m.has(kind, key) {
			return kind, true
		}
	}
	return attribute.Ignored, false
}

func (m *Manifest) has(kind attribute.Kind, key string) (ok bool) {
	switch kind {
	case attribute.Atom:
		_, ok = m.Atoms[key]
	case attribute.Timestamp:
		_, ok = m.TimeStamps[key]
	case attribute.StringSet:
		_, ok = m.StringSets[key]
	case attribute.FloatSeries:
		_, ok = m.FloatSeries[key]
	case attribute.StringSeries:
		_, ok = m.StringSeries[key]
	case attribute.File:
		_, ok = m.Files[key]
	case attribute.FileSet:
		_, ok = m.FileSets[key]
	case attribute.FileSeries:
		_, ok = m.FileSeries[key]
	}
	return ok
}

// Keys returns the keys stored as kind, sorted.
func (m *Manifest) Keys(kind attribute.Kind) []string {
	var keys []string
	add := func(k string) { keys = append(keys, k) }
	switch kind {
	case attribute.Atom:
		for k := range m.Atoms {
			add(k)
		}
	case attribute.Timestamp:
		for k := range m.TimeStamps {
			add(k)
		}
	case attribute.StringSet:
		for k := range m.StringSets {
			add(k)
		}
	case attribute.FloatSeries:
		for k := range m.FloatSeries {
			add(k)
		}
	case attribute.StringSeries:
		for k := range m.StringSeries {
			add(k)
		}
	case attribute.File:
		for k := range m.Files {
			add(k)
		}
	case attribute.FileSet:
		for k := range m.FileSets {
			add(k)
		}
	case attribute.FileSeries:
		for k := range m.FileSeries {
			add(k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of keys in the manifest.
func (m *Manifest) Len() int {
	n := 0
	for _, kind := range attribute.Kinds {
		n += len(m.Keys(kind))
	}
	return n
}

// Atom returns the string value of an atom, if it's set to a string.
func (m *Manifest) Atom(key string) (string, bool) {
	s, ok := m.Atoms[key].(string)
	return s, ok
}

// MarshalJSON writes float atoms with a fractional part, so that they aren't
// read back as integers.
func (m Manifest) MarshalJSON() ([]byte, error) {
	type plain Manifest
	out := plain(m)
	out.Atoms = make(map[string]interface{}, len(m.Atoms))
	for k, v := range m.Atoms {
		if f, ok := v.(float64); ok {
			v = floatAtom(f)
		}
		out.Atoms[k] = v
	}
	return json.Marshal(out)
}

type floatAtom float64

func (f floatAtom) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(float64(f))
	if err != nil {
		return nil, err
	}
	if !bytes.ContainsAny(b, ".eE") {
		b = append(b, ".0"...)
	}
	return b, nil
}

// Write writes m to path.
func Write(fs afero.Fs, path string, m *Manifest) error {
	m.init()
	return writeJSON(fs, path, m)
}

// Read parses the manifest at path.
func Read(fs afero.Fs, path string) (*Manifest, error) {
	contents, err := readFile(fs, path)
	if err != nil {
		return nil, err
	}

	var m Manifest
	dec := json.NewDecoder(bytes.NewReader(contents))
	// Keep integers and floats apart so that integer atoms are restored
	// as integers.
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return nil, errors.NewFriendlyError(parseErrTemplate, path, err)
	}
	m.init()

	for key, value := range m.Atoms {
		num, ok := value.(json.Number)
		if !ok {
			continue
		}
		if i, err := num.Int64(); err == nil {
			m.Atoms[key] = i
		} else if f, err := num.Float64(); err == nil {
			m.Atoms[key] = f
		} else {
			return nil, errors.NewFriendlyError(parseErrTemplate, path, err)
		}
	}

	if err := m.validate(); err != nil {
		return nil, errors.NewFriendlyError(parseErrTemplate, path, err)
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	seen := map[string]attribute.Kind{}
	for _, kind := range attribute.Kinds {
		for _, key := range m.Keys(kind) {
			if other, ok := seen[key]; ok {
				return errors.WithContext(errors.DuplicateKey{Key: key},
					fmt.Sprintf("stored as both %s and %s", other, kind))
			}
			seen[key] = kind
		}
	}

	for key, value := range m.Atoms {
		switch value.(type) {
		case bool, int64, float64, string:
		default:
			return errors.New("atom %q must be a boolean, number or string, got %v", key, value)
		}
	}
	return nil
}

func writeJSON(fs afero.Fs, path string, v interface{}) error {
	contents, err := json.MarshalIndent(v, "", indent)
	if err != nil {
		return errors.WithContext(err, "marshal")
	}

	if err := afero.WriteFile(fs, path, contents, 0644); err != nil {
		return errors.WithContext(err, "write")
	}
	return nil
}

func readFile(fs afero.Fs, path string) ([]byte, error) {
	contents, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound{Path: path}
		}
		return nil, errors.WithContext(err, "read file")
	}
	return contents, nil
}

// OrderSuffix is appended to the identifier of a file series directory to
// name the file listing the order of its files.
const OrderSuffix = ".order.json"
