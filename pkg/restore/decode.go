package restore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/pizzawithsucuk/neptune-archiver/pkg/attribute"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/errors"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/manifest"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/series"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/store"
)

// Replay writes every attribute recorded in m to obj. Side-car files are
// read from dir. Read-only atoms and timestamps are written under
// alternativeSysNamespace, or skipped if it's empty. Leading and trailing
// slashes of the namespace are ignored.
func Replay(m *manifest.Manifest, obj store.Object, dir, alternativeSysNamespace string) error {
	dec := decoder{obj: obj, dir: dir, altNamespace: strings.Trim(alternativeSysNamespace, "/")}
	for _, kind := range attribute.Kinds {
		for _, key := range m.Keys(kind) {
			if err := dec.decode(m, kind, key); err != nil {
				return errors.WithContext(err, fmt.Sprintf("restore %s %q", kind, key))
			}
		}
	}
	return nil
}

type decoder struct {
	obj          store.Object
	dir          string
	altNamespace string
}

// field returns the handle that key should be written to. It returns false
// if the key must not be written at all.
func (dec decoder) field(kind attribute.Kind, key string) (store.Field, bool) {
	if (kind == attribute.Atom || kind == attribute.Timestamp) && attribute.IsReadOnly(key) {
		if dec.altNamespace == "" {
			return nil, false
		}
		key = dec.altNamespace + "/" + key
	}
	return dec.obj.Field(key), true
}

func (dec decoder) decode(m *manifest.Manifest, kind attribute.Kind, key string) error {
	field, ok := dec.field(kind, key)
	if !ok {
		return nil
	}

	switch kind {
	case attribute.Atom:
		return field.Assign(m.Atoms[key])
	case attribute.Timestamp:
		return field.Assign(series.FromEpochSeconds(m.TimeStamps[key]))
	case attribute.StringSet:
		if members := m.StringSets[key]; len(members) != 0 {
			return field.Add(members...)
		}
		return nil
	case attribute.FloatSeries:
		return dec.decodeSeries(field, m.FloatSeries[key], series.ParseFloat)
	case attribute.StringSeries:
		return dec.decodeSeries(field, m.StringSeries[key], series.ParseString)
	case attribute.File:
		return field.Upload(filepath.Join(dec.dir, m.Files[key]))
	case attribute.FileSet:
		return field.UploadFiles(filepath.Join(dec.dir, m.FileSets[key]))
	case attribute.FileSeries:
		return dec.decodeFileSeries(field, m.FileSeries[key])
	default:
		return errors.New("kind %s can't be restored", kind)
	}
}

func (dec decoder) decodeSeries(field store.Field, id *string, parse series.ValueParser) error {
	// The series never had any values.
	if id == nil {
		return nil
	}

	f, err := fs.Open(filepath.Join(dec.dir, *id))
	if err != nil {
		return errors.WithContext(err, "open")
	}
	defer f.Close()

	table, err := series.Read(f, parse)
	if err != nil {
		return errors.WithContext(err, fmt.Sprintf("read %s", *id))
	}

	values := make([]interface{}, 0, len(table.Rows))
	steps := make([]float64, 0, len(table.Rows))
	timestamps := make([]time.Time, 0, len(table.Rows))
	for _, row := range table.Rows {
		values = append(values, row.Value)
		steps = append(steps, row.Step)
		timestamps = append(timestamps, row.Timestamp)
	}
	return field.Extend(values, steps, timestamps)
}

func (dec decoder) decodeFileSeries(field store.Field, id string) error {
	dir := filepath.Join(dec.dir, id)
	names, err := fileSeriesOrder(dir)
	if err != nil {
		return err
	}

	for _, name := range names {
		if err := field.Append(filepath.Join(dir, name)); err != nil {
			return errors.WithContext(err, fmt.Sprintf("append %s", name))
		}
	}
	return nil
}

// fileSeriesOrder returns the names of the files in dir in the order that
// they were archived. Archives without an order index are restored in
// directory order.
func fileSeriesOrder(dir string) ([]string, error) {
	contents, err := afero.ReadFile(fs, dir+manifest.OrderSuffix)
	switch {
	case err == nil:
		var names []string
		if err := json.Unmarshal(contents, &names); err != nil {
			return nil, errors.WithContext(err, "parse order")
		}
		return names, nil
	case !os.IsNotExist(err):
		return nil, errors.WithContext(err, "read order")
	}

	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.WithContext(err, "list files")
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}
