package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"

	"github.com/pizzawithsucuk/neptune-archiver/pkg/attribute"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/errors"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/manifest"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/series"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/store"
)

// newID generates side-car identifiers. Mocked for unit testing.
var newID = func() string {
	return uuid.New().String()
}

// Warning is a recoverable problem with a single attribute.
type Warning struct {
	Key string
	Err error
}

// encoder stores the values of an object's attributes in dir, and returns
// what should be recorded in the manifest for each of them.
type encoder struct {
	dir      string
	warnings []Warning
}

func (enc *encoder) encode(kind attribute.Kind, key string, attr store.Attribute) (interface{}, error) {
	switch kind {
	case attribute.Atom:
		return attr.Fetch()
	case attribute.Timestamp:
		return enc.encodeTimestamp(attr)
	case attribute.StringSet:
		return enc.encodeStringSet(key, attr)
	case attribute.FloatSeries, attribute.StringSeries:
		return enc.encodeSeries(attr)
	case attribute.File:
		return enc.encodeFile(attr)
	case attribute.FileSet:
		return enc.encodeFileSet(attr)
	case attribute.FileSeries:
		return enc.encodeFileSeries(attr)
	default:
		return nil, errors.New("kind %s can't be encoded", kind)
	}
}

func (enc *encoder) encodeTimestamp(attr store.Attribute) (interface{}, error) {
	value, err := attr.Fetch()
	if err != nil {
		return nil, err
	}

	ts, ok := value.(time.Time)
	if !ok {
		return nil, errors.New("expected datetime, got %T", value)
	}
	return series.EpochSeconds(ts), nil
}

func (enc *encoder) encodeStringSet(key string, attr store.Attribute) (interface{}, error) {
	value, err := attr.Fetch()
	if err != nil {
		var unavailable errors.RemoteFieldUnavailable
		if errors.As(err, &unavailable) {
			enc.warnings = append(enc.warnings, Warning{Key: key, Err: err})
			return []string{}, nil
		}
		return nil, err
	}

	members, ok := value.([]string)
	if !ok {
		return nil, errors.New("expected string set, got %T", value)
	}
	if members == nil {
		members = []string{}
	}
	return members, nil
}

func (enc *encoder) encodeSeries(attr store.Attribute) (interface{}, error) {
	table, err := attr.FetchValues()
	if err != nil {
		return nil, errors.WithContext(err, "fetch values")
	}

	// The store returns a table without columns for series that never had
	// any values.
	if table.IsEmpty() {
		return (*string)(nil), nil
	}

	id := newID() + series.Extension
	f, err := fs.Create(filepath.Join(enc.dir, id))
	if err != nil {
		return nil, errors.WithContext(err, "create")
	}
	defer f.Close()

	if err := series.Write(f, table); err != nil {
		return nil, errors.WithContext(err, "write")
	}
	return &id, nil
}

func (enc *encoder) encodeFile(attr store.Attribute) (interface{}, error) {
	id := newID()
	if err := attr.Download(filepath.Join(enc.dir, id)); err != nil {
		return nil, errors.WithContext(err, "download")
	}
	return id, nil
}

func (enc *encoder) encodeFileSet(attr store.Attribute) (interface{}, error) {
	id := newID()
	zipPath := filepath.Join(enc.dir, id+".zip")
	if err := attr.Download(zipPath); err != nil {
		return nil, errors.WithContext(err, "download")
	}

	if err := unzip(zipPath, filepath.Join(enc.dir, id)); err != nil {
		return nil, errors.WithContext(err, "unpack")
	}

	if err := fs.Remove(zipPath); err != nil {
		return nil, errors.WithContext(err, "remove archive")
	}
	return id, nil
}

// encodeFileSeries downloads the files of the series, and records their
// order next to the directory so that they can be appended in the same order
// when restoring.
func (enc *encoder) encodeFileSeries(attr store.Attribute) (interface{}, error) {
	id := newID()
	dir := filepath.Join(enc.dir, id)
	if err := attr.Download(dir); err != nil {
		return nil, errors.WithContext(err, "download")
	}

	if err := writeOrder(dir, dir+manifest.OrderSuffix); err != nil {
		return nil, errors.WithContext(err, "write order")
	}
	return id, nil
}

func writeOrder(dir, path string) error {
	entries, err := afero.ReadDir(fs, dir)
	if os.IsNotExist(err) {
		entries, err = nil, nil
	}
	if err != nil {
		return errors.WithContext(err, "list files")
	}

	names := []string{}
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sortByStep(names)

	contents, err := json.Marshal(names)
	if err != nil {
		return errors.WithContext(err, "marshal")
	}
	return afero.WriteFile(fs, path, contents, 0644)
}

// sortByStep sorts file series file names by the step that they're named
// after. Names without a step go last, in lexical order.
func sortByStep(names []string) {
	step := func(name string) (float64, bool) {
		base := strings.TrimSuffix(name, filepath.Ext(name))
		f, err := strconv.ParseFloat(base, 64)
		return f, err == nil
	}

	sort.SliceStable(names, func(i, j int) bool {
		si, iok := step(names[i])
		sj, jok := step(names[j])
		switch {
		case iok && jok && si != sj:
			return si < sj
		case iok != jok:
			return iok
		default:
			return names[i] < names[j]
		}
	})
}

func unzip(zipPath, dest string) error {
	f, err := fs.Open(zipPath)
	if err != nil {
		return errors.WithContext(err, "open")
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return errors.WithContext(err, "stat")
	}

	zr, err := zip.NewReader(f, fi.Size())
	if err != nil {
		return errors.WithContext(err, "read zip")
	}

	if err := fs.Mkdir(dest, 0755); err != nil {
		return errors.WithContext(err, "mkdir")
	}

	for _, zf := range zr.File {
		path := filepath.Join(dest, filepath.FromSlash(zf.Name))
		if path != dest && !strings.HasPrefix(path, dest+string(filepath.Separator)) {
			return errors.New("zip entry %q is outside of the destination", zf.Name)
		}

		if zf.FileInfo().IsDir() {
			if err := fs.MkdirAll(path, 0755); err != nil {
				return errors.WithContext(err, "mkdir")
			}
			continue
		}

		if err := extractFile(zf, path); err != nil {
			return errors.WithContext(err, fmt.Sprintf("extract %s", zf.Name))
		}
	}
	return nil
}

func extractFile(zf *zip.File, path string) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.WithContext(err, "mkdir")
	}

	in, err := zf.Open()
	if err != nil {
		return errors.WithContext(err, "open entry")
	}
	defer in.Close()

	out, err := fs.Create(path)
	if err != nil {
		return errors.WithContext(err, "create")
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return errors.WithContext(err, "copy")
	}
	return nil
}
