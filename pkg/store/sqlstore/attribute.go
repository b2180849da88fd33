package sqlstore

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"

	"github.com/pizzawithsucuk/neptune-archiver/pkg/errors"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/series"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/store"
)

type attribute struct {
	store  *Store
	object int64
	path   string
	typ    store.Type
}

func (attr *attribute) Type() store.Type {
	return attr.typ
}

func (attr *attribute) Fetch() (interface{}, error) {
	var raw string
	err := attr.store.db.QueryRow(`SELECT value FROM attributes WHERE object = ? AND path = ?`,
		attr.object, attr.path).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, errors.RemoteFieldUnavailable{Key: attr.path, Reason: "attribute was deleted"}
	}
	if err != nil {
		return nil, errors.WithContext(err, "query value")
	}

	if attr.typ == store.StringSet {
		members, err := decodeStringSet(raw)
		if err != nil {
			return nil, errors.RemoteFieldUnavailable{Key: attr.path, Reason: err.Error()}
		}
		return members, nil
	}
	return decodeAtom(attr.typ, raw)
}

// FetchValues returns a table without columns if the series never had any
// values.
func (attr *attribute) FetchValues() (series.Table, error) {
	if attr.typ != store.FloatSeries && attr.typ != store.StringSeries {
		return series.Table{}, errors.New("%s attributes don't have series values", attr.typ)
	}

	rows, err := attr.store.db.Query(`SELECT step, value, timestamp FROM points WHERE object = ? AND path = ? ORDER BY idx`,
		attr.object, attr.path)
	if err != nil {
		return series.Table{}, errors.WithContext(err, "query points")
	}
	defer rows.Close()

	var points []series.Row
	for rows.Next() {
		var step, ts float64
		var raw string
		if err := rows.Scan(&step, &raw, &ts); err != nil {
			return series.Table{}, errors.WithContext(err, "scan point")
		}

		var value interface{} = raw
		if attr.typ == store.FloatSeries {
			if value, err = strconv.ParseFloat(raw, 64); err != nil {
				return series.Table{}, errors.WithContext(err, "parse point")
			}
		}
		points = append(points, series.Row{Step: step, Value: value, Timestamp: series.FromEpochSeconds(ts)})
	}
	if err := rows.Err(); err != nil {
		return series.Table{}, err
	}

	if len(points) == 0 {
		return series.Table{}, nil
	}
	return series.NewTable(points), nil
}

type blob struct {
	name     string
	contents []byte
}

func (attr *attribute) blobs() ([]blob, error) {
	rows, err := attr.store.db.Query(`SELECT name, contents FROM blobs WHERE object = ? AND path = ? ORDER BY idx, name`,
		attr.object, attr.path)
	if err != nil {
		return nil, errors.WithContext(err, "query files")
	}
	defer rows.Close()

	var blobs []blob
	for rows.Next() {
		var b blob
		if err := rows.Scan(&b.name, &b.contents); err != nil {
			return nil, errors.WithContext(err, "scan file")
		}
		blobs = append(blobs, b)
	}
	return blobs, rows.Err()
}

// Download writes file sets as a zip archive, and file series as a directory
// holding one file per observation.
func (attr *attribute) Download(dest string) error {
	blobs, err := attr.blobs()
	if err != nil {
		return err
	}

	switch attr.typ {
	case store.File:
		if len(blobs) != 1 {
			return errors.RemoteFieldUnavailable{Key: attr.path, Reason: "file has no contents"}
		}
		err = writeFile(dest, blobs[0].contents)
	case store.FileSet:
		err = writeZip(dest, blobs)
	case store.FileSeries:
		if err = fs.MkdirAll(dest, 0755); err == nil {
			for _, b := range blobs {
				if err = writeFile(filepath.Join(dest, b.name), b.contents); err != nil {
					break
				}
			}
		}
	default:
		return errors.New("%s attributes can't be downloaded", attr.typ)
	}
	if err != nil {
		return errors.WithContext(err, fmt.Sprintf("download %s", attr.path))
	}

	var size int
	for _, b := range blobs {
		size += len(b.contents)
	}
	fmt.Fprintf(attr.store.progress, "Downloaded %s to %s (%s)\n",
		attr.path, dest, humanize.Bytes(uint64(size)))
	return nil
}

func writeFile(path string, contents []byte) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return afero.WriteFile(fs, path, contents, 0644)
}

func writeZip(path string, blobs []blob) error {
	f, err := fs.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, b := range blobs {
		w, err := zw.Create(b.name)
		if err != nil {
			return err
		}
		if _, err := w.Write(b.contents); err != nil {
			return err
		}
	}
	return zw.Close()
}
