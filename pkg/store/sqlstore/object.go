package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"

	"github.com/pizzawithsucuk/neptune-archiver/pkg/errors"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/series"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/store"
)

// execer is implemented by both *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

type object struct {
	store     *Store
	id        int64
	projectID string
	runID     string
	mode      store.Mode
}

func (obj *object) Structure() (store.Namespace, error) {
	rows, err := obj.store.db.Query(`SELECT path, type FROM attributes WHERE object = ? ORDER BY path`, obj.id)
	if err != nil {
		return nil, errors.WithContext(err, "query attributes")
	}
	defer rows.Close()

	ns := store.Namespace{}
	for rows.Next() {
		var path, typ string
		if err := rows.Scan(&path, &typ); err != nil {
			return nil, errors.WithContext(err, "scan attribute")
		}

		attr := &attribute{store: obj.store, object: obj.id, path: path, typ: store.Type(typ)}
		if err := insert(ns, path, attr); err != nil {
			return nil, err
		}
	}
	return ns, rows.Err()
}

func insert(ns store.Namespace, path string, attr store.Attribute) error {
	parts := strings.Split(path, "/")
	cur := ns
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(store.Namespace)
		if !ok {
			if _, exists := cur[part]; exists {
				return errors.New("attribute %s is nested under another attribute", path)
			}
			next = store.Namespace{}
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = attr
	return nil
}

func (obj *object) Field(path string) store.Field {
	return &field{obj: obj, path: path}
}

// Close marks runs that were opened for writing as inactive.
func (obj *object) Close() error {
	if obj.runID == "" || obj.mode != store.ReadWrite {
		return nil
	}
	return assignRaw(obj.store.db, obj.id, "sys/state", store.RunState, stateInactive)
}

type field struct {
	obj  *object
	path string
}

func (f *field) checkWritable() error {
	if f.obj.mode != store.ReadWrite {
		return errors.New("can't write %s: object was opened %s", f.path, f.obj.mode)
	}
	if _, ok := managedFields[f.path]; ok {
		return errors.New("can't write %s: field is managed by the store", f.path)
	}
	for _, part := range strings.Split(f.path, "/") {
		if part == "" {
			return errors.New("invalid attribute path %q", f.path)
		}
	}
	return nil
}

// update runs fn in a transaction, after making sure that the attribute
// exists with type typ.
func (f *field) update(typ store.Type, fn func(tx *sql.Tx) error) error {
	if err := f.checkWritable(); err != nil {
		return err
	}

	tx, err := f.obj.store.db.Begin()
	if err != nil {
		return errors.WithContext(err, "begin")
	}
	defer tx.Rollback()

	if err := ensureAttribute(tx, f.obj.id, f.path, typ); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (f *field) Assign(value interface{}) error {
	typ, s, err := encodeAtom(value)
	if err != nil {
		return errors.WithContext(err, f.path)
	}
	return f.update(typ, func(tx *sql.Tx) error {
		return setValue(tx, f.obj.id, f.path, s)
	})
}

// Add adds values to a string set. Members that are already in the set are
// ignored.
func (f *field) Add(values ...string) error {
	return f.update(store.StringSet, func(tx *sql.Tx) error {
		var raw string
		err := tx.QueryRow(`SELECT value FROM attributes WHERE object = ? AND path = ?`,
			f.obj.id, f.path).Scan(&raw)
		if err != nil {
			return errors.WithContext(err, "query string set")
		}

		members, err := decodeStringSet(raw)
		if err != nil {
			return errors.WithContext(err, "decode string set")
		}

		seen := map[string]struct{}{}
		for _, m := range members {
			seen[m] = struct{}{}
		}
		for _, v := range values {
			if _, ok := seen[v]; !ok {
				seen[v] = struct{}{}
				members = append(members, v)
			}
		}

		encoded, err := json.Marshal(members)
		if err != nil {
			return errors.WithContext(err, "encode string set")
		}
		return setValue(tx, f.obj.id, f.path, string(encoded))
	})
}

// Extend appends observations to a series. The type of the series is
// inferred from the values, which must be all float64 or all strings.
func (f *field) Extend(values []interface{}, steps []float64, timestamps []time.Time) error {
	if len(steps) != len(values) || len(timestamps) != len(values) {
		return errors.New("extend %s: got %d values, %d steps and %d timestamps",
			f.path, len(values), len(steps), len(timestamps))
	}
	if len(values) == 0 {
		return nil
	}

	var typ store.Type
	encoded := make([]string, len(values))
	for i, v := range values {
		var t store.Type
		switch v := v.(type) {
		case float64:
			t, encoded[i] = store.FloatSeries, strconv.FormatFloat(v, 'g', -1, 64)
		case string:
			t, encoded[i] = store.StringSeries, v
		default:
			return errors.New("extend %s: unsupported value type %T", f.path, v)
		}
		if typ != "" && t != typ {
			return errors.New("extend %s: values of mixed types", f.path)
		}
		typ = t
	}

	return f.update(typ, func(tx *sql.Tx) error {
		var next int64
		err := tx.QueryRow(`SELECT COALESCE(MAX(idx) + 1, 0) FROM points WHERE object = ? AND path = ?`,
			f.obj.id, f.path).Scan(&next)
		if err != nil {
			return errors.WithContext(err, "query points")
		}

		for i := range values {
			_, err := tx.Exec(`INSERT INTO points (object, path, idx, step, value, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
				f.obj.id, f.path, next+int64(i), steps[i], encoded[i], series.EpochSeconds(timestamps[i]))
			if err != nil {
				return errors.WithContext(err, "insert point")
			}
		}
		return nil
	})
}

// Upload replaces the contents of a file attribute.
func (f *field) Upload(path string) error {
	contents, err := afero.ReadFile(fs, path)
	if err != nil {
		return errors.WithContext(err, "read upload")
	}

	err = f.update(store.File, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM blobs WHERE object = ? AND path = ?`, f.obj.id, f.path); err != nil {
			return errors.WithContext(err, "delete contents")
		}
		return insertBlob(tx, f.obj.id, f.path, filepath.Base(path), 0, contents)
	})
	if err != nil {
		return err
	}
	f.reportUpload(path, len(contents))
	return nil
}

// UploadFiles adds every file under dir to a file set, keyed by its path
// relative to dir.
func (f *field) UploadFiles(dir string) error {
	type upload struct {
		name     string
		contents []byte
	}

	var uploads []upload
	err := afero.Walk(fs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		contents, err := afero.ReadFile(fs, path)
		if err != nil {
			return err
		}
		uploads = append(uploads, upload{filepath.ToSlash(rel), contents})
		return nil
	})
	if err != nil {
		return errors.WithContext(err, "read uploads")
	}

	err = f.update(store.FileSet, func(tx *sql.Tx) error {
		for i, u := range uploads {
			if err := insertBlob(tx, f.obj.id, f.path, u.name, i, u.contents); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, u := range uploads {
		f.reportUpload(filepath.Join(dir, u.name), len(u.contents))
	}
	return nil
}

// Append adds a file to a file series. The file is renamed after its index
// in the series.
func (f *field) Append(path string) error {
	contents, err := afero.ReadFile(fs, path)
	if err != nil {
		return errors.WithContext(err, "read upload")
	}

	err = f.update(store.FileSeries, func(tx *sql.Tx) error {
		var next int
		err := tx.QueryRow(`SELECT COALESCE(MAX(idx) + 1, 0) FROM blobs WHERE object = ? AND path = ?`,
			f.obj.id, f.path).Scan(&next)
		if err != nil {
			return errors.WithContext(err, "query files")
		}
		name := fmt.Sprintf("%d%s", next, filepath.Ext(path))
		return insertBlob(tx, f.obj.id, f.path, name, next, contents)
	})
	if err != nil {
		return err
	}
	f.reportUpload(path, len(contents))
	return nil
}

func (f *field) reportUpload(src string, size int) {
	fmt.Fprintf(f.obj.store.progress, "Uploaded %s to %s (%s)\n",
		src, f.path, humanize.Bytes(uint64(size)))
}

func insertBlob(tx *sql.Tx, object int64, path, name string, idx int, contents []byte) error {
	_, err := tx.Exec(`INSERT OR REPLACE INTO blobs (object, path, name, idx, contents) VALUES (?, ?, ?, ?, ?)`,
		object, path, name, idx, contents)
	if err != nil {
		return errors.WithContext(err, fmt.Sprintf("insert %s", name))
	}
	return nil
}

func assign(ex execer, object int64, path string, value interface{}) error {
	typ, s, err := encodeAtom(value)
	if err != nil {
		return err
	}
	return assignRaw(ex, object, path, typ, s)
}

func assignRaw(ex execer, object int64, path string, typ store.Type, value string) error {
	if err := ensureAttribute(ex, object, path, typ); err != nil {
		return err
	}
	return setValue(ex, object, path, value)
}

func setValue(ex execer, object int64, path, value string) error {
	_, err := ex.Exec(`UPDATE attributes SET value = ? WHERE object = ? AND path = ?`, value, object, path)
	if err != nil {
		return errors.WithContext(err, "update value")
	}
	return nil
}

// ensureAttribute creates the attribute if it doesn't exist. It fails if the
// attribute exists with another type, or if it would conflict with the
// namespaces of other attributes.
func ensureAttribute(ex execer, object int64, path string, typ store.Type) error {
	var existing string
	err := ex.QueryRow(`SELECT type FROM attributes WHERE object = ? AND path = ?`,
		object, path).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return errors.WithContext(err, "query attribute")
	case store.Type(existing) != typ:
		return errors.New("%s is a %s attribute, can't write a %s", path, existing, typ)
	default:
		return nil
	}

	// Children of path sort between "path/" and "path0".
	conds := []string{"(path >= ? AND path < ?)"}
	args := []interface{}{object, path + "/", path + "0"}
	for i := range path {
		if path[i] == '/' {
			conds = append(conds, "path = ?")
			args = append(args, path[:i])
		}
	}

	var conflicts int
	err = ex.QueryRow(`SELECT COUNT(*) FROM attributes WHERE object = ? AND (`+
		strings.Join(conds, " OR ")+`)`, args...).Scan(&conflicts)
	if err != nil {
		return errors.WithContext(err, "query namespace")
	}
	if conflicts != 0 {
		return errors.New("%s conflicts with the namespace of another attribute", path)
	}

	_, err = ex.Exec(`INSERT INTO attributes (object, path, type) VALUES (?, ?, ?)`, object, path, string(typ))
	if err != nil {
		return errors.WithContext(err, "insert attribute")
	}
	return nil
}

func encodeAtom(value interface{}) (store.Type, string, error) {
	switch v := value.(type) {
	case bool:
		return store.Boolean, strconv.FormatBool(v), nil
	case int:
		return store.Integer, strconv.FormatInt(int64(v), 10), nil
	case int64:
		return store.Integer, strconv.FormatInt(v, 10), nil
	case float64:
		return store.Float, strconv.FormatFloat(v, 'g', -1, 64), nil
	case string:
		return store.String, v, nil
	case time.Time:
		return store.Datetime, v.UTC().Format(time.RFC3339Nano), nil
	default:
		return "", "", errors.New("unsupported value type %T", value)
	}
}

func decodeAtom(typ store.Type, s string) (interface{}, error) {
	switch typ {
	case store.Boolean:
		return strconv.ParseBool(s)
	case store.Integer:
		return strconv.ParseInt(s, 10, 64)
	case store.Float:
		return strconv.ParseFloat(s, 64)
	case store.String, store.RunState:
		return s, nil
	case store.Datetime:
		return time.Parse(time.RFC3339Nano, s)
	default:
		return nil, errors.New("%s attributes don't have a single value", typ)
	}
}

func decodeStringSet(s string) ([]string, error) {
	members := []string{}
	if s == "" {
		return members, nil
	}
	if err := json.Unmarshal([]byte(s), &members); err != nil {
		return nil, err
	}
	return members, nil
}
