package sqlstore

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pizzawithsucuk/neptune-archiver/pkg/errors"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/series"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/store"
)

var created = time.Date(2024, 3, 1, 14, 5, 9, 0, time.UTC)

func openStore(t *testing.T) (*Store, *bytes.Buffer) {
	clock = clockwork.NewFakeClockAt(created)
	t.Cleanup(func() { clock = clockwork.NewRealClock() })

	var progress bytes.Buffer
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "store.db"), ProgressOutput: &progress})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, &progress
}

func fetch(t *testing.T, obj store.Object, path string) interface{} {
	ns, err := obj.Structure()
	require.NoError(t, err)

	var cur interface{} = ns
	for _, part := range strings.Split(path, "/") {
		next, ok := cur.(store.Namespace)
		require.True(t, ok, path)
		cur = next[part]
	}

	attr, ok := cur.(store.Attribute)
	require.True(t, ok, path)
	value, err := attr.Fetch()
	require.NoError(t, err, path)
	return value
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(Config{})
	assert.Equal(t, errors.MissingFieldError{Field: "store path"}, err)
}

func TestCreateProject(t *testing.T) {
	s, _ := openStore(t)
	assert.Equal(t, "sqlstore/1", s.Version())

	spec := store.ProjectSpec{Workspace: "team", Name: "mnist-2"}
	require.NoError(t, s.CreateProject(spec))

	project, err := s.OpenProject("team/mnist-2", store.ReadOnly)
	require.NoError(t, err)
	assert.Equal(t, "MNIST2", fetch(t, project, "sys/id"))
	assert.Equal(t, "mnist-2", fetch(t, project, "sys/name"))
	assert.Equal(t, "MNIST2", fetch(t, project, "sys/key"))
	assert.Equal(t, "priv", fetch(t, project, "sys/visibility"))
	assert.Equal(t, created, fetch(t, project, "sys/creation_time"))

	err = s.CreateProject(store.ProjectSpec{Workspace: "team", Name: "mnist-2", Key: "OTHER"})
	assert.Contains(t, errors.GetPrintableMessage(err), "already exists")

	err = s.CreateProject(store.ProjectSpec{Workspace: "team", Name: "other", Key: "MNIST2"})
	assert.Contains(t, errors.GetPrintableMessage(err), "already exists")

	err = s.CreateProject(store.ProjectSpec{Workspace: "team", Name: "p", Visibility: "secret"})
	assert.EqualError(t, err, `unknown visibility "secret"`)

	err = s.CreateProject(store.ProjectSpec{Name: "p"})
	assert.Equal(t, errors.MissingFieldError{Field: "workspace"}, err)

	_, err = s.OpenProject("team/missing", store.ReadOnly)
	assert.Contains(t, errors.GetPrintableMessage(err), "does not exist")
}

func TestRuns(t *testing.T) {
	s, _ := openStore(t)
	require.NoError(t, s.CreateProject(store.ProjectSpec{Workspace: "team", Name: "mnist", Key: "MN"}))

	for i := 0; i < 2; i++ {
		run, err := s.CreateRun("team/mnist")
		require.NoError(t, err)
		require.NoError(t, run.Close())
	}

	table, err := s.ListRuns("team/mnist")
	require.NoError(t, err)
	assert.Equal(t, store.RunsTable{
		Columns: []string{"sys/id", "sys/creation_time", "sys/state"},
		Rows: [][]string{
			{"MN-1", "2024-03-01T14:05:09Z", "Inactive"},
			{"MN-2", "2024-03-01T14:05:09Z", "Inactive"},
		},
	}, table)
	assert.Equal(t, []string{"MN-1", "MN-2"}, table.RunIDs())

	run, err := s.OpenRun("team/mnist", "MN-2", store.ReadOnly)
	require.NoError(t, err)
	assert.Equal(t, "MN-2", fetch(t, run, "sys/id"))
	assert.Equal(t, "Inactive", fetch(t, run, "sys/state"))
	assert.EqualError(t, run.Field("lr").Assign(0.1), "can't write lr: object was opened read-only")

	run, err = s.OpenRun("team/mnist", "MN-1", store.ReadWrite)
	require.NoError(t, err)
	assert.Equal(t, "Active", fetch(t, run, "sys/state"))
	assert.EqualError(t, run.Field("sys/id").Assign("MN-9"),
		"can't write sys/id: field is managed by the store")
	assert.EqualError(t, run.Field("a//b").Assign(1), `invalid attribute path "a//b"`)
	require.NoError(t, run.Close())

	_, err = s.OpenRun("team/mnist", "MN-3", store.ReadOnly)
	assert.EqualError(t, err, "run MN-3 does not exist in project team/mnist")

	_, err = s.CreateRun("team/missing")
	assert.Error(t, err)
	_, err = s.ListRuns("team/missing")
	assert.Error(t, err)
}

func TestAtoms(t *testing.T) {
	s, _ := openStore(t)
	require.NoError(t, s.CreateProject(store.ProjectSpec{Workspace: "team", Name: "mnist"}))
	run, err := s.CreateRun("team/mnist")
	require.NoError(t, err)

	ts := time.Date(2023, 11, 14, 22, 13, 20, 500000000, time.UTC)
	values := map[string]interface{}{
		"params/lr":     0.01,
		"params/epochs": int64(10),
		"params/debug":  true,
		"notes":         "hello",
		"started":       ts,
	}
	for path, value := range values {
		require.NoError(t, run.Field(path).Assign(value), path)
	}
	require.NoError(t, run.Field("params/batch").Assign(32))

	for path, value := range values {
		assert.Equal(t, value, fetch(t, run, path), path)
	}
	assert.Equal(t, int64(32), fetch(t, run, "params/batch"))

	ns, err := run.Structure()
	require.NoError(t, err)
	params, ok := ns["params"].(store.Namespace)
	require.True(t, ok)
	assert.Equal(t, store.Float, params["lr"].(store.Attribute).Type())
	assert.Equal(t, store.Datetime, ns["started"].(store.Attribute).Type())

	require.NoError(t, run.Field("params/lr").Assign(0.02))
	assert.Equal(t, 0.02, fetch(t, run, "params/lr"))

	assert.EqualError(t, run.Field("params/lr").Assign("fast"),
		"params/lr is a Float attribute, can't write a String")
	assert.EqualError(t, run.Field("params").Assign(1),
		"params conflicts with the namespace of another attribute")
	assert.EqualError(t, run.Field("notes/extra").Assign(1),
		"notes/extra conflicts with the namespace of another attribute")
	assert.EqualError(t, run.Field("x").Assign([]int{1}), "x: unsupported value type []int")
}

func TestStringSet(t *testing.T) {
	s, _ := openStore(t)
	require.NoError(t, s.CreateProject(store.ProjectSpec{Workspace: "team", Name: "mnist"}))
	run, err := s.CreateRun("team/mnist")
	require.NoError(t, err)

	tags := run.Field("sys/tags")
	require.NoError(t, tags.Add("exp1", "baseline"))
	require.NoError(t, tags.Add("baseline", "final"))
	assert.Equal(t, []string{"exp1", "baseline", "final"}, fetch(t, run, "sys/tags"))

	require.NoError(t, run.Field("sys/group_tags").Add())
	assert.Equal(t, []string{}, fetch(t, run, "sys/group_tags"))
}

func TestSeries(t *testing.T) {
	s, _ := openStore(t)
	require.NoError(t, s.CreateProject(store.ProjectSpec{Workspace: "team", Name: "mnist"}))
	run, err := s.CreateRun("team/mnist")
	require.NoError(t, err)

	t0 := time.Unix(1700000000, 0).UTC()
	loss := run.Field("train/loss")
	require.NoError(t, loss.Extend([]interface{}{1.0, 0.5}, []float64{0, 1},
		[]time.Time{t0, t0.Add(time.Second)}))
	require.NoError(t, loss.Extend([]interface{}{0.25}, []float64{2},
		[]time.Time{t0.Add(2500 * time.Millisecond)}))
	require.NoError(t, run.Field("stdout").Extend([]interface{}{"", "a,b"}, []float64{0, 1},
		[]time.Time{t0, t0}))

	assert.EqualError(t, loss.Extend([]interface{}{"x"}, []float64{3}, []time.Time{t0}),
		"train/loss is a FloatSeries attribute, can't write a StringSeries")
	assert.EqualError(t, loss.Extend([]interface{}{1.0}, nil, nil),
		"extend train/loss: got 1 values, 0 steps and 0 timestamps")
	assert.EqualError(t, loss.Extend([]interface{}{1.0, "x"}, []float64{3, 4}, []time.Time{t0, t0}),
		"extend train/loss: values of mixed types")

	obj := run.(*object)
	require.NoError(t, ensureAttribute(s.db, obj.id, "val/loss", store.FloatSeries))

	ns, err := run.Structure()
	require.NoError(t, err)

	table, err := ns["train"].(store.Namespace)["loss"].(store.Attribute).FetchValues()
	require.NoError(t, err)
	assert.Equal(t, series.NewTable([]series.Row{
		{Step: 0, Value: 1.0, Timestamp: t0},
		{Step: 1, Value: 0.5, Timestamp: t0.Add(time.Second)},
		{Step: 2, Value: 0.25, Timestamp: t0.Add(2500 * time.Millisecond)},
	}), table)

	table, err = ns["stdout"].(store.Attribute).FetchValues()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"", "a,b"}, []interface{}{table.Rows[0].Value, table.Rows[1].Value})

	table, err = ns["val"].(store.Namespace)["loss"].(store.Attribute).FetchValues()
	require.NoError(t, err)
	assert.True(t, table.IsEmpty())

	_, err = ns["sys"].(store.Namespace)["id"].(store.Attribute).FetchValues()
	assert.EqualError(t, err, "String attributes don't have series values")
}

func TestFiles(t *testing.T) {
	s, progress := openStore(t)
	require.NoError(t, s.CreateProject(store.ProjectSpec{Workspace: "team", Name: "mnist"}))
	run, err := s.CreateRun("team/mnist")
	require.NoError(t, err)

	src := t.TempDir()
	for path, contents := range map[string]string{
		"model.bin":       "weights",
		"code/main.py":    "print(1)",
		"code/lib/a.py":   "pass",
		"images/step.png": "png",
	} {
		require.NoError(t, writeFile(filepath.Join(src, path), []byte(contents)))
	}

	require.NoError(t, run.Field("model").Upload(filepath.Join(src, "model.bin")))
	require.NoError(t, run.Field("code").UploadFiles(filepath.Join(src, "code")))
	for i := 0; i < 2; i++ {
		require.NoError(t, run.Field("images").Append(filepath.Join(src, "images/step.png")))
	}
	assert.Contains(t, progress.String(), "to model (7 B)\n")

	ns, err := run.Structure()
	require.NoError(t, err)
	dest := t.TempDir()

	require.NoError(t, ns["model"].(store.Attribute).Download(filepath.Join(dest, "model")))
	contents, err := afero.ReadFile(fs, filepath.Join(dest, "model"))
	require.NoError(t, err)
	assert.Equal(t, "weights", string(contents))

	zipPath := filepath.Join(dest, "code.zip")
	require.NoError(t, ns["code"].(store.Attribute).Download(zipPath))
	zr, err := zip.OpenReader(zipPath)
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	zr.Close()
	assert.ElementsMatch(t, []string{"main.py", "lib/a.py"}, names)

	require.NoError(t, ns["images"].(store.Attribute).Download(filepath.Join(dest, "images")))
	entries, err := afero.ReadDir(fs, filepath.Join(dest, "images"))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "0.png", entries[0].Name())
	assert.Equal(t, "1.png", entries[1].Name())

	err = ns["sys"].(store.Namespace)["id"].(store.Attribute).Download(dest)
	assert.EqualError(t, err, "String attributes can't be downloaded")
}
