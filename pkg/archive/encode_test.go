package archive

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pizzawithsucuk/neptune-archiver/pkg/errors"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/manifest"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/series"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/store"
)

func TestWalk(t *testing.T) {
	lr := atom(0.01)
	ns := store.Namespace{
		"train": store.Namespace{
			"loss": mockAttribute{typ: store.FloatSeries},
			"acc":  mockAttribute{typ: store.FloatSeries},
		},
		"lr": lr,
		"sys": map[string]interface{}{
			"tags": mockAttribute{typ: store.StringSet},
		},
		"weird": 5,
	}

	var keys []string
	for leaf := range Walk(ns) {
		keys = append(keys, leaf.Key)
	}
	assert.Equal(t, []string{"lr", "sys/tags", "train/acc", "train/loss", "weird"}, keys)

	// Stop early.
	var first []Leaf
	for leaf := range Walk(ns) {
		first = append(first, leaf)
		break
	}
	require.Len(t, first, 1)
	assert.Equal(t, Leaf{Key: "lr", Attribute: lr, Value: lr}, first[0])

	attr, ok := lookup(ns, "sys/tags")
	assert.True(t, ok)
	assert.Equal(t, store.StringSet, attr.Type())
	_, ok = lookup(ns, "sys/missing")
	assert.False(t, ok)
	_, ok = lookup(ns, "lr/nested")
	assert.False(t, ok)
}

func TestBuildRunManifest(t *testing.T) {
	fs = afero.NewMemMapFs()
	require.NoError(t, fs.Mkdir("run", 0755))

	created := time.Unix(1700000000, 0)
	ns := store.Namespace{
		"lr":      atom(0.01),
		"created": mockAttribute{typ: store.Datetime, value: created},
		"sys": store.Namespace{
			"tags":  mockAttribute{typ: store.StringSet, value: []string{"exp1", "baseline"}},
			"state": mockAttribute{typ: store.RunState, value: "Active"},
		},
		"source_code": store.Namespace{
			"git": mockAttribute{typ: store.GitRef},
		},
		"val": store.Namespace{
			"loss": mockAttribute{typ: store.FloatSeries, table: series.Table{}},
		},
	}

	m, warnings, err := BuildManifest(ns, "run")
	require.NoError(t, err)
	assert.Empty(t, warnings)

	exp := manifest.New()
	exp.Atoms["lr"] = 0.01
	exp.TimeStamps["created"] = 1700000000
	exp.StringSets["sys/tags"] = []string{"exp1", "baseline"}
	exp.FloatSeries["val/loss"] = nil
	assert.Equal(t, exp, m)

	entries, err := afero.ReadDir(fs, "run")
	require.NoError(t, err)
	assert.Empty(t, entries, "empty series must not create a side-car file")
}

func TestEncodeFloatSeries(t *testing.T) {
	fs = afero.NewMemMapFs()
	mockIDs(t)
	require.NoError(t, fs.Mkdir("run", 0755))

	t0 := time.Unix(1700000000, 0)
	ns := store.Namespace{
		"train": store.Namespace{
			"loss": mockAttribute{typ: store.FloatSeries, table: series.NewTable([]series.Row{
				{Step: 0, Value: 1.0, Timestamp: t0},
				{Step: 1, Value: 0.5, Timestamp: t0.Add(time.Second)},
				{Step: 2, Value: 0.25, Timestamp: t0.Add(2 * time.Second)},
			})},
		},
		"stdout": mockAttribute{typ: store.StringSeries, table: series.NewTable([]series.Row{
			{Step: 0, Value: "hello", Timestamp: t0},
		})},
	}

	m, _, err := BuildManifest(ns, "run")
	require.NoError(t, err)

	id0, id1 := "id-0.csv", "id-1.csv"
	assert.Equal(t, map[string]*string{"stdout": &id0}, m.StringSeries)
	assert.Equal(t, map[string]*string{"train/loss": &id1}, m.FloatSeries)

	assertFiles(t, []file{
		{"run/id-0.csv", "step,value,timestamp\n0,hello,1700000000\n"},
		{"run/id-1.csv", "step,value,timestamp\n" +
			"0,1,1700000000\n" +
			"1,0.5,1700000001\n" +
			"2,0.25,1700000002\n"},
	}, "series side-cars")
}

func TestUnknownAttributeKind(t *testing.T) {
	fs = afero.NewMemMapFs()
	require.NoError(t, fs.Mkdir("run", 0755))

	obj := &mockObject{ns: store.Namespace{
		"lr":       atom(0.01),
		"notebook": mockAttribute{typ: "NotebookRef"},
	}}
	_, err := archiveObject(obj, "run", manifest.RunStructure)
	assert.Equal(t, errors.UnknownAttributeKind{Key: "notebook", Type: "NotebookRef"}, err)

	exists, err := afero.Exists(fs, "run/run_structure.json")
	require.NoError(t, err)
	assert.False(t, exists)

	_, _, err = BuildManifest(store.Namespace{"raw": 5}, "run")
	assert.Equal(t, errors.UnknownAttributeKind{Key: "raw", Type: "int"}, err)
}

func TestStringSetUnavailable(t *testing.T) {
	fs = afero.NewMemMapFs()

	unavailable := errors.RemoteFieldUnavailable{Key: "sys/group_tags"}
	ns := store.Namespace{
		"sys": store.Namespace{
			"group_tags": mockAttribute{typ: store.StringSet, fetchErr: unavailable},
			"tags":       mockAttribute{typ: store.StringSet, value: []string(nil)},
		},
	}

	m, warnings, err := BuildManifest(ns, "run")
	require.NoError(t, err)
	assert.Equal(t, []Warning{{Key: "sys/group_tags", Err: unavailable}}, warnings)
	assert.Equal(t, map[string][]string{
		"sys/group_tags": {},
		"sys/tags":       {},
	}, m.StringSets)
}

func TestEncoderErrorsAbort(t *testing.T) {
	fs = afero.NewMemMapFs()

	tests := []struct {
		name string
		attr mockAttribute
		exp  string
	}{
		{
			name: "Atom",
			attr: mockAttribute{typ: store.Float, fetchErr: errors.New("timeout")},
			exp:  `archive atoms "key": timeout`,
		},
		{
			name: "StringSet",
			attr: mockAttribute{typ: store.StringSet, fetchErr: errors.New("timeout")},
			exp:  `archive string_sets "key": timeout`,
		},
		{
			name: "Timestamp",
			attr: mockAttribute{typ: store.Datetime, value: "yesterday"},
			exp:  `archive time_stamps "key": expected datetime, got string`,
		},
		{
			name: "File",
			attr: mockAttribute{typ: store.File, fetchErr: errors.New("timeout")},
			exp:  `archive files "key": download: timeout`,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			_, _, err := BuildManifest(store.Namespace{"key": test.attr}, "run")
			assert.EqualError(t, err, test.exp)
		})
	}
}

func TestEncodeFiles(t *testing.T) {
	fs = afero.NewMemMapFs()
	mockIDs(t)
	require.NoError(t, fs.Mkdir("run", 0755))

	ns := store.Namespace{
		"a_model": mockAttribute{typ: store.File, files: []file{{"", "weights"}}},
		"b_code": mockAttribute{typ: store.FileSet, files: []file{
			{"main.py", "print(1)"},
			{"lib/util.py", "pass"},
		}},
		"c_images": mockAttribute{typ: store.FileSeries, files: []file{
			{"10.png", "ten"},
			{"2.png", "two"},
			{"notes.txt", "notes"},
			{"1.png", "one"},
		}},
	}

	m, _, err := BuildManifest(ns, "run")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a_model": "id-0"}, m.Files)
	assert.Equal(t, map[string]string{"b_code": "id-1"}, m.FileSets)
	assert.Equal(t, map[string]string{"c_images": "id-2"}, m.FileSeries)

	assertFiles(t, []file{
		{"run/id-0", "weights"},
		{"run/id-1/main.py", "print(1)"},
		{"run/id-1/lib/util.py", "pass"},
		{"run/id-2/2.png", "two"},
		{"run/id-2.order.json", `["1.png","2.png","10.png","notes.txt"]`},
	}, "file side-cars")

	exists, err := afero.Exists(fs, "run/id-1.zip")
	require.NoError(t, err)
	assert.False(t, exists, "the downloaded zip must be removed")
}

func TestUnzipRejectsEscapingEntries(t *testing.T) {
	fs = afero.NewMemMapFs()
	require.NoError(t, fs.Mkdir("run", 0755))

	attr := mockAttribute{typ: store.FileSet, files: []file{{"../evil", "x"}}}
	require.NoError(t, attr.Download("run/set.zip"))

	assert.Error(t, unzip("run/set.zip", "run/set"))

	exists, err := afero.Exists(fs, "run/evil")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSortByStep(t *testing.T) {
	names := []string{"b.png", "10.png", "a.png", "2.5.png", "2.png"}
	sortByStep(names)
	assert.Equal(t, []string{"2.png", "2.5.png", "10.png", "a.png", "b.png"}, names)
}
