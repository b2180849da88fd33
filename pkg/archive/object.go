package archive

import (
	"fmt"
	"path/filepath"

	"github.com/pizzawithsucuk/neptune-archiver/pkg/attribute"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/errors"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/manifest"
	"github.com/pizzawithsucuk/neptune-archiver/pkg/store"
)

// BuildManifest stores the values of every attribute in ns in dir, and
// returns the manifest describing them. Attributes whose type is unknown
// abort the build. Warnings are returned for attributes that were stored in
// a degraded form.
func BuildManifest(ns store.Namespace, dir string) (*manifest.Manifest, []Warning, error) {
	m := manifest.New()
	enc := &encoder{dir: dir}
	for leaf := range Walk(ns) {
		if leaf.Attribute == nil {
			return nil, nil, errors.UnknownAttributeKind{Key: leaf.Key, Type: string(leaf.Type())}
		}

		kind, err := attribute.Classify(leaf.Attribute.Type())
		if err != nil {
			if unknown, ok := err.(errors.UnknownAttributeKind); ok {
				unknown.Key = leaf.Key
				err = unknown
			}
			return nil, nil, err
		}

		if kind == attribute.Ignored {
			continue
		}

		value, err := enc.encode(kind, leaf.Key, leaf.Attribute)
		if err != nil {
			return nil, nil, errors.WithContext(err, fmt.Sprintf("archive %s %q", kind, leaf.Key))
		}

		if err := m.Put(kind, leaf.Key, value); err != nil {
			return nil, nil, errors.WithContext(err, "add to manifest")
		}
	}
	return m, enc.warnings, nil
}

// objectResult summarizes the archive of a single object.
type objectResult struct {
	Attributes int
	Warnings   []Warning
}

// archiveObject archives the attribute tree of obj into dir, and writes its
// manifest to dir/manifestName. The manifest is only written if every
// attribute was archived.
func archiveObject(obj store.Object, dir, manifestName string) (objectResult, error) {
	ns, err := obj.Structure()
	if err != nil {
		return objectResult{}, errors.WithContext(err, "get structure")
	}

	m, warnings, err := BuildManifest(ns, dir)
	if err != nil {
		return objectResult{}, err
	}

	if err := manifest.Write(fs, filepath.Join(dir, manifestName), m); err != nil {
		return objectResult{}, errors.WithContext(err, "write manifest")
	}
	return objectResult{Attributes: m.Len(), Warnings: warnings}, nil
}
