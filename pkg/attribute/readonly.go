package attribute

// ReadOnlyFieldsVersion identifies the revision of ReadOnlyFields. It must be
// bumped whenever the list changes.
const ReadOnlyFieldsVersion = 2

// ReadOnlyFields are managed by the store. They're archived, but can't be
// written back under their original key.
var ReadOnlyFields = map[string]struct{}{
	"sys/id":                {},
	"sys/monitoring_time":   {},
	"sys/owner":             {},
	"sys/running_time":      {},
	"sys/size":              {},
	"sys/trashed":           {},
	"sys/name":              {},
	"sys/visibility":        {},
	"sys/creation_time":     {},
	"sys/modification_time": {},
	"sys/ping_time":         {},
}

// IsReadOnly returns whether key is one of the ReadOnlyFields.
func IsReadOnly(key string) bool {
	_, ok := ReadOnlyFields[key]
	return ok
}
