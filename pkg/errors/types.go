package errors

import (
	"fmt"
	"strings"
)

// MissingFieldError represents a missing required field.
type MissingFieldError struct {
	Field string
}

func (err MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field: %s", err.Field)
}

// FileNotFound represents when we were unable to access a file
// because the path didn't exist.
type FileNotFound struct {
	Path string
}

func (err FileNotFound) Error() string {
	return fmt.Sprintf("%q does not exist", err.Path)
}

// UnknownAttributeKind is returned when a remote attribute has a type that
// can't be mapped to an attribute kind. Archiving the object must stop,
// since the manifest would otherwise silently miss the attribute.
type UnknownAttributeKind struct {
	Key  string
	Type string
}

func (err UnknownAttributeKind) Error() string {
	if err.Key == "" {
		return fmt.Sprintf("unknown attribute type %q", err.Type)
	}
	return fmt.Sprintf("unknown attribute type %q at %q", err.Type, err.Key)
}

// RemoteFieldUnavailable is returned by the store when the value of a field
// exists in the object structure but can't be fetched.
type RemoteFieldUnavailable struct {
	Key    string
	Reason string
}

func (err RemoteFieldUnavailable) Error() string {
	if err.Reason == "" {
		return fmt.Sprintf("remote field %q is unavailable", err.Key)
	}
	return fmt.Sprintf("remote field %q is unavailable: %s", err.Key, err.Reason)
}

// DestinationAlreadyExists is returned when the archive destination is
// already present on disk.
type DestinationAlreadyExists struct {
	Path string
}

func (err DestinationAlreadyExists) Error() string {
	return err.FriendlyMessage()
}

// FriendlyMessage implements the friendlyError interface.
func (err DestinationAlreadyExists) FriendlyMessage() string {
	return fmt.Sprintf("The archive destination %q already exists.\n"+
		"Remove it or choose another name with --archive_name.", err.Path)
}

// DuplicateKey is returned when a manifest already contains an entry for
// a key.
type DuplicateKey struct {
	Key string
}

func (err DuplicateKey) Error() string {
	return fmt.Sprintf("duplicate manifest key %q", err.Key)
}

// RunsFailed aggregates the runs that couldn't be processed. The other runs
// were processed normally.
type RunsFailed struct {
	RunIDs []string
	Total  int
}

func (err RunsFailed) Error() string {
	return err.FriendlyMessage()
}

// FriendlyMessage implements the friendlyError interface.
func (err RunsFailed) FriendlyMessage() string {
	return fmt.Sprintf("%d of %d runs failed: %s",
		len(err.RunIDs), err.Total, strings.Join(err.RunIDs, ", "))
}
