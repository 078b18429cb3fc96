package storage

import (
	"path"
	"strings"

	gerrors "github.com/mwantia/gostore/pkg/errors"
)

// CleanPath normalizes a logical folder path to an absolute, slash
// separated form without trailing slash. The root is "/".
func CleanPath(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	return path.Clean("/" + p)
}

// SplitPath returns the parent folder and the base name of a logical path.
func SplitPath(p string) (string, string) {
	p = CleanPath(p)
	if p == "/" {
		return "/", ""
	}
	return path.Dir(p), path.Base(p)
}

// ObjectKey builds the backend key for a file or folder: owner, logical
// folder and name joined by slashes, without leading slash.
func ObjectKey(ownerID, folder, name string) string {
	return strings.TrimPrefix(path.Join(ownerID, CleanPath(folder), name), "/")
}

// ValidateName rejects names that cannot be used as a single path element.
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return gerrors.New(gerrors.CodeInvalidArgument, "name must not be empty")
	case name == "." || name == "..":
		return gerrors.Newf(gerrors.CodeInvalidArgument, "name '%s' is reserved", name)
	case strings.ContainsAny(name, "/\\"):
		return gerrors.Newf(gerrors.CodeInvalidArgument, "name '%s' must not contain path separators", name)
	}
	return nil
}

// ValidateOwner rejects owner ids that would escape their key prefix.
func ValidateOwner(ownerID string) error {
	if err := ValidateName(ownerID); err != nil {
		return gerrors.Wrap(gerrors.CodeInvalidArgument, "invalid owner id", err)
	}
	return nil
}
