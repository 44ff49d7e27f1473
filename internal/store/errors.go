package store

import (
	"errors"
	"fmt"
)

// ErrStorageUnavailable wraps backend connectivity failures so callers can
// distinguish "store is down" from "version does not exist".
var ErrStorageUnavailable = errors.New("storage unavailable")

// VersionNotFoundError indicates no manifest exists for (model, version)
type VersionNotFoundError struct {
	ModelName string
	Version   string
}

func (e VersionNotFoundError) Error() string {
	if e.Version == "" {
		return fmt.Sprintf("no versions found for model %s", e.ModelName)
	}
	return fmt.Sprintf("version not found: %s/%s", e.ModelName, e.Version)
}

// VersionConflictError indicates a put against an already-committed version.
// Versions are immutable; there is no overwrite.
type VersionConflictError struct {
	ModelName string
	Version   string
}

func (e VersionConflictError) Error() string {
	return fmt.Sprintf("version already exists: %s/%s", e.ModelName, e.Version)
}

// IntegrityError indicates the fetched payload does not match the checksum
// recorded in its manifest. The payload is never returned alongside it.
type IntegrityError struct {
	ModelName string
	Version   string
	Want      string
	Got       string
}

func (e IntegrityError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s/%s: manifest %s, payload %s",
		e.ModelName, e.Version, e.Want, e.Got)
}
