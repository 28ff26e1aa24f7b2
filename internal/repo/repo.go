// Package repo persists simulation aggregates and the session event log in SQLite.
package repo

import (
	"database/sql"
	"errors"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// StorageError reports a failed read or write of persisted state. The
// in-memory session stays usable when one is returned.
type StorageError struct {
	Op    string
	Key   string
	Cause error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return "storage " + e.Op + ": " + e.Cause.Error()
	}
	return "storage " + e.Op + " " + e.Key + ": " + e.Cause.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

func storageErr(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Key: key, Cause: err}
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
