package snapshot

import (
	"errors"
	"fmt"

	"github.com/INLOpen/tablesnap/catalog"
)

var (
	ErrAlreadyExists       = errors.New("snapshot already exists")
	ErrInvalidTTL          = errors.New("invalid snapshot ttl")
	ErrInvalidTag          = errors.New("invalid snapshot tag")
	ErrCorruptManifest     = errors.New("corrupt snapshot manifest")
	ErrMissingSchema       = errors.New("missing snapshot schema")
	ErrInvalidClearRequest = errors.New("invalid clear request")
)

// AlreadyExistsError reports a tag collision for one table.
type AlreadyExistsError struct {
	Tag      string
	Keyspace string
	Table    string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("Snapshot %s for %s.%s already exists.", e.Tag, e.Keyspace, e.Table)
}

func (e *AlreadyExistsError) Unwrap() error { return ErrAlreadyExists }

// Scope resolution failures come from the catalog.
var (
	ErrUnknownKeyspace = catalog.ErrUnknownKeyspace
	ErrUnknownTable    = catalog.ErrUnknownTable
)
