package catalog

import "errors"

// ErrDuplicateItem reports an Append that would violate the SourceURL or
// ContentURL uniqueness invariant.
var ErrDuplicateItem = errors.New("item already in catalog")

// ErrTerminalItem reports an outcome applied to an item whose status is
// already terminal.
var ErrTerminalItem = errors.New("item already in a terminal status")

// ErrNotFound reports an operation against a source URL the store has never
// seen.
var ErrNotFound = errors.New("item not found")
