package routes

import "fmt"

// ErrKeyExists is returned by Register when the key is already
// routed.
type ErrKeyExists struct {
	Key string
}

func (e *ErrKeyExists) Error() string {
	return fmt.Sprintf("routes: key %s already registered", e.Key)
}

// ErrNotFound is returned by Lookup for an unrouted key.
type ErrNotFound struct {
	Key string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("routes: key %s not found", e.Key)
}
