// Package cache defines the contract of the download cache: every remote
// location is fetched to local storage at most once per namespace.
package cache

import (
	"context"
	"fmt"
)

// Interface is implemented by fetch.Manager.
type Interface interface {
	// Fetch returns one local path per location, positionally. Locations that
	// could not be fetched hold "" and are listed in Batch.Failures.
	Fetch(ctx context.Context, namespace string, locations []string) (Batch, error)
}

type Batch struct {
	Paths    []string
	Failures []*FetchError
}

// OK counts the locations that resolved to a local path.
func (b Batch) OK() int {
	n := 0
	for _, p := range b.Paths {
		if p != "" {
			n++
		}
	}
	return n
}

// FetchError is a per-location failure; it never aborts the batch.
type FetchError struct {
	Index    int
	Location string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Location, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
