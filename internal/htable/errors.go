package htable

import "errors"

var (
	// ErrDirectoryMaxSizeReached is returned when a bucket split would
	// grow a directory's global depth past directory_max_depth.
	ErrDirectoryMaxSizeReached = errors.New("htable: directory max size reached")

	// ErrNoDirectoryForKey is returned by Remove when the header has no
	// directory installed for the key's slot.
	ErrNoDirectoryForKey = errors.New("htable: no directory for key")

	// ErrNoBucketForKey is returned by Remove when the directory has no
	// bucket installed for the key's slot.
	ErrNoBucketForKey = errors.New("htable: no bucket for key")
)
