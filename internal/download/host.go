// Package download materializes a selection: one request per locator, in
// order, with a pacing delay between requests and collision-safe names.
package download

import (
	"context"
)

// Conflict tells the host what to do when the target name exists.
type Conflict string

const (
	// ConflictUniquify saves under "name (1).ext", "name (2).ext", ...
	ConflictUniquify Conflict = "uniquify"
	// ConflictOverwrite replaces the existing file.
	ConflictOverwrite Conflict = "overwrite"
)

// ParseConflict maps a config string to a Conflict, defaulting to uniquify.
func ParseConflict(s string) Conflict {
	if Conflict(s) == ConflictOverwrite {
		return ConflictOverwrite
	}
	return ConflictUniquify
}

// Request is one download handed to the host.
type Request struct {
	URL      string
	Filename string
	Conflict Conflict
}

// Host executes downloads. Download returns once the file is persisted or
// the attempt failed, with the name the file was saved under. That name can
// differ from req.Filename when the conflict policy renamed it.
type Host interface {
	Download(ctx context.Context, req Request) (string, error)
}

// HostFunc adapts a function to Host.
type HostFunc func(ctx context.Context, req Request) (string, error)

func (f HostFunc) Download(ctx context.Context, req Request) (string, error) { return f(ctx, req) }
