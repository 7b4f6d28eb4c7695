package process

import (
	"errors"
	"fmt"
)

var ErrEmptyPath = errors.New("executable path is empty")

// SpawnError reports that the OS could not create the child process.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %q: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }
