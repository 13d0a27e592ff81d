//go:build !cgo || !(linux || darwin)

package libffi

import (
	"errors"

	"github.com/wippyai/dynffi"
)

// ErrUnavailable is returned by New in builds without cgo.
var ErrUnavailable = errors.New("libffi engine requires cgo on linux or darwin")

// Engine is a placeholder in builds without cgo.
type Engine struct {
	dynffi.Engine
	dynffi.Loader
}

// New always fails in builds without cgo.
func New() (*Engine, error) {
	return nil, ErrUnavailable
}
