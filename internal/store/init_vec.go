//go:build sqlite_vec && cgo

package store

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

// Auto-load sqlite-vec into every connection the driver opens, so pattern
// embedding queries work without per-connection setup.
func init() {
	vec.Auto()
}
