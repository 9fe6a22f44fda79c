//go:build sqlite_vec && cgo

package store

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Registers the vec0 virtual table with the mattn/go-sqlite3 driver.
	vec.Auto()
}
