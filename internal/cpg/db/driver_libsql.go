//go:build libsql

package db

import (
	_ "github.com/tursodatabase/go-libsql"
)

// libSQL takes a plain file: URL; it applies WAL itself and does not accept
// the SQLite _pragma parameters.
func init() {
	dsnBuilders["libsql"] = func(path string) string {
		return "file:" + path
	}
}
