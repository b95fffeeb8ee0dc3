package db

import (
	"strings"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	_ "modernc.org/sqlite"
)

// Both SQLite drivers accept _pragma and _txlock DSN parameters, so every
// pooled connection gets the same settings.
const sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"

// dsnBuilders maps a database/sql driver name to its DSN for a path.
var dsnBuilders = map[string]func(path string) string{
	"sqlite3": sqliteDSN,
	"sqlite":  sqliteDSN,
}

func sqliteDSN(path string) string {
	if path == ":memory:" {
		return "file::memory:?_txlock=immediate"
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return "file:" + path + sep + sqlitePragmas
}

// Drivers returns the driver names this build supports.
func Drivers() []string {
	names := make([]string, 0, len(dsnBuilders))
	for name := range dsnBuilders {
		names = append(names, name)
	}
	return names
}
