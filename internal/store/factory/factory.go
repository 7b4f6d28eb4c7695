package factory

import (
	"errors"
	"strings"

	"github.com/loykin/svcmgr/internal/store"
	bg "github.com/loykin/svcmgr/internal/store/badger"
	fs "github.com/loykin/svcmgr/internal/store/file"
	pg "github.com/loykin/svcmgr/internal/store/postgres"
	sq "github.com/loykin/svcmgr/internal/store/sqlite"
)

// NewFromDSN selects a store implementation based on DSN.
// Supported:
//   - sqlite:   "sqlite://<path>" or bare filepath (treated as sqlite)
//   - postgres: DSN starting with "postgres://" or "postgresql://"
//   - badger:   "badger://<dir>"
//   - yaml:     "file://<path>"
func NewFromDSN(dsn string) (store.Store, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	switch {
	case ld == "":
		return nil, errors.New("empty DSN")
	case strings.HasPrefix(ld, "postgres://"), strings.HasPrefix(ld, "postgresql://"):
		return pg.New(d)
	case strings.HasPrefix(ld, "badger://"):
		return bg.New(d[len("badger://"):])
	case strings.HasPrefix(ld, "file://"):
		return fs.New(d[len("file://"):])
	case strings.HasPrefix(ld, "sqlite://"):
		return sq.New(d[len("sqlite://"):])
	}
	// default to sqlite path
	return sq.New(d)
}
