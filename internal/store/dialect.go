package store

import (
	"strconv"
	"strings"
)

// dialect captures what differs between the SQL backends. Queries are
// written with '?' placeholders and rebound per dialect.
type dialect struct {
	name       string
	driver     string
	dollarArgs bool
}

var (
	postgresDialect = dialect{name: "postgres", driver: "pgx", dollarArgs: true}
	sqliteDialect   = dialect{name: "sqlite", driver: "sqlite"}
)

func (d dialect) rebind(query string) string {
	if !d.dollarArgs {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
