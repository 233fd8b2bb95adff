package dump

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/GreedyKomodoDragon/s3-backup/internal/config"
)

// TimestampLayout is the timestamp part of every dump filename (minute granularity).
const TimestampLayout = "2006-01-02-15-04"

// Result is a dump file written to the local dump directory.
type Result struct {
	Filename string
	Path     string
}

// Provider produces a local dump file for one database of an instance.
type Provider interface {
	Dump(ctx context.Context, inst config.Instance, database string) (Result, error)
}

// Failure is returned by providers when the dump could not be produced.
type Failure struct {
	Engine   config.Engine
	Database string
	Err      error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s dump of %s failed: %v", f.Engine, f.Database, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Filename renders {database}-{timestamp}.{ext}.
func Filename(database string, at time.Time, ext string) string {
	return fmt.Sprintf("%s-%s.%s", database, at.Format(TimestampLayout), ext)
}

// ParseTimestamp extracts the dump time from a filename produced by Filename
// for database. ok is false for any other name.
func ParseTimestamp(database, filename string) (t time.Time, ok bool) {
	rest, found := strings.CutPrefix(filename, database+"-")
	if !found || len(rest) <= len(TimestampLayout) || rest[len(TimestampLayout)] != '.' {
		return time.Time{}, false
	}

	t, err := time.Parse(TimestampLayout, rest[:len(TimestampLayout)])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
