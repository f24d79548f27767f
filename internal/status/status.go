// Package status defines the error taxonomy shared by every BlobDB
// layer: settingsfile, the façade, the per-namespace backends, the sync
// engine and the wire codec all return (or wrap) one of these.
package status

import "fmt"

// Status is a BlobDB result code. It satisfies error so callers can
// return it directly or wrap it with fmt.Errorf("%w: ...", status.Full).
type Status int

const (
	OK Status = iota
	InvalidArg
	InvalidOp
	InvalidDBID
	NotFound
	Stale
	Full
	Busy
	IO
	OOM
)

var names = map[Status]string{
	OK:          "ok",
	InvalidArg:  "invalid argument",
	InvalidOp:   "invalid operation",
	InvalidDBID: "invalid database id",
	NotFound:    "not found",
	Stale:       "stale",
	Full:        "database full",
	Busy:        "busy",
	IO:          "io error",
	OOM:         "out of memory",
}

func (s Status) Error() string {
	if n, ok := names[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Is lets errors.Is(err, status.NotFound) match both a bare Status value
// and one wrapped with fmt.Errorf("%w: ...", status.NotFound).
func (s Status) Is(target error) bool {
	t, ok := target.(Status)
	return ok && t == s
}

// Wrap attaches context to a Status while keeping it matchable via
// errors.Is.
func Wrap(s Status, format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{s}, args...)...)
}
