// Package synerr defines the engine's error taxonomy as typed,
// wrappable errors so callers can tell a fatal startup failure apart
// from a worker-local failure that should simply be logged and retried
// next cycle.
package synerr

import "fmt"

// Kind is one of the engine's error categories.
type Kind string

const (
	KindConfig       Kind = "config"
	KindUpstream     Kind = "upstream"
	KindDownloader   Kind = "downloader"
	KindUpload       Kind = "upload"
	KindRecheck      Kind = "recheck"
	KindStatus       Kind = "status"
	KindScanner      Kind = "scanner"
	KindLockConflict Kind = "lock_conflict"
)

// Fatal reports whether errors of this kind are fatal at startup
// (only KindConfig) rather than local to the component that produced
// them.
func (k Kind) Fatal() bool {
	return k == KindConfig
}

// Error wraps an underlying cause with a Kind discriminator.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a typed Error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Config(op string, err error) error     { return New(KindConfig, op, err) }
func Upstream(op string, err error) error   { return New(KindUpstream, op, err) }
func Downloader(op string, err error) error { return New(KindDownloader, op, err) }
func Upload(op string, err error) error     { return New(KindUpload, op, err) }
func Recheck(op string, err error) error    { return New(KindRecheck, op, err) }
func Status(op string, err error) error     { return New(KindStatus, op, err) }
func Scanner(op string, err error) error    { return New(KindScanner, op, err) }
func LockConflict(op string) error {
	return New(KindLockConflict, op, fmt.Errorf("uri already claimed by a live worker"))
}

// As is a thin re-export convenience so callers don't need a second
// import just to type-assert a Kind.
func As(err error) (*Error, bool) {
	var se *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			se = e
			return se, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return nil, false
}
