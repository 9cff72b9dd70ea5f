// Package mgerr defines the error-kind taxonomy shared by the page,
// fileset, btree, docmap, and impact packages: arg, fmt, io, mem,
// bufsize, eintr, eagain, and the benign iter_finish sentinel.
//
// Kinds are sentinel errors, not types: wrap them with
// github.com/pkg/errors so callers can both errors.Is against the kind
// and print a stack-carrying chain.
package mgerr

import "github.com/pkg/errors"

// Kind sentinels. Compare with errors.Is, never with ==, since callers
// always receive a wrapped error.
var (
	// Arg marks programmer misuse: an out-of-range docno, a term+payload
	// combination that can never fit a page, an iterator used after its
	// underlying store mutated out from under it.
	Arg = errors.New("mgerr: invalid argument")

	// Fmt marks on-disk bytes that did not decode as expected: a wrong
	// page tag, a truncated record, cache pages inconsistent with data
	// pages.
	Fmt = errors.New("mgerr: format error")

	// IO marks an underlying read/write/seek failure.
	IO = errors.New("mgerr: io error")

	// Mem marks an allocation failure.
	Mem = errors.New("mgerr: allocation failed")

	// Bufsize marks an encoder that ran out of page space. Internal
	// encoders return this so their caller can rotate pages; it is
	// never surfaced past the B+tree boundary, which turns it into
	// ErrTooBig instead.
	Bufsize = errors.New("mgerr: encoding does not fit page")

	// EINTR and EAGAIN are transient I/O conditions. The core never
	// retries; it surfaces these to the caller unchanged.
	EINTR  = errors.New("mgerr: interrupted")
	EAGAIN = errors.New("mgerr: resource temporarily unavailable")

	// IterFinish is the benign end-of-iteration sentinel, not a failure.
	IterFinish = errors.New("mgerr: iteration finished")
)

// Wrap annotates err with msg while keeping errors.Is(result, kind) true
// for any kind in err's chain. A nil err returns nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, msg)
}

// Wrapf is Wrap with fmt.Sprintf-style formatting.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, format, args...)
}

// New wraps a Kind sentinel with a message, producing a fresh error
// whose chain satisfies errors.Is(err, kind).
func New(kind error, msg string) error {
	return errors.Wrap(kind, msg)
}

// Newf is New with formatting.
func Newf(kind error, format string, args ...interface{}) error {
	return errors.Wrapf(kind, format, args...)
}

// Transient reports whether err is EINTR or EAGAIN, the two conditions
// the design says callers may retry at their discretion.
func Transient(err error) bool {
	return errors.Is(err, EINTR) || errors.Is(err, EAGAIN)
}
