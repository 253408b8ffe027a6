package cos

import (
	"errors"
	"fmt"
	"os"
	"sync"
	ratomic "sync/atomic"
	"syscall"

	"github.com/ksort/distsort/cmn/debug"
)

type (
	ErrNotFound struct {
		what string
	}
	// Errs aggregates up to maxErrs distinct errors observed across a fan-out
	// (e.g. per-rank dial failures during Coordinator startup) into one error.
	Errs struct {
		errs []error
		cnt  int64
		mu   sync.Mutex
	}
)

func NewErrNotFound(format string, a ...any) *ErrNotFound {
	return &ErrNotFound{fmt.Sprintf(format, a...)}
}

func (e *ErrNotFound) Error() string { return e.what + " does not exist" }

func IsErrNotFound(err error) bool {
	_, ok := err.(*ErrNotFound)
	return ok
}

const maxErrs = 4

func (e *Errs) Add(err error) {
	debug.Assert(err != nil)
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, added := range e.errs {
		if added.Error() == err.Error() {
			return
		}
	}
	if len(e.errs) < maxErrs {
		e.errs = append(e.errs, err)
		ratomic.StoreInt64(&e.cnt, int64(len(e.errs)))
	}
}

func (e *Errs) Cnt() int { return int(ratomic.LoadInt64(&e.cnt)) }

func (e *Errs) JoinErr() (cnt int, err error) {
	if cnt = e.Cnt(); cnt > 0 {
		e.mu.Lock()
		err = errors.Join(e.errs...)
		e.mu.Unlock()
	}
	return
}

//
// retriable-connection helpers (transport dial/send retry classification)
//

func IsErrConnectionRefused(err error) bool { return errors.Is(err, syscall.ECONNREFUSED) }
func IsErrConnectionReset(err error) bool   { return errors.Is(err, syscall.ECONNRESET) }
func IsErrBrokenPipe(err error) bool        { return errors.Is(err, syscall.EPIPE) }

func IsRetriableConnErr(err error) bool {
	return IsErrConnectionRefused(err) || IsErrConnectionReset(err) || IsErrBrokenPipe(err)
}

//
// abnormal termination
//

const fatalPrefix = "FATAL ERROR: "

// Exitf prints a single fatal diagnostic line and terminates the process
// immediately with status 1. The global-abort path in package runner exits
// through os.Exit with the kind's own exit code and does not call it.
func Exitf(f string, a ...any) {
	fmt.Fprintln(os.Stderr, fatalPrefix+fmt.Sprintf(f, a...))
	os.Exit(1)
}
