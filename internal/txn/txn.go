package txn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/tablekit/internal/backend"
	"github.com/roach88/tablekit/internal/dberr"
)

// state is the shared transaction state of every scope joined to one
// physical transaction.
type state struct {
	mu     sync.Mutex
	b      backend.Backend
	tx     backend.Tx
	depth  int
	failed bool
	cause  error
}

type scopeKey struct{ b backend.Backend }

// Scope is one entered level of a transaction stack. Every Scope returned
// by Enter must be released with Exit.
type Scope struct {
	st     *state // nil when running without a transaction
	ctx    context.Context
	exited bool
}

// Enter enters a transaction scope for b. The returned context must be used
// for every operation inside the scope.
func Enter(ctx context.Context, b backend.Backend, conditional bool) (context.Context, *Scope, error) {
	if st := ambient(ctx, b); st != nil {
		st.mu.Lock()
		if st.depth > 0 {
			st.depth++
			depth := st.depth
			st.mu.Unlock()
			slog.Debug("joined transaction", "backend", b.Name(), "depth", depth)
			return ctx, &Scope{st: st, ctx: ctx}, nil
		}
		st.mu.Unlock()
	}

	if conditional {
		return ctx, &Scope{ctx: ctx}, nil
	}

	tx, err := b.Begin(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("begin transaction: %w", err)
	}
	slog.Debug("began transaction", "backend", b.Name())

	st := &state{b: b, tx: tx, depth: 1}
	ctx = context.WithValue(ctx, scopeKey{b}, st)
	ctx = backend.WithTx(ctx, b, tx)
	return ctx, &Scope{st: st, ctx: ctx}, nil
}

// Exit leaves the scope. err is the outcome of the work done inside it; a
// non-nil err marks the transaction failed. The outermost Exit commits or
// rolls back and returns the final error. Calling Exit twice is a no-op.
func (s *Scope) Exit(err error) error {
	if s == nil || s.st == nil || s.exited {
		return err
	}
	s.exited = true

	st := s.st
	st.mu.Lock()
	st.depth--
	if err != nil && !st.failed {
		st.failed = true
		st.cause = err
	}
	if st.depth > 0 {
		st.mu.Unlock()
		return err
	}
	failed, cause := st.failed, st.cause
	st.mu.Unlock()

	name := st.b.Name()
	if failed || s.ctx.Err() != nil {
		rbErr := st.tx.Rollback()
		slog.Debug("rolled back transaction", "backend", name, "cause", cause)

		switch {
		case err != nil:
			if rbErr != nil {
				return errors.Join(err, fmt.Errorf("rollback transaction: %w", rbErr))
			}
			return err
		case failed:
			return dberr.Wrap(dberr.CodeTransactionAborted, "", cause, "nested scope failed, transaction rolled back")
		default:
			return fmt.Errorf("transaction rolled back: %w", s.ctx.Err())
		}
	}

	if cErr := st.tx.Commit(); cErr != nil {
		return fmt.Errorf("commit transaction: %w", cErr)
	}
	slog.Debug("committed transaction", "backend", name)
	return nil
}

// Active reports whether the scope joined or opened a transaction.
func (s *Scope) Active() bool {
	return s != nil && s.st != nil
}

// Do runs fn inside a transaction on the context's backend, opening one if
// none is ambient.
func Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return run(ctx, false, fn)
}

// DoConditional runs fn inside the ambient transaction if there is one and
// without a transaction otherwise.
func DoConditional(ctx context.Context, fn func(ctx context.Context) error) error {
	return run(ctx, true, fn)
}

// Run is Do or DoConditional for functions returning a value.
func Run[T any](ctx context.Context, conditional bool, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := run(ctx, conditional, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Transactional wraps fn so every call runs through Do.
func Transactional(fn func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return Do(ctx, fn)
	}
}

func run(ctx context.Context, conditional bool, fn func(ctx context.Context) error) error {
	b, err := backend.FromContext(ctx)
	if err != nil {
		return err
	}
	return With(ctx, b, conditional, fn)
}

// With runs fn in a scope on an explicit backend. The scope is released on
// every exit path; a panic rolls the transaction back and is re-raised.
func With(ctx context.Context, b backend.Backend, conditional bool, fn func(ctx context.Context) error) (err error) {
	ctx, s, err := Enter(ctx, b, conditional)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = s.Exit(fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()
	return s.Exit(fn(ctx))
}

// InTransaction reports whether b has an ambient transaction in ctx.
func InTransaction(ctx context.Context, b backend.Backend) bool {
	return Depth(ctx, b) > 0
}

// Depth returns the nesting depth of b's ambient transaction, 0 if none.
func Depth(ctx context.Context, b backend.Backend) int {
	st := ambient(ctx, b)
	if st == nil {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.depth
}

func ambient(ctx context.Context, b backend.Backend) *state {
	st, _ := ctx.Value(scopeKey{b}).(*state)
	return st
}

// Current returns b's open physical transaction, if any.
func Current(ctx context.Context, b backend.Backend) (backend.Tx, bool) {
	st := ambient(ctx, b)
	if st == nil {
		return nil, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.depth == 0 {
		return nil, false
	}
	return st.tx, true
}
