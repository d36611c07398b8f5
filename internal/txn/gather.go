package txn

import "context"

// Gather runs fns one after another on the calling goroutine and returns
// their results in order. It stops at the first error or when ctx is done.
// Use it instead of goroutine fan-out inside a shared transaction, whose
// connection cannot interleave statements.
func Gather[T any](ctx context.Context, fns ...func(ctx context.Context) (T, error)) ([]T, error) {
	results := make([]T, 0, len(fns))
	for _, fn := range fns {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		v, err := fn(ctx)
		if err != nil {
			return results, err
		}
		results = append(results, v)
	}
	return results, nil
}

// GatherAll runs every fn sequentially and returns each result and error.
// errs[i] is nil when fns[i] succeeded.
func GatherAll[T any](ctx context.Context, fns ...func(ctx context.Context) (T, error)) ([]T, []error) {
	results := make([]T, len(fns))
	errs := make([]error, len(fns))
	for i, fn := range fns {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			continue
		}
		results[i], errs[i] = fn(ctx)
	}
	return results, errs
}
