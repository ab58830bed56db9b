package retry

import "context"

// DoWithResultTyped is a type-safe generic wrapper around Retryer.DoWithResult.
//
// Usage:
//
//	resp, err := retry.DoWithResultTyped(r, ctx, func() (*llm.TextResponse, error) {
//	    return gen.Generate(ctx, req)
//	})
func DoWithResultTyped[T any](r Retryer, ctx context.Context, fn func() (T, error)) (T, error) {
	result, err := r.DoWithResult(ctx, func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	if result == nil {
		var zero T
		return zero, nil
	}
	return result.(T), nil
}
