package mcprouter

import "context"

// ProgressReporter reports progress of a long-running operation back to the
// client. Transports install one in the request context when the client asked
// for progress updates; handlers retrieve it with ProgressFrom.
type ProgressReporter interface {
	// Report emits a progress update. total may be zero when unknown and
	// message may be empty.
	Report(ctx context.Context, progress, total float64, message string) error
}

// ProgressReporterFunc adapts a function to a ProgressReporter.
type ProgressReporterFunc func(ctx context.Context, progress, total float64, message string) error

func (f ProgressReporterFunc) Report(ctx context.Context, progress, total float64, message string) error {
	return f(ctx, progress, total, message)
}

type progressKey struct{}

// WithProgressReporter returns a new context carrying the provided reporter.
func WithProgressReporter(ctx context.Context, pr ProgressReporter) context.Context {
	if pr == nil {
		return ctx
	}
	return context.WithValue(ctx, progressKey{}, pr)
}

// ProgressFrom retrieves a ProgressReporter from the context if present.
func ProgressFrom(ctx context.Context) (ProgressReporter, bool) {
	if v := ctx.Value(progressKey{}); v != nil {
		if pr, ok := v.(ProgressReporter); ok && pr != nil {
			return pr, true
		}
	}
	return nil, false
}
