// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithSubject/FromContext for propagating the verified subject

package auth

import "context"

type subjectContextKey struct{}

// WithSubject returns a new context carrying the verified subject.
func WithSubject(ctx context.Context, subject Subject) context.Context {
	return context.WithValue(ctx, subjectContextKey{}, subject)
}

// FromContext returns the subject stored by WithSubject, if any.
func FromContext(ctx context.Context) (Subject, bool) {
	s, ok := ctx.Value(subjectContextKey{}).(Subject)
	return s, ok
}
