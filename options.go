package bunquery

import "log/slog"

// Options configures a Client
type Options struct {
	// Registry holds model relation tables (default: empty registry)
	Registry *Registry

	// Logger for execution events (default: slog.Default())
	Logger *slog.Logger

	// RelationConcurrency bounds how many source records resolve their relations
	// at once. Values <= 1 resolve one record at a time, in result order.
	RelationConcurrency int

	// StrictOperators rejects unknown operators and incompatible operands with
	// ErrInvalidQuery instead of treating them as non-matches.
	StrictOperators bool
}

// DefaultOptions returns default client options
func DefaultOptions() *Options {
	return &Options{
		Registry:            NewRegistry(),
		Logger:              slog.Default(),
		RelationConcurrency: 1,
	}
}
