package bunquery

import "errors"

var (
	ErrUnknownRelation = errors.New("unknown relation")
	ErrUnknownModel    = errors.New("unknown model")
	ErrDuplicateModel  = errors.New("model already registered")
	ErrInvalidModel    = errors.New("invalid model")
	ErrNoModel         = errors.New("query has no model to resolve relations from")
	ErrInvalidQuery    = errors.New("invalid query")
)
