package storage

import "errors"

var (
	ErrInvalidStoreName = errors.New("invalid store name")
	ErrKeyAssigned      = errors.New("record already carries a primary key")
)
