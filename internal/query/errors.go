package query

import "errors"

var (
	ErrUnknownOperator = errors.New("unknown operator")
	ErrInvalidOperand  = errors.New("invalid operand")
)
