// Package query implements the predicate evaluator for Bunquery.
//
// A filter clause (e.g. `{"age": {"$gte": 30}, "role": "admin"}`) is compiled into
// a small Abstract Syntax Tree whose nodes decide whether a single record matches.
// Every field of a clause must hold, and every operator inside an operator map must
// hold. Evaluation never fails: an operator that is unknown, or whose operand does
// not fit the record value, is a non-match.
package query

import (
	"fmt"
	"strings"
)

// Operator represents a comparison operator (e.g., $eq, $gt, $in).
type Operator string

const (
	OpEq         Operator = "$eq"
	OpNe         Operator = "$ne"
	OpGt         Operator = "$gt"
	OpGte        Operator = "$gte"
	OpLt         Operator = "$lt"
	OpLte        Operator = "$lte"
	OpIn         Operator = "$in"
	OpNin        Operator = "$nin"
	OpStartsWith Operator = "$startsWith"
	OpEndsWith   Operator = "$endsWith"
	OpContains   Operator = "$contains"
)

// Logical keys accepted at the top level of a clause.
const (
	LogicalAnd = "$and"
	LogicalOr  = "$or"
)

// Known reports whether op belongs to the supported operator set.
func (op Operator) Known() bool {
	switch op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpNin,
		OpStartsWith, OpEndsWith, OpContains:
		return true
	}
	return false
}

// Clause is a single filter clause: field name -> literal or operator map.
type Clause map[string]interface{}

// Matcher decides whether a record matches.
type Matcher interface {
	Matches(doc map[string]interface{}) bool
}

// FieldNode represents one operator applied to one field.
type FieldNode struct {
	Field    string
	Operator Operator
	Value    interface{}
}

// LogicalNode represents AND/OR over child nodes.
type LogicalNode struct {
	Operator string // $and, $or
	Children []Matcher
}

// Parse compiles a clause into an AND node. It never fails: unknown operators and
// malformed logical groups compile to nodes that do not match. Use Validate to
// reject them up front.
//
// clause: { "age": { "$gt": 25 }, "status": "active" }
func Parse(clause Clause) *LogicalNode {
	root := &LogicalNode{Operator: LogicalAnd, Children: make([]Matcher, 0, len(clause))}

	for key, val := range clause {
		if key == LogicalAnd || key == LogicalOr {
			root.Children = append(root.Children, parseLogical(key, val))
			continue
		}

		opMap, ok := asMap(val)
		if !ok {
			// Implicit $eq
			root.Children = append(root.Children, &FieldNode{Field: key, Operator: OpEq, Value: val})
			continue
		}
		for op, opVal := range opMap {
			root.Children = append(root.Children, &FieldNode{Field: key, Operator: Operator(op), Value: opVal})
		}
	}

	return root
}

func parseLogical(key string, val interface{}) Matcher {
	node := &LogicalNode{Operator: key}
	items, ok := asSlice(val)
	if !ok {
		return never{}
	}
	for _, item := range items {
		sub, ok := asMap(item)
		if !ok {
			return never{}
		}
		node.Children = append(node.Children, Parse(Clause(sub)))
	}
	return node
}

// Validate reports the first unknown operator or incompatible operand in clause.
func Validate(clause Clause) error {
	for key, val := range clause {
		if key == LogicalAnd || key == LogicalOr {
			items, ok := asSlice(val)
			if !ok {
				return fmt.Errorf("%w: value for %s must be a list", ErrInvalidOperand, key)
			}
			for _, item := range items {
				sub, ok := asMap(item)
				if !ok {
					return fmt.Errorf("%w: element of %s must be an object", ErrInvalidOperand, key)
				}
				if err := Validate(Clause(sub)); err != nil {
					return err
				}
			}
			continue
		}

		opMap, ok := asMap(val)
		if !ok {
			continue
		}
		for op, opVal := range opMap {
			if err := validateOperand(key, Operator(op), opVal); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateOperand(field string, op Operator, operand interface{}) error {
	switch op {
	case OpEq, OpNe:
		return nil
	case OpGt, OpGte, OpLt, OpLte:
		if !isOrdered(operand) {
			return fmt.Errorf("%w: %s on %q expects a number, string or time, got %T", ErrInvalidOperand, op, field, operand)
		}
	case OpIn, OpNin:
		if _, ok := asSlice(operand); !ok {
			return fmt.Errorf("%w: %s on %q expects a list, got %T", ErrInvalidOperand, op, field, operand)
		}
	case OpStartsWith, OpEndsWith, OpContains:
		if _, ok := operand.(string); !ok {
			return fmt.Errorf("%w: %s on %q expects a string, got %T", ErrInvalidOperand, op, field, operand)
		}
	default:
		return fmt.Errorf("%w: %s on %q", ErrUnknownOperator, op, field)
	}
	return nil
}

// Matches checks if a document matches the node. A missing field evaluates as nil.
func (n *FieldNode) Matches(doc map[string]interface{}) bool {
	return compare(doc[n.Field], n.Operator, n.Value)
}

func (n *LogicalNode) Matches(doc map[string]interface{}) bool {
	switch n.Operator {
	case LogicalAnd:
		for _, child := range n.Children {
			if !child.Matches(doc) {
				return false
			}
		}
		return true
	case LogicalOr:
		for _, child := range n.Children {
			if child.Matches(doc) {
				return true
			}
		}
		return false
	}
	return false
}

type never struct{}

func (never) Matches(map[string]interface{}) bool { return false }

// Matches reports whether record satisfies every field of clause.
func Matches(record map[string]interface{}, clause Clause) bool {
	return Parse(clause).Matches(record)
}

func compare(actual interface{}, op Operator, expected interface{}) bool {
	switch op {
	case OpEq:
		return equal(actual, expected)
	case OpNe:
		return !equal(actual, expected)
	case OpGt:
		c, ok := order(actual, expected)
		return ok && c > 0
	case OpGte:
		c, ok := order(actual, expected)
		return ok && c >= 0
	case OpLt:
		c, ok := order(actual, expected)
		return ok && c < 0
	case OpLte:
		c, ok := order(actual, expected)
		return ok && c <= 0
	case OpIn:
		found, ok := member(actual, expected)
		return ok && found
	case OpNin:
		found, ok := member(actual, expected)
		return ok && !found
	case OpStartsWith:
		return stringOp(actual, expected, strings.HasPrefix)
	case OpEndsWith:
		return stringOp(actual, expected, strings.HasSuffix)
	case OpContains:
		return stringOp(actual, expected, strings.Contains)
	}
	return false
}

func stringOp(actual, expected interface{}, fn func(s, sub string) bool) bool {
	s, ok := actual.(string)
	if !ok {
		return false
	}
	sub, ok := expected.(string)
	if !ok {
		return false
	}
	return fn(s, sub)
}

func member(actual, list interface{}) (found, ok bool) {
	items, ok := asSlice(list)
	if !ok {
		return false, false
	}
	for _, item := range items {
		if equal(actual, item) {
			return true, true
		}
	}
	return false, true
}
