package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

var ErrInvalidJSON = errors.New("invalid JSON payload")

// Command is one parsed shell line.
type Command struct {
	Name string
	Args []string
	Line string
}

func Parse(line string) (*Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, fmt.Errorf("empty command")
	}

	parts := strings.Fields(line)
	if !strings.HasPrefix(parts[0], ".") {
		return nil, fmt.Errorf("commands must start with '.'")
	}

	return &Command{
		Name: parts[0],
		Args: parts[1:],
		Line: line,
	}, nil
}

// Rest returns the raw text after the command name and its first n arguments,
// so JSON payloads keep their spacing.
func (c *Command) Rest(n int) string {
	s := c.Line
	for i := 0; i <= n; i++ {
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
		end := strings.IndexFunc(s, unicode.IsSpace)
		if end < 0 {
			return ""
		}
		s = s[end:]
	}
	return strings.TrimSpace(s)
}

func ValidateArgs(cmd *Command, count int) error {
	if len(cmd.Args) < count {
		return fmt.Errorf("expected %d argument(s), got %d", count, len(cmd.Args))
	}
	return nil
}

func ParseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

// DecodeRecord parses a JSON object payload.
func DecodeRecord(s string) (map[string]interface{}, error) {
	s = strings.TrimSpace(s)
	if s == "" || !utf8.ValidString(s) {
		return nil, ErrInvalidJSON
	}
	var rec map[string]interface{}
	if err := json.Unmarshal([]byte(s), &rec); err != nil || rec == nil {
		return nil, ErrInvalidJSON
	}
	return rec, nil
}

// SplitList splits a comma-separated list, dropping empty entries.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
