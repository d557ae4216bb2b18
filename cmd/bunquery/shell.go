package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
)

const prompt = "bunquery> "

type Result interface {
	Print(w io.Writer)
	IsExit() bool
}

type ErrorResult struct {
	Err string
}

func (e ErrorResult) Print(w io.Writer) {
	fmt.Fprintln(w, "ERROR")
	fmt.Fprintln(w, e.Err)
}

func (e ErrorResult) IsExit() bool { return false }

type ExitResult struct{}

func (ExitResult) Print(io.Writer) {}
func (ExitResult) IsExit() bool    { return true }

type TextResult struct {
	Text string
}

func (t TextResult) Print(w io.Writer) { fmt.Fprintln(w, t.Text) }
func (TextResult) IsExit() bool        { return false }

type JSONResult struct {
	Value  interface{}
	Pretty bool
}

func (j JSONResult) Print(w io.Writer) {
	if err := writeJSON(w, j.Value, j.Pretty); err != nil {
		ErrorResult{Err: err.Error()}.Print(w)
	}
}

func (JSONResult) IsExit() bool { return false }

type HelpResult struct{}

func (HelpResult) Print(w io.Writer) {
	fmt.Fprintln(w, "bunquery shell commands:")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  .help                          Show this help message")
	fmt.Fprintln(w, "  .exit                          Exit the shell")
	fmt.Fprintln(w, "  .models                        List registered models")
	fmt.Fprintln(w, "  .pretty on|off                 Toggle JSON formatting")
	fmt.Fprintln(w, "  .history                       Show command history")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  .insert <store> <json>         Insert a record, prints its id")
	fmt.Fprintln(w, "  .get <document>                Run a JSON query document")
	fmt.Fprintln(w, "  .find <model> <id> [rel,...]   Fetch one record with relations")
	fmt.Fprintln(w, "  .findstore <store> <id>        Fetch one record from a bare store")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Examples:")
	fmt.Fprintln(w, `  .insert users {"name":"Alice","age":30}`)
	fmt.Fprintln(w, `  .get {"model":"users","where":{"age":{"$gte":30}},"with":{"posts":null}}`)
	fmt.Fprintln(w, "  .find users 1 posts,roles")
}

func (HelpResult) IsExit() bool { return false }

// Shell executes dot-commands against an app. It is driven by Run, or line by
// line through Execute.
type Shell struct {
	app     *app
	pretty  bool
	history []string
}

func NewShell(a *app) *Shell {
	return &Shell{app: a, pretty: true}
}

func (s *Shell) Execute(ctx context.Context, cmd *Command) Result {
	s.history = append(s.history, cmd.Line)

	switch cmd.Name {
	case ".help":
		return HelpResult{}
	case ".exit", ".quit":
		return ExitResult{}
	case ".models":
		return TextResult{Text: strings.Join(s.app.client.Registry().Models(), "\n")}
	case ".pretty":
		return s.setPretty(cmd)
	case ".history":
		return TextResult{Text: strings.Join(s.history[:len(s.history)-1], "\n")}
	case ".insert":
		return s.insert(ctx, cmd)
	case ".get":
		return s.get(ctx, cmd)
	case ".find":
		return s.find(ctx, cmd, false)
	case ".findstore":
		return s.find(ctx, cmd, true)
	default:
		return ErrorResult{Err: fmt.Sprintf("unknown command: %s", cmd.Name)}
	}
}

func (s *Shell) setPretty(cmd *Command) Result {
	if err := ValidateArgs(cmd, 1); err != nil {
		return ErrorResult{Err: err.Error()}
	}
	switch cmd.Args[0] {
	case "on":
		s.pretty = true
	case "off":
		s.pretty = false
	default:
		return ErrorResult{Err: "usage: .pretty on|off"}
	}
	return TextResult{Text: "OK"}
}

func (s *Shell) insert(ctx context.Context, cmd *Command) Result {
	if err := ValidateArgs(cmd, 2); err != nil {
		return ErrorResult{Err: err.Error()}
	}
	rec, err := DecodeRecord(cmd.Rest(1))
	if err != nil {
		return ErrorResult{Err: err.Error()}
	}
	id, err := s.app.insert(ctx, cmd.Args[0], rec)
	if err != nil {
		return ErrorResult{Err: err.Error()}
	}
	return JSONResult{Value: map[string]int64{"id": id}, Pretty: false}
}

func (s *Shell) get(ctx context.Context, cmd *Command) Result {
	if err := ValidateArgs(cmd, 1); err != nil {
		return ErrorResult{Err: err.Error()}
	}
	results, err := s.app.get(ctx, []byte(cmd.Rest(0)))
	if err != nil {
		return ErrorResult{Err: err.Error()}
	}
	return JSONResult{Value: results, Pretty: s.pretty}
}

func (s *Shell) find(ctx context.Context, cmd *Command, bareStore bool) Result {
	if err := ValidateArgs(cmd, 2); err != nil {
		return ErrorResult{Err: err.Error()}
	}
	id, err := ParseID(cmd.Args[1])
	if err != nil {
		return ErrorResult{Err: err.Error()}
	}
	var with []string
	if len(cmd.Args) > 2 {
		with = SplitList(cmd.Args[2])
	}
	rec, err := s.app.find(ctx, cmd.Args[0], bareStore, id, with)
	if err != nil {
		return ErrorResult{Err: err.Error()}
	}
	return JSONResult{Value: rec, Pretty: s.pretty}
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".bunquery_history")
}

// Run reads commands from the terminal until .exit or EOF.
func (s *Shell) Run(ctx context.Context, out io.Writer) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	if path := historyPath(); path != "" {
		if f, err := os.Open(path); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
		defer func() {
			if f, err := os.Create(path); err == nil {
				line.WriteHistory(f)
				f.Close()
			}
		}()
	}

	fmt.Fprintln(out, "bunquery shell. Type '.help' for commands.")
	for {
		input, err := line.Prompt(prompt)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				fmt.Fprintln(out)
				return nil
			}
			return fmt.Errorf("error reading input: %w", err)
		}
		if strings.TrimSpace(input) == "" {
			continue
		}
		line.AppendHistory(input)

		cmd, err := Parse(input)
		if err != nil {
			ErrorResult{Err: err.Error()}.Print(out)
			fmt.Fprintln(out)
			continue
		}
		result := s.Execute(ctx, cmd)
		if result.IsExit() {
			return nil
		}
		result.Print(out)
		fmt.Fprintln(out)
	}
}
