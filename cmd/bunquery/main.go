// Command bunquery inserts and queries records from the command line.
//
//	bunquery --config bunquery.yaml insert users '{"name":"Alice","age":30}'
//	bunquery get '{"model":"users","where":{"age":{"$gte":30}},"with":{"posts":null}}'
//	bunquery find users 1 --with posts
//	bunquery shell
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	compact    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "bunquery",
		Short:         "Query keyed record stores with eager relationship loading",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (yaml, json or toml)")
	rootCmd.PersistentFlags().BoolVar(&opts.compact, "compact", false, "print JSON on one line")

	rootCmd.AddCommand(
		newInsertCmd(opts),
		newGetCmd(opts),
		newFindCmd(opts),
		newModelsCmd(opts),
		newShellCmd(opts),
	)
	return rootCmd
}

// withApp opens the app for the duration of fn.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx, opts.configPath)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newInsertCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "insert <store> <json>",
		Short: "Insert a record and print its assigned id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := DecodeRecord(args[1])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				id, err := a.insert(ctx, args[0], rec)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]int64{"id": id}, false)
			})
		},
	}
}

func newGetCmd(opts *rootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "get [document]",
		Short: "Run a JSON query document and print the matching records",
		Long: `Run a JSON query document. The document is read from the argument, from
--file, or from stdin when the argument is "-".`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(cmd.InOrStdin(), file, args)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				results, err := a.get(ctx, doc)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), results, !opts.compact)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the query document from a file")
	return cmd
}

func readDocument(stdin io.Reader, file string, args []string) ([]byte, error) {
	switch {
	case file != "":
		return os.ReadFile(file)
	case len(args) == 1 && args[0] == "-":
		return io.ReadAll(stdin)
	case len(args) == 1:
		return []byte(args[0]), nil
	}
	return nil, fmt.Errorf("a query document is required")
}

func newFindCmd(opts *rootOptions) *cobra.Command {
	var (
		with      string
		bareStore bool
	)
	cmd := &cobra.Command{
		Use:   "find <model> <id>",
		Short: "Fetch one record by id, optionally with relations",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := ParseID(args[1])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				rec, err := a.find(ctx, args[0], bareStore, id, SplitList(with))
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), rec, !opts.compact)
			})
		},
	}
	cmd.Flags().StringVarP(&with, "with", "w", "", "comma-separated relations to load")
	cmd.Flags().BoolVar(&bareStore, "store", false, "treat the first argument as a store name instead of a model")
	return cmd
}

func newModelsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List configured models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				names := a.client.Registry().Models()
				if len(names) == 0 {
					return nil
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), strings.Join(names, "\n"))
				return err
			})
		},
	}
}

func newShellCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				sh := NewShell(a)
				sh.pretty = !opts.compact
				return sh.Run(ctx, cmd.OutOrStdout())
			})
		},
	}
}
