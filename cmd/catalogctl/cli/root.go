// Package cli implements the catalogctl operator commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/rodworks/catalogsync/internal/imports"
	"github.com/rodworks/catalogsync/internal/publish"
)

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// Differ creates and diffs a run for a supplier.
type Differ interface {
	DiffSupplier(ctx context.Context, supplierSlug string) (imports.ImportRun, error)
}

// Applier applies a diffed run.
type Applier interface {
	Apply(ctx context.Context, runID int64, opts imports.ApplyOptions) (imports.ApplyResult, error)
}

// Publisher publishes the approved items of a run.
type Publisher interface {
	PublishRun(ctx context.Context, runID int64, opts publish.Options) (publish.Result, error)
}

// RunLister lists runs.
type RunLister interface {
	ListRuns(ctx context.Context, filters imports.RunFilters) (imports.RunList, error)
}

// QueueInspector reports queue depth.
type QueueInspector interface {
	QueueStats(ctx context.Context) ([]QueueStats, error)
}

// Runtime is the set of backends a command works against. Close releases
// connections opened for it.
type Runtime struct {
	Differ    Differ
	Applier   Applier
	Publisher Publisher
	Runs      RunLister
	Queue     QueueInspector
	Close     func() error
}

// Opener connects the backends lazily so --help never dials anything.
type Opener func(ctx context.Context) (*Runtime, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string
	open   Opener
}

// NewRootCommand creates the catalogctl root command.
func NewRootCommand(open Opener) *cobra.Command {
	opts := &RootOptions{open: open}

	cmd := &cobra.Command{
		Use:           "catalogctl",
		Short:         "Operate supplier catalog sync runs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newDiffCommand(opts))
	cmd.AddCommand(newApplyCommand(opts))
	cmd.AddCommand(newPublishCommand(opts))
	cmd.AddCommand(newRunsCommand(opts))
	cmd.AddCommand(newQueueCommand(opts))
	return cmd
}

// withRuntime opens the runtime, runs fn and closes the runtime.
func (o *RootOptions) withRuntime(ctx context.Context, fn func(*Runtime) error) (err error) {
	rt, err := o.open(ctx)
	if err != nil {
		return err
	}
	if rt.Close != nil {
		defer func() {
			if closeErr := rt.Close(); err == nil {
				err = closeErr
			}
		}()
	}
	return fn(rt)
}

// print writes v as indented JSON, or calls text for the text format.
func (o *RootOptions) print(w io.Writer, v any, text func(io.Writer)) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
