package cli

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rodworks/catalogsync/internal/catalog"
	"github.com/rodworks/catalogsync/internal/imports"
	"github.com/rodworks/catalogsync/internal/publish"
)

func newDiffCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "diff SUPPLIER",
		Short: "Create a run for a supplier and compute its diff inline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRuntime(cmd.Context(), func(rt *Runtime) error {
				run, err := rt.Differ.DiffSupplier(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), run, func(w io.Writer) {
					fmt.Fprintf(w, "run %d %s: %d adds, %d changes, %d deletes\n",
						run.ID, run.Status, run.Totals.Adds, run.Totals.Changes, run.Totals.Deletes)
				})
			})
		},
	}
}

func newApplyCommand(opts *RootOptions) *cobra.Command {
	var (
		kinds []string
		actor string
	)
	cmd := &cobra.Command{
		Use:   "apply RUN_ID",
		Short: "Apply a diffed run to the canonical catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseRunID(args[0])
			if err != nil {
				return err
			}
			parsed, err := imports.ParseKinds(kinds)
			if err != nil {
				return err
			}
			return opts.withRuntime(cmd.Context(), func(rt *Runtime) error {
				res, err := rt.Applier.Apply(cmd.Context(), runID, imports.ApplyOptions{Kinds: parsed, Actor: actor})
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), res, func(w io.Writer) {
					fmt.Fprintf(w, "run %d %s, %d deactivated\n", res.RunID, res.Status, res.Deactivated)
					for _, kind := range []catalog.Kind{catalog.KindAdd, catalog.KindChange, catalog.KindDelete} {
						if c, ok := res.Counts[kind]; ok {
							fmt.Fprintf(w, "  %-6s %d/%d applied\n", kind, c.Applied, c.Attempted)
						}
					}
					for _, rowErr := range res.Errors {
						fmt.Fprintf(w, "  ! %s %s: %s\n", rowErr.Code, rowErr.Reason, rowErr.Detail)
					}
				})
			})
		},
	}
	cmd.Flags().StringSliceVar(&kinds, "kinds", nil, "diff kinds to apply (add,change,delete); default all")
	cmd.Flags().StringVar(&actor, "actor", "catalogctl", "actor recorded in the audit trail")
	return cmd
}

func newPublishCommand(opts *RootOptions) *cobra.Command {
	var popts publish.Options
	cmd := &cobra.Command{
		Use:   "publish RUN_ID",
		Short: "Publish the approved items of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseRunID(args[0])
			if err != nil {
				return err
			}
			return opts.withRuntime(cmd.Context(), func(rt *Runtime) error {
				res, err := rt.Publisher.PublishRun(cmd.Context(), runID, popts)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), res, func(w io.Writer) {
					mode := "published"
					switch {
					case res.DryRun:
						mode = "dry run"
					case res.Estimated:
						mode = "estimated"
					}
					fmt.Fprintf(w, "run %d %s: created=%d updated=%d skipped=%d failed=%d\n",
						res.RunID, mode, res.Totals.Created, res.Totals.Updated, res.Totals.Skipped, res.Totals.Failed)
					keys := make([]string, 0, len(res.Detailed))
					for k := range res.Detailed {
						keys = append(keys, k)
					}
					sort.Strings(keys)
					for _, k := range keys {
						if res.Detailed[k] > 0 {
							fmt.Fprintf(w, "  %s=%d\n", k, res.Detailed[k])
						}
					}
				})
			})
		},
	}
	cmd.Flags().BoolVar(&popts.DryRun, "dry-run", false, "estimate totals without calling the storefront")
	cmd.Flags().StringVar(&popts.Shop, "shop", "", "publish to this stored shop session")
	return cmd
}

func newRunsCommand(opts *RootOptions) *cobra.Command {
	var filters imports.RunFilters
	var status string
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List import runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filters.Status = imports.RunStatus(status)
			if status != "" && !filters.Status.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}
			return opts.withRuntime(cmd.Context(), func(rt *Runtime) error {
				list, err := rt.Runs.ListRuns(cmd.Context(), filters)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), list, func(w io.Writer) {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "ID\tSUPPLIER\tSTATUS\tADDS\tCHANGES\tDELETES\tSTARTED")
					for _, run := range list.Runs {
						fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\t%s\n", run.ID, run.SupplierSlug, run.Status,
							run.Totals.Adds, run.Totals.Changes, run.Totals.Deletes, run.StartedAt.Format("2006-01-02 15:04"))
					}
					_ = tw.Flush()
				})
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by run status")
	cmd.Flags().StringVar(&filters.Supplier, "supplier", "", "filter by supplier slug")
	cmd.Flags().IntVar(&filters.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&filters.PerPage, "per-page", 20, "runs per page")
	return cmd
}

func newQueueCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show background queue depth",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRuntime(cmd.Context(), func(rt *Runtime) error {
				stats, err := rt.Queue.QueueStats(cmd.Context())
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), stats, func(w io.Writer) {
					for _, s := range stats {
						fmt.Fprintf(w, "%-8s pending=%d active=%d scheduled=%d retry=%d\n", s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry)
					}
				})
			})
		},
	}
}

func parseRunID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid run id %q", raw)
	}
	return id, nil
}
