package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/FLClab/TiffWrapper/internal/model"
	"github.com/FLClab/TiffWrapper/internal/store"
)

// CallsOptions holds flags for the calls command.
type CallsOptions struct {
	*RootOptions
	Limit  int
	Offset int
}

// callsResult is the JSON payload of the calls command.
type callsResult struct {
	Calls []*model.CallRecord `json:"calls"`
	Total int                 `json:"total"`
}

// NewCallsCommand creates the calls command.
func NewCallsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CallsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "calls",
		Short: "List recorded calls from the call journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCalls(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of calls to list")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "number of calls to skip")

	return cmd
}

func runCalls(cmd *cobra.Command, opts *CallsOptions) error {
	e, err := loadEnv(opts.RootOptions, cmd, false)
	if err != nil {
		return err
	}
	if opts.Limit < 1 || opts.Offset < 0 {
		return e.out.Fail(ExitCommandError, ErrCodeGeneric,
			fmt.Sprintf("invalid paging: limit %d, offset %d", opts.Limit, opts.Offset), nil)
	}

	s, err := store.NewSQLiteStore(e.cfg.DBPath)
	if err != nil {
		return e.out.Fail(ExitFailure, ErrCodeStore, "open call journal", err)
	}
	defer s.Close()

	calls, total, err := s.ListCalls(cmd.Context(), opts.Limit, opts.Offset)
	if err != nil {
		return e.out.Fail(ExitFailure, ErrCodeStore, "list calls", err)
	}
	if calls == nil {
		calls = []*model.CallRecord{}
	}

	if e.out.Format == "json" {
		return e.out.Success(callsResult{Calls: calls, Total: total})
	}
	return e.out.Success(formatCalls(calls, total))
}

func formatCalls(calls []*model.CallRecord, total int) string {
	var sb strings.Builder
	tw := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tOP\tSTATUS\tDURATION\tCREATED\tPATH")
	for _, c := range calls {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%dms\t%s\t%s\n",
			c.ID, c.Op, c.Status, c.DurationMS, c.CreatedAt.Format(time.RFC3339), c.Path)
	}
	tw.Flush()
	fmt.Fprintf(&sb, "%d of %d calls\n", len(calls), total)
	return sb.String()
}
