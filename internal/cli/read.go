package cli

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/FLClab/TiffWrapper/internal/bridge"
	"github.com/FLClab/TiffWrapper/internal/model"
)

// ReadOptions holds flags for the read command.
type ReadOptions struct {
	*RootOptions
	Summary bool
}

// NewReadCommand creates the read command.
func NewReadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "read FILE",
		Short: "Read every series of a file into arrays",
		Long: `Read loads every series of FILE and prints one entry per series.

Text output lists the series name, dtype and shape. JSON output includes
the raw little-endian pixel data (base64) unless --summary is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(cmd, opts, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.Summary, "summary", false, "omit pixel data from JSON output")

	return cmd
}

func runRead(cmd *cobra.Command, opts *ReadOptions, path string) error {
	e, err := loadEnv(opts.RootOptions, cmd, false)
	if err != nil {
		return err
	}
	h, err := e.newHandle()
	if err != nil {
		return err
	}
	defer e.stopHandle(h)

	var bundle model.ImageBundle
	err = bridge.WithReader(h, func(r *bridge.Reader) error {
		var rerr error
		bundle, rerr = r.Read(cmd.Context(), path)
		return rerr
	})
	if err != nil {
		return e.callFailure(err)
	}
	e.out.VerboseLog("read %d series from %s", len(bundle), path)

	if e.out.Format == "json" {
		if opts.Summary {
			for name, arr := range bundle {
				arr.Data = nil
				bundle[name] = arr
			}
		}
		return e.out.Success(bundle)
	}
	return e.out.Success(formatBundle(bundle))
}

func formatBundle(bundle model.ImageBundle) string {
	var sb strings.Builder
	tw := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERIES\tDTYPE\tSHAPE")
	for _, name := range slices.Sorted(maps.Keys(bundle)) {
		arr := bundle[name]
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, arr.DType, formatShape(arr.Shape))
	}
	tw.Flush()
	return sb.String()
}

func formatShape(shape []int) string {
	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = fmt.Sprint(d)
	}
	return "(" + strings.Join(dims, ", ") + ")"
}

// NewMetadataCommand creates the metadata command.
func NewMetadataCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "metadata FILE",
		Short: "Print the metadata fields of every series of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMetadata(cmd, rootOpts, args[0])
		},
	}
}

func runMetadata(cmd *cobra.Command, opts *RootOptions, path string) error {
	e, err := loadEnv(opts, cmd, false)
	if err != nil {
		return err
	}
	h, err := e.newHandle()
	if err != nil {
		return err
	}
	defer e.stopHandle(h)

	md, err := bridge.NewReader(h).GetMetadata(cmd.Context(), path)
	if err != nil {
		return e.callFailure(err)
	}

	if e.out.Format == "json" {
		return e.out.Success(md)
	}
	return e.out.Success(formatMetadata(md))
}

func formatMetadata(md model.MetadataBundle) string {
	var sb strings.Builder
	for i, name := range slices.Sorted(maps.Keys(md)) {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "[%s]\n", name)
		fields := md[name]
		for _, key := range slices.Sorted(maps.Keys(fields)) {
			fmt.Fprintf(&sb, "%s = %v\n", key, fields[key])
		}
	}
	return sb.String()
}
