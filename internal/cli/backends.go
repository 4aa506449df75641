package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

type backendEntry struct {
	Name       string `json:"name"`
	Configured bool   `json:"configured"`
}

// NewBackendsCommand creates the backends command.
func NewBackendsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List the registered runtime backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(rootOpts, cmd, false)
			if err != nil {
				return err
			}

			names := e.registry.Names()
			entries := make([]backendEntry, len(names))
			for i, name := range names {
				entries[i] = backendEntry{Name: name, Configured: name == e.cfg.Backend}
			}

			if e.out.Format == "json" {
				return e.out.Success(entries)
			}
			var sb strings.Builder
			for _, b := range entries {
				mark := " "
				if b.Configured {
					mark = "*"
				}
				sb.WriteString(mark + " " + b.Name + "\n")
			}
			return e.out.Success(sb.String())
		},
	}
}
