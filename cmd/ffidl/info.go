package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wippyai/dynffi/manifest"
	"github.com/wippyai/dynffi/types"
	"github.com/wippyai/dynffi/value"
)

var infoCmd = &cobra.Command{
	Use:   "info <option> [args...]",
	Short: "Answer an ffidl::info query for the configured engine",
	Long: `Answer an ffidl::info query, e.g. "ffidl info sizeof long" or
"ffidl info canonical-host", after the configured preloads have run.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(_ context.Context, s *session) error {
			v, err := s.shell.Client().Info(args[0], args[1:]...)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), v)
			return nil
		})
	},
}

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "Inspect and build typedef manifests",
}

var typesShowCmd = &cobra.Command{
	Use:   "show <manifest>",
	Short: "Print the typedefs of a manifest laid out for the configured engine",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		m, err := manifest.Decode(f)
		if err != nil {
			return err
		}

		return withSession(cmd, func(_ context.Context, s *session) error {
			r := s.shell.Client().Registry()
			if _, err := m.Apply(r); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "# written for %s, laid out for %s\n", m.Host, r.Platform().Host)
			for _, d := range m.Defs {
				t, ok := r.Lookup(d.Name)
				if !ok {
					continue
				}
				fmt.Fprintf(w, "%s {%s} size %d align %d format %s\n",
					d.Name, value.FormatList(d.Elements), t.Size, t.Align,
					types.Format(t, r.Platform().BigEndian))
			}
			return nil
		})
	},
}

var typesBuildCmd = &cobra.Command{
	Use:   "build <script> <manifest>",
	Short: "Run a script and save the typedefs it defines",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session) error {
			if err := s.runFile(ctx, args[0], nil); err != nil {
				return err
			}
			r := s.shell.Client().Registry()
			if err := manifest.Save(args[1], r); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %d typedefs to %s\n", len(r.Defs()), args[1])
			return nil
		})
	},
}

func init() {
	typesCmd.AddCommand(typesShowCmd)
	typesCmd.AddCommand(typesBuildCmd)
}
