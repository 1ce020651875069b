package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cognicore/expertkb/pkg/expertkb/internalerr"
)

func newSnapshotCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Manage named snapshots in the SQLite archive",
	}

	archived := func(c *cobra.Command, mutates bool) *cobra.Command {
		c.Annotations = map[string]string{annotationArchive: "true"}
		if mutates {
			c.Annotations[annotationMutates] = "true"
		}
		return c
	}

	cmd.AddCommand(
		archived(&cobra.Command{
			Use:   "save <name>",
			Short: "Save the current state under a name",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.sys.SaveSnapshot(a.context(cmd), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "saved snapshot %q\n", args[0])
				return nil
			},
		}, false),
		archived(&cobra.Command{
			Use:   "load <name>",
			Short: "Replace the current state with a snapshot",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ok, err := a.sys.LoadSnapshot(a.context(cmd), args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("%w: snapshot %q", internalerr.ErrNotFound, args[0])
				}
				c := a.sys.Counts()
				fmt.Fprintf(cmd.OutOrStdout(), "loaded snapshot %q: %d rule(s), %d fact(s)\n", args[0], c.Rules, c.Facts)
				return nil
			},
		}, true),
		archived(&cobra.Command{
			Use:   "list",
			Short: "List saved snapshots, most recent first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				infos, err := a.sys.ListSnapshots(a.context(cmd))
				if err != nil {
					return err
				}
				if a.asJSON {
					return a.print(cmd, "", infos)
				}
				if len(infos) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No snapshots found")
					return nil
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintf(w, "NAME\tSIZE\tSAVED\n")
				for _, info := range infos {
					fmt.Fprintf(w, "%s\t%d\t%s\n", info.Name, info.Size, info.SavedAt.Format("2006-01-02 15:04:05"))
				}
				return w.Flush()
			},
		}, false),
		archived(&cobra.Command{
			Use:   "delete <name>",
			Short: "Delete a snapshot",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ok, err := a.sys.DeleteSnapshot(a.context(cmd), args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("%w: snapshot %q", internalerr.ErrNotFound, args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted snapshot %q\n", args[0])
				return nil
			},
		}, false),
	)
	return cmd
}
