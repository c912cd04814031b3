package cli

import (
	"fmt"
	"text/tabwriter"

	"impfwatch/internal/registry"

	"github.com/spf13/cobra"
)

func subscribersCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscribers",
		Short: "Inspect the subscriber registry",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print every region and its subscribers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := openRegistry(cmd, opts.cfgPath)
			if err != nil {
				return err
			}
			defer reg.Close()

			regions := reg.List()
			if len(regions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no subscribers registered")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "REGION\tID\tNAME")
			for _, r := range regions {
				for _, s := range r.Subscribers {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Key, s.ID, s.Name)
				}
			}
			return tw.Flush()
		},
	})
	return cmd
}

func registrySubscriber(opts *rootOptions) registry.Subscriber {
	return registry.Subscriber{ID: opts.id, Name: opts.name}
}

func displayName(opts *rootOptions) string {
	if opts.name != "" {
		return opts.name
	}
	return opts.id
}
