package main

import (
	"os"

	"github.com/spf13/cobra"
)

// defaultConfigPath is used when neither --config nor ENTRANCE_CONFIG is set.
const defaultConfigPath = "config.yml"

// options holds the command-line overrides.
type options struct {
	configPath string
	port       int
	addr       string
	debug      bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "entrance",
		Short: "Entrance is a websocket gateway to network devices",
		Long: `Entrance serves a web client and, for each websocket session, runs the
features the client starts: CLI and NETCONF sessions to routers, syslog
streams, target groups and persisted client state.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("config") {
				opts.configPath = configPath()
			}
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "config file")
	flags.IntVarP(&opts.port, "port", "p", 0, "override port")
	flags.StringVarP(&opts.addr, "addr", "a", "", "override bind address")
	flags.BoolVarP(&opts.debug, "debug", "d", false, "log at debug level")

	cmd.AddCommand(newVersionCmd())
	return cmd
}

// configPath returns ENTRANCE_CONFIG if set, otherwise the default.
func configPath() string {
	if path := os.Getenv("ENTRANCE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
