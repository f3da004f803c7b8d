package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ajitpratap0/podsync/pkg/connector/core"
	"github.com/ajitpratap0/podsync/pkg/connector/registry"
	"github.com/ajitpratap0/podsync/pkg/connector/shared/podioconn"
	"github.com/ajitpratap0/podsync/pkg/logger"

	// Register the podio connectors
	_ "github.com/ajitpratap0/podsync/pkg/connector/destinations/podio"
	_ "github.com/ajitpratap0/podsync/pkg/connector/sources/podio"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	podioconn.Version = version
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	app := newCLI()

	root := &cobra.Command{
		Use:   "podsync",
		Short: "podsync - read and write Podio apps, members and contacts as flat records",
		Long: `podsync exposes Podio apps, space members and space contacts as flat,
typed records. It reads them in full or by key and applies row changes back
as item creates, updates and deletes.

Settings come from a YAML file (--config), PODSYNC_* environment variables
and command line flags, in increasing order of precedence.`,
		SilenceUsage:       true,
		PersistentPreRunE:  app.setup,
		PersistentPostRunE: app.teardown,
	}
	app.bindPersistentFlags(root)

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "podsync v%s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "Go version: %s\n", runtime.Version())
			fmt.Fprintf(cmd.OutOrStdout(), "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available connectors",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Available Source Connectors:")
			for _, name := range registry.ListSources() {
				printConnector(cmd, core.ConnectorTypeSource, name)
			}
			fmt.Fprintln(out, "\nAvailable Destination Connectors:")
			for _, name := range registry.ListDestinations() {
				printConnector(cmd, core.ConnectorTypeDestination, name)
			}
		},
	})

	root.AddCommand(
		app.authCommand(),
		app.orgsCommand(),
		app.spacesCommand(),
		app.appsCommand(),
		app.viewsCommand(),
		app.schemaCommand(),
		app.exportSchemaCommand(),
		app.statusCommand(),
		app.readCommand(),
		app.writeCommand(),
	)
	return root
}

func printConnector(cmd *cobra.Command, t core.ConnectorType, name string) {
	meta, ok := registry.Info(t, name)
	if !ok {
		fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", name)
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "  - %-16s %s %v\n", name, meta.Description, meta.Capabilities)
}
