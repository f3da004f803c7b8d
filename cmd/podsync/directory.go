package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/podsync/pkg/connector/shared/podioconn"
	"github.com/ajitpratap0/podsync/pkg/podio"
)

func printEntries(w io.Writer, entries []podio.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\n", e.ID, e.Name)
	}
	return tw.Flush()
}

// withConnection opens a connection for the duration of fn.
func (c *cli) withConnection(cmd *cobra.Command, fn func(conn *podioconn.Connection) error) error {
	conn, err := c.connect(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			c.log.Warn("failed to close connection", zap.Error(err))
		}
	}()
	return fn(conn)
}

func (c *cli) orgsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "orgs",
		Short: "List the organizations of the authenticated user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withConnection(cmd, func(conn *podioconn.Connection) error {
				orgs, err := conn.Directory.Orgs(cmd.Context())
				if err != nil {
					return err
				}
				return printEntries(cmd.OutOrStdout(), orgs)
			})
		},
	}
}

func (c *cli) spacesCommand() *cobra.Command {
	var orgID int64
	cmd := &cobra.Command{
		Use:   "spaces",
		Short: "List the spaces of an organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlag("org", orgID); err != nil {
				return err
			}
			return c.withConnection(cmd, func(conn *podioconn.Connection) error {
				spaces, err := conn.Directory.Spaces(cmd.Context(), orgID)
				if err != nil {
					return err
				}
				return printEntries(cmd.OutOrStdout(), spaces)
			})
		},
	}
	cmd.Flags().Int64Var(&orgID, "org", 0, "Organization id (required)")
	return cmd
}

func (c *cli) appsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "apps",
		Short: "List the apps of the space given by --space-id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withConnection(cmd, func(conn *podioconn.Connection) error {
				spaceID := int64(conn.Config.SpaceID)
				if err := requireFlag("space-id", spaceID); err != nil {
					return err
				}
				apps, err := conn.Directory.Apps(cmd.Context(), spaceID)
				if err != nil {
					return err
				}
				return printEntries(cmd.OutOrStdout(), apps)
			})
		},
	}
}

func (c *cli) viewsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "views",
		Short: "List the views of the app given by --app-id or --app",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withConnection(cmd, func(conn *podioconn.Connection) error {
				appID, err := conn.ResolveApp(cmd.Context())
				if err != nil {
					return err
				}
				views, err := conn.Directory.Views(cmd.Context(), appID)
				if err != nil {
					return err
				}
				return printEntries(cmd.OutOrStdout(), views)
			})
		},
	}
}

func (c *cli) statusCommand() *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Post a status message to the space given by --space-id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withConnection(cmd, func(conn *podioconn.Connection) error {
				spaceID := int64(conn.Config.SpaceID)
				if err := requireFlag("space-id", spaceID); err != nil {
					return err
				}
				if err := conn.Directory.AddStatusMessage(cmd.Context(), spaceID, text); err != nil {
					return err
				}
				c.log.Info("status posted", zap.Int64("space_id", spaceID))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "Message text (required)")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}
