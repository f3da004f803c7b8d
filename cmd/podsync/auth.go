package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/podsync/pkg/clients"
	"github.com/ajitpratap0/podsync/pkg/connector/shared/podioconn"
	"github.com/ajitpratap0/podsync/pkg/errors"
)

func (c *cli) authCommand() *cobra.Command {
	var code, redirectURI string
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Exchange an authorization code for tokens and store them in the registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withConnection(cmd, func(conn *podioconn.Connection) error {
				if conn.Config.RegistryPath == "" {
					c.log.Warn("no --registry set; tokens are kept for this run only")
				}
				if err := conn.Tokens.ExchangeCode(cmd.Context(), code, redirectURI); err != nil {
					return err
				}
				if conn.Tokens.State(clients.ModeUser) != clients.StateValid {
					return errors.New(errors.ErrorTypeAuthentication, "no token after code exchange")
				}
				c.log.Info("authorized", zap.String("registry", conn.Config.RegistryPath))
				fmt.Fprintln(cmd.OutOrStdout(), "authorized")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "Authorization code (required)")
	cmd.Flags().StringVar(&redirectURI, "redirect-uri", "", "Redirect URI registered for the client")
	_ = cmd.MarkFlagRequired("code")
	return cmd
}
