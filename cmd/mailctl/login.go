package main

import (
	"context"
	"time"

	"github.com/matheus3301/mailctl/internal/app"
	"github.com/matheus3301/mailctl/internal/auth"
	"github.com/matheus3301/mailctl/internal/config"
	"github.com/matheus3301/mailctl/internal/graph"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newLoginCmd(opts *globalOptions) *cobra.Command {
	var noQR bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to Microsoft Graph with the device-code flow",
		Long: `Sign in with the device-code flow: open the printed URL on any device,
enter the code and grant mailctl read access to your mail. A previous sign-in
is replaced once the new one succeeds.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := opts.printer(cmd)
			var (
				cfg    *config.Config
				mgr    *auth.Manager
				client *graph.Client
				logger *zap.Logger
			)
			return app.Run(cmd.Context(), opts.params(), func(ctx context.Context) error {
				if err := cfg.RequireClientID(); err != nil {
					return err
				}
				sess, err := mgr.Login(ctx, func(dc auth.DeviceCode) {
					p.Summaryf("To sign in, open %s and enter the code %s", dc.VerificationURI, dc.UserCode)
					if !noQR {
						target := dc.VerificationURI
						if dc.VerificationURIComplete != "" {
							target = dc.VerificationURIComplete
						}
						p.Block("\n" + renderQR(target))
					}
					if !dc.ExpiresAt.IsZero() {
						p.Infof("Waiting for sign-in (code expires %s)...", relative(dc.ExpiresAt, time.Now()))
					}
				})
				if err != nil {
					return err
				}

				who := sess.Account
				if user, err := client.Me(ctx, sess); err != nil {
					logger.Warn("profile lookup failed", zap.Error(err))
				} else if user.DisplayName != "" {
					who = user.DisplayName + " <" + user.Address() + ">"
				}
				p.Summaryf("Signed in as %s.", who)
				p.Infof("Access token expires %s.", relative(sess.ExpiresAt(), time.Now()))
				return nil
			}, &cfg, &mgr, &client, &logger)
		},
	}

	cmd.Flags().BoolVar(&noQR, "no-qr", false, "do not draw a QR code of the verification URL")
	return cmd
}

func newLogoutCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored identity and cached tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := opts.printer(cmd)
			var mgr *auth.Manager
			return app.Run(cmd.Context(), opts.params(), func(ctx context.Context) error {
				removed, err := mgr.Logout(ctx)
				if err != nil {
					return err
				}
				if !removed {
					p.Summaryf("No active session found. You are not logged in.")
					return nil
				}
				if mgr.State() == auth.IdentityInvalid {
					if err := mgr.Acknowledge(); err != nil {
						return err
					}
				}
				p.Summaryf("Logged out. Your authentication data has been removed.")
				return nil
			}, &mgr)
		},
	}
}
