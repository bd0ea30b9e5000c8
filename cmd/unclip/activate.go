package main

import (
	"github.com/spf13/cobra"

	"github.com/hazyhaar/unclip/background"
)

func newActivateCmd(a *app) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "activate [license-key]",
		Short: "Activate premium with a license key or a paid checkout session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := a.openLocal()
			if err != nil {
				return err
			}
			defer loc.Close()
			ctx := cmd.Context()

			if sessionID != "" {
				resp, err := loc.router.Call(ctx, background.TypeVerifyPayment, map[string]string{"sessionId": sessionID})
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(append(resp, '\n'))
				return err
			}
			if len(args) == 0 {
				return cmd.Usage()
			}
			if _, err := loc.router.Call(ctx, background.TypeActivatePremium, map[string]string{"licenseKey": args[0]}); err != nil {
				return err
			}
			cmd.Println("premium activated")
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "checkout session id to verify with the backend")
	return cmd
}
