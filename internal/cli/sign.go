package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newSignCommand(build BuildFunc, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sign",
		Short: "Generate a request signature and print it with its device id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, logger, err := open(cmd, build, opts)
			if err != nil {
				return err
			}
			defer backend.Close()
			defer logger.Sync()

			cred, err := backend.Credential(cmd.Context())
			if err != nil {
				return err
			}

			w := stdout(cmd)
			fmt.Fprintf(w, "sign:        %s\n", cred.Signature)
			fmt.Fprintf(w, "yq_bid:      %s\n", cred.DeviceID)
			fmt.Fprintf(w, "configs_md5: %s\n", cred.BundleMD5)
			fmt.Fprintf(w, "expires_at:  %s\n", cred.ExpiresAt().Format(time.RFC3339))
			return nil
		},
	}
}
