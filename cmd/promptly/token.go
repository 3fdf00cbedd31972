package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"promptly-backend/internal/middleware"
)

var tokenTTL time.Duration

// tokenCmd mints identity tokens for a local server that shares its
// AUTH_JWT_SECRET with the caller. Hosted deployments get tokens from the
// identity provider instead.
var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Mint a development identity token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, err := requireSetting("jwt-secret")
		if err != nil {
			return err
		}

		token, err := middleware.NewJWTAuth(secret, viper.GetString("jwt-issuer")).GenerateToken(args[0], tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	flags := tokenCmd.Flags()
	flags.String("jwt-secret", "", "HMAC secret the server verifies tokens with")
	flags.String("jwt-issuer", "", "issuer claim the server expects, if any")
	flags.DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	viper.BindPFlag("jwt-secret", flags.Lookup("jwt-secret"))
	viper.BindPFlag("jwt-issuer", flags.Lookup("jwt-issuer"))

	rootCmd.AddCommand(tokenCmd)
}
