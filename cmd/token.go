package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/frahmantamala/peerpay/internal/auth"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

var (
	tokenWalletID string
	tokenTTL      time.Duration
	pinCost       int
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an access token for a wallet",
	Long:  `Sign a bearer token with security.jwt_secret for calling the API as the given wallet`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, _ := mustLoad()

		ttl := cfg.Security.AccessTokenDuration
		if tokenTTL > 0 {
			ttl = tokenTTL
		}
		token, err := auth.NewJWTTokenGenerator(cfg.Security.JWTSecret, ttl).GenerateAccessToken(tokenWalletID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to mint token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token.Token)
		fmt.Fprintf(os.Stderr, "expires at %s\n", token.ExpiresAt.Format(time.RFC3339))
	},
}

var hashPINCmd = &cobra.Command{
	Use:   "hash-pin [pin]",
	Short: "Hash a payment PIN for security.payment_pin_hash",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		hash, err := auth.HashPIN(args[0], pinCost)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to hash pin: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(hash)
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenWalletID, "wallet", "", "wallet id the token acts for")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (defaults to security.access_token_duration)")
	_ = tokenCmd.MarkFlagRequired("wallet")

	hashPINCmd.Flags().IntVar(&pinCost, "cost", bcrypt.DefaultCost, "bcrypt cost")

	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(hashPINCmd)
}
