// Package main is the entry point for the reelrate admin CLI.
// It provides operator commands that do not belong in the HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/reelrate/reelrate/internal/auth"
	"github.com/reelrate/reelrate/internal/config"
	"github.com/reelrate/reelrate/internal/logging"
	"github.com/reelrate/reelrate/internal/repository/factory"
	"github.com/reelrate/reelrate/internal/service"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "reelrate-admin",
		Short:         "Administrative commands for reelrate",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	root.AddCommand(newSecretCmd(), newUserCmd(&configPath), newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "reelrate-admin: %v\n", err)
		os.Exit(1)
	}
}

func newSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gen-secret",
		Short: "Generate a random value for auth.jwt_secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := auth.GenerateSecret()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), secret)
			return nil
		},
	}
}

func newUserCmd(configPath *string) *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}

	var input service.RegisterInput
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := factory.Open(ctx, cfg.Database, logger)
			if err != nil {
				return err
			}
			defer store.Database.Close()

			cost := cfg.Auth.BcryptCost
			if cost == 0 {
				cost = bcrypt.DefaultCost
			}
			// Registration never issues tokens, so no issuer is needed.
			svc := service.NewAuthService(store.Repos.Users, nil, cost, logger)
			user, err := svc.Register(ctx, input)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s (%s, %s)\n", user.ID, user.Username, user.Email)
			return nil
		},
	}
	create.Flags().StringVar(&input.Username, "username", "", "username (3-50 characters)")
	create.Flags().StringVar(&input.Email, "email", "", "email address")
	create.Flags().StringVar(&input.Password, "password", "", "password (at least 6 characters)")
	_ = create.MarkFlagRequired("username")
	_ = create.MarkFlagRequired("email")
	_ = create.MarkFlagRequired("password")

	userCmd.AddCommand(create)
	return userCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "reelrate admin CLI\nVersion: %s\nBuild Time: %s\nGit Commit: %s\n",
				Version, BuildTime, GitCommit)
		},
	}
}
