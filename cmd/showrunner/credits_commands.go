package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"showrunner/internal/config"
	"showrunner/internal/ledger"
)

func newCreditsCommand(ctx *commandContext) *cobra.Command {
	creditsCmd := &cobra.Command{
		Use:   "credits",
		Short: "Inspect and adjust user credit balances",
	}

	creditsCmd.AddCommand(newCreditsBalanceCommand(ctx))
	creditsCmd.AddCommand(newCreditsGrantCommand(ctx))

	return creditsCmd
}

func newCreditsBalanceCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <user-id>",
		Short: "Show a user's current credit balance and spend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLedger(func(cfg *config.Config, store *ledger.Store) error {
				userID := strings.TrimSpace(args[0])
				balance, err := store.CreditBalance(cmd.Context(), userID)
				if err != nil {
					return err
				}
				spend, err := store.SpendToday(cmd.Context(), userID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "User:        %s\n", userID)
				fmt.Fprintf(out, "Balance:     $%.2f\n", balance)
				fmt.Fprintf(out, "Spend today: $%.2f\n", spend)
				return nil
			})
		},
	}
}

func newCreditsGrantCommand(ctx *commandContext) *cobra.Command {
	var reference string

	cmd := &cobra.Command{
		Use:   "grant <user-id> <amount-usd>",
		Short: "Grant credits to a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("parse amount %q: %w", args[1], err)
			}
			if amount <= 0 {
				return fmt.Errorf("amount must be positive, got %.2f", amount)
			}

			return ctx.withLedger(func(cfg *config.Config, store *ledger.Store) error {
				userID := strings.TrimSpace(args[0])
				ref := strings.TrimSpace(reference)
				if ref == "" {
					ref = "cli-" + uuid.NewString()
				}
				if err := store.GrantCredit(cmd.Context(), userID, amount, ref); err != nil {
					return err
				}
				balance, err := store.CreditBalance(cmd.Context(), userID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Granted $%.2f to %s (balance $%.2f, ref %s)\n", amount, userID, balance, ref)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&reference, "reference", "", "Billing reference for the grant")
	return cmd
}
