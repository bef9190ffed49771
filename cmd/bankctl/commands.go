package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/MarkoPoloResearchLab/bankportal/internal/customers"
	"github.com/MarkoPoloResearchLab/bankportal/pkg/bankapi"
	"github.com/MarkoPoloResearchLab/bankportal/pkg/session"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	flagEmail     = "email"
	flagPassword  = "password"
	flagFirstName = "first-name"
	flagLastName  = "last-name"
)

func newLoginCommand(state *app) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and remember the credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := state.connect(cmd.Context()); err != nil {
				return err
			}
			ctx, cancel := state.remoteContext(cmd.Context())
			defer cancel()
			response, err := state.session.Login(ctx, email, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s <%s>\n", response.User.DisplayName(), response.User.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, flagEmail, "", "account email")
	cmd.Flags().StringVar(&password, flagPassword, "", "account password")
	return cmd
}

func newRegisterCommand(state *app) *cobra.Command {
	var request bankapi.RegisterRequest
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and log into it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := state.connect(cmd.Context()); err != nil {
				return err
			}
			ctx, cancel := state.remoteContext(cmd.Context())
			defer cancel()
			response, err := state.session.Register(ctx, request)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s <%s>\n", response.User.DisplayName(), response.User.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&request.FirstName, flagFirstName, "", "first name")
	cmd.Flags().StringVar(&request.LastName, flagLastName, "", "last name")
	cmd.Flags().StringVar(&request.Email, flagEmail, "", "account email")
	cmd.Flags().StringVar(&request.Password, flagPassword, "", fmt.Sprintf("account password (at least %d characters)", bankapi.MinimumPasswordLength))
	return cmd
}

// newLogoutCommand never validates the stored credential: the remote
// revocation is best-effort and the local logout always runs.
func newLogoutCommand(state *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := state.connect(cmd.Context()); err != nil {
				return err
			}
			if _, found, err := state.slot.Load(cmd.Context()); err == nil && found {
				ctx, cancel := state.remoteContext(cmd.Context())
				if err := state.client.RevokeCredential(ctx); err != nil {
					state.logger.Info("remote logout failed", zap.Error(err))
				}
				cancel()
			}
			state.session.Logout(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func newWhoAmICommand(state *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := state.restore(cmd.Context()); err != nil {
				return err
			}
			snapshot := state.session.Snapshot()
			out := cmd.OutOrStdout()
			if !snapshot.Authenticated() {
				fmt.Fprintln(out, "Not logged in")
				return nil
			}
			fmt.Fprintf(out, "%s <%s> (id %d)\n", snapshot.Identity.DisplayName(), snapshot.Identity.Email, snapshot.Identity.ID)
			if expiresAt, ok := session.CredentialExpiry(state.session.Credential()); ok {
				fmt.Fprintf(out, "Session expires %s\n", expiresAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newBalanceCommand(state *app) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the account balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireLogin(cmd, state); err != nil {
				return err
			}
			ctx, cancel := state.remoteContext(cmd.Context())
			defer cancel()
			balance, err := state.client.Balance(ctx)
			if err != nil {
				return err
			}
			formatted, err := balance.Format(state.cfg.Locale)
			if err != nil {
				formatted = balance.AccountBalance + " " + balance.Currency
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatted)
			return nil
		},
	}
}

func newProfileCommand(state *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or change the profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireLogin(cmd, state); err != nil {
				return err
			}
			ctx, cancel := state.remoteContext(cmd.Context())
			defer cancel()
			user, err := state.client.Profile(ctx)
			if err != nil {
				return err
			}
			printUser(cmd.OutOrStdout(), user)
			return nil
		},
	}
	cmd.AddCommand(newProfileUpdateCommand(state))
	return cmd
}

func newProfileUpdateCommand(state *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Change first name, last name or email",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireLogin(cmd, state); err != nil {
				return err
			}
			update := bankapi.ProfileUpdate{
				FirstName: changedFlag(cmd, flagFirstName),
				LastName:  changedFlag(cmd, flagLastName),
				Email:     changedFlag(cmd, flagEmail),
			}
			ctx, cancel := state.remoteContext(cmd.Context())
			defer cancel()
			user, err := state.session.UpdateProfile(ctx, update)
			if err != nil {
				return err
			}
			printUser(cmd.OutOrStdout(), user)
			return nil
		},
	}
	cmd.Flags().String(flagFirstName, "", "new first name")
	cmd.Flags().String(flagLastName, "", "new last name")
	cmd.Flags().String(flagEmail, "", "new email")
	return cmd
}

func newCustomersCommand(state *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "customers",
		Short: "Demo customer directory",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List demo customers with balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := customers.NewFixture(customers.DemoCustomers()).List(cmd.Context())
			if err != nil {
				return err
			}
			writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "ID\tNAME\tEMAIL\tBALANCE\tTIER")
			for _, customer := range list {
				formatted, err := customer.Balance().Format(state.cfg.Locale)
				if err != nil {
					formatted = customer.Balance().AccountBalance
				}
				fmt.Fprintf(writer, "%d\t%s %s\t%s\t%s\t%s\n", customer.ID, customer.FirstName, customer.LastName, customer.Email, formatted, customer.Badge())
			}
			return writer.Flush()
		},
	})
	return cmd
}

func requireLogin(cmd *cobra.Command, state *app) error {
	if err := state.restore(cmd.Context()); err != nil {
		return err
	}
	if !state.session.Snapshot().Authenticated() {
		return fmt.Errorf("%w: run bankctl login first", session.ErrNotAuthenticated)
	}
	return nil
}

func changedFlag(cmd *cobra.Command, name string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	value, err := cmd.Flags().GetString(name)
	if err != nil {
		return nil
	}
	value = strings.TrimSpace(value)
	return &value
}

func printUser(out io.Writer, user bankapi.User) {
	fmt.Fprintf(out, "ID:         %d\n", user.ID)
	fmt.Fprintf(out, "Name:       %s\n", user.DisplayName())
	fmt.Fprintf(out, "Email:      %s\n", user.Email)
	if user.CreatedAt != "" {
		fmt.Fprintf(out, "Member since %s\n", user.CreatedAt)
	}
}
