package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/angel-console/internal/angel"
)

type credentialFlags struct {
	email    string
	password string
}

func (f *credentialFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.email, "email", "", "Account email")
	cmd.Flags().StringVar(&f.password, "password", "", "Account password (prompted when empty)")
}

// credentials fills missing fields from in, one line each.
func (f *credentialFlags) credentials(in io.Reader, out io.Writer) (angel.Credentials, error) {
	r := bufio.NewReader(in)
	email, err := promptIfEmpty(r, out, "Email: ", f.email)
	if err != nil {
		return angel.Credentials{}, err
	}
	password, err := promptIfEmpty(r, out, "Password: ", f.password)
	if err != nil {
		return angel.Credentials{}, err
	}
	return angel.Credentials{Email: email, Password: password}, nil
}

func promptIfEmpty(r *bufio.Reader, out io.Writer, prompt, value string) (string, error) {
	if value != "" {
		return value, nil
	}
	fmt.Fprint(out, prompt)
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(strings.ToLower(prompt), ": "), err)
	}
	return strings.TrimSpace(line), nil
}

func signInCmd(opts *rootOptions) *cobra.Command {
	var flags credentialFlags
	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in and store the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			creds, err := flags.credentials(cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if _, err := a.client.SignIn(ctx, creds); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Signed in as %s.\n", creds.Email)
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func signUpCmd(opts *rootOptions) *cobra.Command {
	var flags credentialFlags
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			creds, err := flags.credentials(cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.client.SignUp(ctx, creds); err != nil {
					return err
				}
				fmt.Fprintln(a.out, "Account created. Check your email to confirm it, then sign in.")
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func resetPasswordCmd(opts *rootOptions) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Send a password reset email",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.client.ResetPassword(ctx, email); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "If %s has an account, a reset link is on its way.\n", email)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func logoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.client.Logout(ctx); err != nil {
					return err
				}
				fmt.Fprintln(a.out, "Signed out.")
				return nil
			})
		},
	}
}

func statusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a session is stored",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				st, err := a.client.Status(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, formatStatus(st, a.cfg.Backend.BaseURL))
				return nil
			})
		},
	}
}

func formatStatus(st angel.SessionStatus, backend string) string {
	if !st.Authenticated {
		return fmt.Sprintf("Not signed in (%s).", backend)
	}
	if st.ExpiresAt == 0 {
		return fmt.Sprintf("Signed in (%s).", backend)
	}
	exp := time.Unix(st.ExpiresAt, 0)
	return fmt.Sprintf("Signed in (%s). Access token expires %s.", backend, exp.Format(time.RFC1123))
}
