package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/portalauth"
)

// headerLine renders the portal navigation header for sess.
func headerLine(sess *portalauth.Session) string {
	if sess == nil {
		return "[ Sign in ]"
	}
	return fmt.Sprintf("[ %s v ]  Account | Sign out", displayName(sess))
}

func displayName(sess *portalauth.Session) string {
	switch {
	case sess.DisplayName != "":
		return sess.DisplayName
	case sess.Email != "":
		return sess.Email
	default:
		return sess.ID
	}
}

// failureMessage is the inline text shown for a failed sign-up or sign-in.
func failureMessage(err error) string {
	ae := portalauth.AsAuthError(err)
	if ae == nil {
		return err.Error()
	}
	switch ae.Kind {
	case portalauth.KindInvalidCredentials:
		return "Incorrect email or password."
	case portalauth.KindConflict:
		return "An account with this email already exists."
	case portalauth.KindConfirmationPending:
		return "Check your inbox to confirm your email, then sign in."
	case portalauth.KindNetwork:
		return "Could not reach the sign-in service. Try again."
	default:
		return ae.Message
	}
}

func newSignUpCmd(s *settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			name, _ := cmd.Flags().GetString("name")

			rt, err := s.open(cmd, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			sess, err := rt.engine.SignUp(cmd.Context(), email, password, name)
			return reportSignIn(cmd.OutOrStdout(), sess, err)
		},
	}
	cmd.Flags().String("email", "", "account email")
	cmd.Flags().String("password", "", "account password")
	cmd.Flags().String("name", "", "display name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newSignInCmd(s *settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in with email and password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")

			rt, err := s.open(cmd, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			sess, err := rt.engine.SignIn(cmd.Context(), email, password)
			return reportSignIn(cmd.OutOrStdout(), sess, err)
		},
	}
	cmd.Flags().String("email", "", "account email")
	cmd.Flags().String("password", "", "account password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

// reportSignIn prints the outcome inline. A superseded result still carries
// the session the provider returned.
func reportSignIn(w io.Writer, sess *portalauth.Session, err error) error {
	if err != nil && !(errors.Is(err, portalauth.ErrSuperseded) && sess != nil) {
		fmt.Fprintln(w, failureMessage(err))
		return err
	}
	fmt.Fprintf(w, "Signed in as %s\n", displayName(sess))
	fmt.Fprintln(w, headerLine(sess))
	return nil
}

func newSignOutCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Sign out and forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := s.open(cmd, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.engine.SignOut(cmd.Context()); err != nil {
				rt.logger.Warn("portalctl: provider did not confirm sign-out", slog.Any("error", err))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			fmt.Fprintln(cmd.OutOrStdout(), headerLine(rt.engine.Current()))
			return nil
		},
	}
}

func newWhoAmICmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the header the portal would render",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := s.open(cmd, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			out := cmd.OutOrStdout()
			sess := rt.engine.Current()
			fmt.Fprintln(out, headerLine(sess))
			if sess != nil {
				fmt.Fprintf(out, "id: %s\nemail: %s\n", sess.ID, sess.Email)
				if !sess.ExpiresAt.IsZero() {
					fmt.Fprintf(out, "expires: %s\n", sess.ExpiresAt.UTC().Format(time.RFC3339))
				}
			}
			return nil
		},
	}
}

func newWatchCmd(s *settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print session transitions until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetDuration("for")

			rt, err := s.open(cmd, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := cmd.Context()
			if limit > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, limit)
				defer cancel()
			}

			transitions := make(chan *portalauth.Session, 16)
			unsubscribe := rt.engine.Subscribe(func(sess *portalauth.Session) {
				select {
				case transitions <- sess:
				default:
					rt.logger.Warn("portalctl: watcher lagging; transition dropped")
				}
			})
			defer unsubscribe()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\t%s\n", rt.engine.State(), headerLine(rt.engine.Current()))
			for {
				select {
				case sess := <-transitions:
					state := portalauth.StateAnonymous
					if sess != nil {
						state = portalauth.StateAuthenticated
					}
					fmt.Fprintf(out, "%s\t%s\n", state, headerLine(sess))
				case <-ctx.Done():
					return nil
				}
			}
		},
	}
	cmd.Flags().Duration("for", 0, "stop after this long (0 waits for an interrupt)")
	return cmd
}
