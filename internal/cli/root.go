// Package cli implements portalctl, a terminal consumer of the session
// lifecycle engine.
package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

type settings struct {
	configPath    string
	logFormat     string
	redisEmbedded bool
	seeds         []string
	audit         bool

	getenv func(string) string
}

// NewRootCommand builds the portalctl command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&settings{getenv: os.Getenv})
}

func newRootCommand(s *settings) *cobra.Command {
	root := &cobra.Command{
		Use:   "portalctl",
		Short: "Clinic portal session lifecycle tool",
		Long: `portalctl drives the clinic portal's sign-up, sign-in and sign-out flows
against the configured identity provider. Without PORTAL_AUTH_URL and
PORTAL_AUTH_ANON_KEY it runs against the offline stand-in provider.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&s.configPath, "config", "", "YAML config file; environment variables override it")
	flags.StringVar(&s.logFormat, "log-format", "text", "log output format (text or json)")
	flags.BoolVar(&s.redisEmbedded, "redis-embedded", false, "persist provider state in an in-process Redis")
	flags.StringArrayVar(&s.seeds, "seed", nil, "stand-in account as email:password[:display name] (repeatable)")
	flags.BoolVar(&s.audit, "audit", false, "write audit events to stderr as JSON lines")

	root.AddCommand(
		newSignUpCmd(s),
		newSignInCmd(s),
		newSignOutCmd(s),
		newWhoAmICmd(s),
		newWatchCmd(s),
		newServeCmd(s),
	)
	return root
}

// ExecuteContext runs portalctl with the process arguments.
func ExecuteContext(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}
