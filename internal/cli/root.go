package cli

import (
	"log/slog"
	"os"

	"github.com/me/slotq/internal/logging"
	"github.com/spf13/cobra"
)

var (
	flagServer    string
	flagCaller    string
	flagAPIKey    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
	client *Client
)

// defaultServer returns the default server URL, checking SLOTQ_SERVER env var first.
func defaultServer() string {
	if s := os.Getenv("SLOTQ_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

// NewRootCmd creates the root cobra command for the slotq CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "slotq",
		Short: "slotq: deferred task scheduling engine",
		Long:  "slotq schedules, prices, and executes deferred tasks against a slotq server.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.NewLogger(logging.ParseLevel(flagLogLevel), flagLogFormat)

			// Stored credentials fill in whatever the flags left blank.
			creds := LoadCredentials()
			if flagServer == defaultServer() && creds.Server != "" && os.Getenv("SLOTQ_SERVER") == "" {
				flagServer = creds.Server
			}
			if flagCaller == "" {
				flagCaller = creds.Caller
			}
			if flagAPIKey == "" {
				flagAPIKey = creds.APIKey
			}

			client = NewClient(flagServer, logger)
			client.Caller = flagCaller
			client.APIKey = flagAPIKey
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "slotq server URL (or SLOTQ_SERVER env)")
	root.PersistentFlags().StringVar(&flagCaller, "caller", "", "Caller account address (X-Caller header)")
	root.PersistentFlags().StringVar(&flagAPIKey, "api-key", "", "API key (sent as a bearer token)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newLoginCmd(),
		newScheduleCmd(),
		newStatusCmd(),
		newListCmd(),
		newCancelCmd(),
		newEstimateCmd(),
		newPreviewCmd(),
		newExecuteCmd(),
		newDepositCmd(),
		newBalanceCmd(),
		newRunCmd(),
	)

	return root
}
