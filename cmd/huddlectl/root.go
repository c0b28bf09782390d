package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	flagServer  string
	flagToken   string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "huddlectl",
	Short: "Command-line participant for a huddle conference server",
	Long: `huddlectl talks to a huddle server: it lists active conferences and can join one
as a headless participant that publishes streams and consumes everyone else's.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if flagVerbose {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagServer, "server", "s", "http://localhost:8080", "server base URL")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "client token, used as participant id when none is given")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
	rootCmd.AddCommand(roomsCmd, joinCmd)
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// signalURL turns the server base URL into the websocket endpoint.
func signalURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/ws/signal"
	return u.String(), nil
}

func tokenHeader() http.Header {
	h := http.Header{}
	if flagToken != "" {
		h.Add("Cookie", "ct="+flagToken)
	}
	return h
}
