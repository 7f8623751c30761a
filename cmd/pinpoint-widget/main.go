package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pinpoint-labs/pinpoint/internal/apiclient"
	"github.com/pinpoint-labs/pinpoint/internal/auth"
	"github.com/pinpoint-labs/pinpoint/internal/config"
	"github.com/pinpoint-labs/pinpoint/internal/dom"
	"github.com/pinpoint-labs/pinpoint/internal/engine"
	"github.com/pinpoint-labs/pinpoint/internal/logging"
	"github.com/pinpoint-labs/pinpoint/internal/overlay"
	"github.com/pinpoint-labs/pinpoint/internal/realtime"
)

var (
	cfgFile      string
	snapshotPath string
	watch        bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pinpoint-widget",
		Short: "Resolve thread anchors against a page snapshot",
		Long: "pinpoint-widget loads an HTML snapshot, fetches the open threads for a\n" +
			"repo and branch, and reports where each marker lands. With --watch it\n" +
			"stays subscribed to the realtime feed and reprints on every change.",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWidget(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&snapshotPath, "snapshot", "", "Path to the HTML snapshot to resolve against")
	cmd.PersistentFlags().BoolVar(&watch, "watch", false, "Stay subscribed to the realtime feed")
	cmd.PersistentFlags().String("api-base-url", defaults.GetString("api.base_url"), "Thread API origin")
	cmd.PersistentFlags().String("token", "", "Bearer token for the thread API")
	cmd.PersistentFlags().String("repo", "", "Repository in owner/name form")
	cmd.PersistentFlags().String("branch", "", "Branch scope, empty for repo-wide")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "api.base_url", "api-base-url")
	bindFlag(cmd, "api.token", "token")
	bindFlag(cmd, "widget.repo", "repo")
	bindFlag(cmd, "widget.branch", "branch")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runWidget(ctx context.Context) error {
	appConfig, err := config.LoadWidget(viper.GetViper())
	if err != nil {
		return err
	}
	if snapshotPath == "" {
		return fmt.Errorf("--snapshot is required")
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	snapshot, err := os.Open(snapshotPath)
	if err != nil {
		return err
	}
	document, err := dom.ParseSnapshot(snapshot)
	snapshot.Close()
	if err != nil {
		return fmt.Errorf("parse snapshot %s: %w", snapshotPath, err)
	}

	api, err := apiclient.NewClient(apiclient.Config{
		BaseURL: appConfig.APIBaseURL,
		Token:   appConfig.Token,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	// The subject is only used to mark the viewer's own reactions in the
	// report; the API re-derives it from the verified token on every call.
	userID, _ := auth.DecodeSubjectUnverified(appConfig.Token)

	widget, err := engine.NewEngine(engine.Config{
		API:      api,
		Document: document,
		Repo:     appConfig.Repo,
		Branch:   appConfig.Branch,
		UserID:   userID,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer widget.Dispose()

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := widget.LoadThreads(signalCtx); err != nil {
		return err
	}
	printMarkers(widget)

	if !watch {
		return nil
	}

	room := appConfig.Repo
	if appConfig.Branch != "" {
		room = appConfig.Repo + ":" + appConfig.Branch
	}
	feed, err := realtime.NewClient(realtime.ClientConfig{
		URL:   websocketURL(appConfig.APIBaseURL),
		Token: appConfig.Token,
		Rooms: []string{room},
		OnEvent: func(event realtime.Event) {
			if err := widget.ApplyRealtimeEvent(signalCtx, event); err != nil {
				logger.Warn("event apply failed", zap.String("op", event.Op), zap.Error(err))
				return
			}
			printMarkers(widget)
		},
		OnStateChange: func(state realtime.ConnectionState) {
			logger.Info("realtime state changed", zap.String("state", string(state)))
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	return feed.Run(signalCtx)
}

func printMarkers(widget *engine.Engine) {
	markers := overlay.Markers(widget.Threads(), widget.Positions(), "")
	fmt.Printf("%d marker(s)\n", len(markers))
	for _, marker := range markers {
		fmt.Printf("  %s thread=%s at (%.0f, %.0f)\n", marker.Label, marker.ThreadID, marker.Position.X, marker.Position.Y)
	}
}

func websocketURL(baseURL string) string {
	trimmed := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(trimmed, "https://"):
		trimmed = "wss://" + strings.TrimPrefix(trimmed, "https://")
	case strings.HasPrefix(trimmed, "http://"):
		trimmed = "ws://" + strings.TrimPrefix(trimmed, "http://")
	}
	return trimmed + "/realtime"
}
