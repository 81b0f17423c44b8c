// The csda-bulk-download command downloads the assets of a CSDA order
// listed in one or more order CSVs.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/nasa-impact/csda-bulk-download/internal/auth"
	"github.com/nasa-impact/csda-bulk-download/internal/clients"
	"github.com/nasa-impact/csda-bulk-download/internal/filetransfer"
	"github.com/nasa-impact/csda-bulk-download/internal/observability"
	"github.com/nasa-impact/csda-bulk-download/internal/orders"
	"github.com/nasa-impact/csda-bulk-download/internal/settings"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "csda-bulk-download [flags] ASSETS_CSV...",
		Short: "Bulk-download the assets of a CSDA order",
		Long: strings.TrimSpace(`
The CSDA Bulk Download tool makes it easy to download many assets from an
order placed within the CSDA (Commercial Smallsat Data Acquisition) system.

The assets CSV must contain a header row with the following columns:
  - collection_id
  - scene_id
  - asset_type

The rows may be filtered to download only a subset of assets by scene_id
or asset_type.

Note that a user is only granted access to download each asset once;
assets already present under the output directory are skipped.
`),
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings.SetDefaults(v)
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			s, err := settings.Load(v)
			if err != nil {
				return err
			}
			return run(cmd, s, args)
		},
	}

	flags := cmd.Flags()
	flags.StringP("out-dir", "o", "", "directory to download assets into")
	flags.String("api-url", settings.DefaultAPIURL, "root URL of the CSDA API")
	flags.StringP("username", "u", "", "Earthdata Login username")
	flags.String("password", "", "Earthdata Login password")
	flags.IntP("concurrency", "c", 0,
		"number of concurrent downloads (default: 5x the processor count)")
	flags.Duration("timeout", 30*time.Second, "per-request timeout")
	flags.Int("retry-max", 3, "how many times to retry a transiently failed request")
	flags.Float64("requests-per-second", 0, "cap on download request rate (0 = unlimited)")
	flags.StringSlice("scene-id", nil, "only download assets of these scene_ids")
	flags.StringSlice("asset-type", nil, "only download assets of these asset_types")
	flags.CountP("verbose", "v", "raise log verbosity (may be repeated)")

	return cmd
}

func run(cmd *cobra.Command, s *settings.Settings, csvPaths []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	logger := newLogger(s.Verbosity)

	username, password, err := resolveCredentials(s)
	if err != nil {
		return err
	}

	session := auth.NewSession(auth.SessionParams{
		BaseURL: s.APIURL,
		Timeout: s.RequestTimeout,
		Logger:  logger,
	})
	token, err := session.Login(ctx, username, password)
	if err != nil {
		return err
	}
	logger.Info("authenticated with Earthdata Login", "username", username)

	client := clients.NewRetryClient(
		clients.WithRetryClientLogger(logger),
		clients.WithRetryClientRetryMax(s.RetryMax),
		clients.WithRetryClientRetryWaitMin(time.Second),
		clients.WithRetryClientRetryWaitMax(30*time.Second),
		clients.WithRetryClientRetryPolicy(clients.RetryTransientFailures),
		clients.WithRetryClientBackoff(clients.ExponentialBackoffWithJitter),
		clients.WithRetryClientHttpTimeout(s.RequestTimeout),
		clients.WithMaxRedirects(5),
		clients.WithRequestRateLimit(s.RequestsPerSecond),
		clients.WithCredentials(auth.NewBearerTokenProvider(token)),
	)

	transfer := filetransfer.NewAssetTransfer(filetransfer.AssetTransferParams{
		Client:   client,
		Logger:   logger,
		BaseURL:  s.APIURL,
		DestRoot: s.OutDir,
	})

	printer := observability.NewPrinter()
	stats := filetransfer.NewDownloadStats()
	manager := filetransfer.NewDownloadManager(filetransfer.DownloadManagerParams{
		Transfer:    transfer,
		Concurrency: s.Concurrency,
		Stats:       stats,
		Logger:      logger,
		Printer:     printer,
		OnResult: func(result filetransfer.Result) {
			logger.Info(result.String())
		},
	})

	stopEchoing := echoPrinter(cmd, printer)
	defer stopEchoing()

	manager.Start(ctx)

	source := orders.NewSource(
		orders.NewFilter(s.SceneIDs, s.AssetTypes),
		logger,
	)
	for _, csvPath := range csvPaths {
		if err := scheduleCSV(ctx, source, manager, csvPath); err != nil {
			manager.Close()
			return err
		}
	}

	logger.Debug("all CSVs processed, waiting for remaining downloads")
	manager.Close()

	stopEchoing()
	counts := stats.GetCounts()
	cmd.Printf("Complete. %s (%d bytes fetched).\n", counts, stats.GetDownloadedBytes())

	if counts.Failed > 0 {
		return fmt.Errorf("%d downloads failed", counts.Failed)
	}
	return nil
}

func scheduleCSV(
	ctx context.Context,
	source *orders.Source,
	manager filetransfer.DownloadManager,
	csvPath string,
) error {
	file, err := os.Open(csvPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = file.Close()
	}()

	return source.EachTask(file, func(task *filetransfer.Task) bool {
		return manager.AddTask(ctx, task)
	})
}

// echoPrinter periodically flushes buffered console messages to stdout.
// The returned function stops the loop after a final flush and is safe to
// call more than once.
func echoPrinter(cmd *cobra.Command, printer *observability.Printer) func() {
	done := make(chan struct{})
	finished := make(chan struct{})

	flush := func() {
		for _, line := range printer.Read() {
			cmd.Println(line)
		}
	}

	go func() {
		defer close(finished)
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				flush()
			case <-done:
				flush()
				return
			}
		}
	}()

	var once bool
	return func() {
		if once {
			return
		}
		once = true
		close(done)
		<-finished
	}
}

func newLogger(verbosity int) *observability.CoreLogger {
	level := slog.LevelInfo
	if verbosity > 0 {
		level = slog.LevelDebug
	}

	params := &observability.CoreLoggerParams{}
	if verbosity == 0 {
		// Collapse repeated failure lines in quiet mode; a large order
		// failing one way shouldn't print thousands of identical errors.
		limiter, err := observability.NewRepeatLimiter(256, 10*time.Second)
		if err == nil {
			params.RepeatLimiter = limiter
		}
	}

	return observability.NewCoreLogger(
		slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
		params,
	)
}

// resolveCredentials fills in the username and password, prompting for
// whichever the flags and environment didn't provide. The password prompt
// doesn't echo when stdin is a terminal.
func resolveCredentials(s *settings.Settings) (string, string, error) {
	username := s.Username
	if username == "" {
		fmt.Fprint(os.Stderr, "Earthdata Login username: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return "", "", fmt.Errorf("reading username: %w", err)
		}
		username = strings.TrimSpace(line)
	}
	if username == "" {
		return "", "", fmt.Errorf("an Earthdata Login username is required")
	}

	password := s.Password
	if password == "" {
		fmt.Fprint(os.Stderr, "Earthdata Login password: ")
		if term.IsTerminal(int(os.Stdin.Fd())) {
			raw, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return "", "", fmt.Errorf("reading password: %w", err)
			}
			password = string(raw)
		} else {
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil {
				return "", "", fmt.Errorf("reading password: %w", err)
			}
			password = strings.TrimSpace(line)
		}
	}
	if password == "" {
		return "", "", fmt.Errorf("an Earthdata Login password is required")
	}

	return username, password, nil
}
