package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/podlink/internal/config"
	"github.com/srg/podlink/internal/devicefactory"
	"github.com/srg/podlink/internal/protocol"
	"github.com/srg/podlink/session"
)

// downloadCmd represents the download command
var downloadCmd = &cobra.Command{
	Use:   "download <address> <filename>...",
	Short: "Download recording files from a Pod",
	Long: `Connect to a Pod and download one or more recording files.

Each completed payload is written to the output directory as
<filename>.bin. With --after/--before, recordings that cannot overlap
the window are skipped without transferring their data.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runDownload,
}

var (
	downloadOutputDir string
	downloadAfter     string
	downloadBefore    string
	downloadTimeout   time.Duration
)

func init() {
	downloadCmd.Flags().StringVarP(&downloadOutputDir, "output-dir", "o", ".", "Directory for downloaded files")
	downloadCmd.Flags().StringVar(&downloadAfter, "after", "", "Skip recordings ending before this time (RFC3339)")
	downloadCmd.Flags().StringVar(&downloadBefore, "before", "", "Skip recordings starting after this time (RFC3339)")
	downloadCmd.Flags().DurationVar(&downloadTimeout, "timeout", 5*time.Minute, "Per-file transfer timeout")
}

func parseTimeFlag(value string) (int64, error) {
	if value == "" {
		return 0, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", value, err)
	}
	return t.UnixMilli(), nil
}

func runDownload(cmd *cobra.Command, args []string) error {
	address, filenames := args[0], args[1:]

	filterStart, err := parseTimeFlag(downloadAfter)
	if err != nil {
		return err
	}
	filterEnd, err := parseTimeFlag(downloadBefore)
	if err != nil {
		return err
	}

	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}

	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\nCtrl+C pressed, aborting...")
		cancel()
	}()

	transport := devicefactory.NewTransport(logger)
	sess := session.NewSession(transport, logger, cfg.SessionOptions())
	defer sess.Close()

	// Drain status events so the stream never backs up
	go func() {
		for range sess.Status() {
		}
	}()

	fmt.Printf("Connecting to %s...\n", address)
	if err := sess.Connect(ctx, address); err != nil {
		return err
	}
	defer func() { _ = sess.Disconnect() }()

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	for i, filename := range filenames {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		fmt.Printf("Downloading %s (%d/%d)...\n", filename, i+1, len(filenames))
		err := sess.DownloadFile(session.DownloadRequest{
			Filename:     filename,
			FilterStart:  filterStart,
			FilterEnd:    filterEnd,
			TotalFiles:   len(filenames),
			CurrentIndex: i + 1,
		})
		if err != nil {
			return err
		}

		payload, err := waitPayload(ctx, sess)
		if err != nil {
			return err
		}

		if len(payload) == 1 && payload[0] == protocol.SkipMarker {
			yellow.Printf("  skipped: outside the requested time window\n")
			continue
		}

		outPath := filepath.Join(downloadOutputDir, protocol.CleanFilename(filename)+".bin")
		if err := os.WriteFile(outPath, payload, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", outPath, err)
		}
		green.Printf("  saved %d bytes to %s\n", len(payload), outPath)
	}

	return nil
}

func waitPayload(ctx context.Context, sess *session.Session) ([]byte, error) {
	select {
	case payload, ok := <-sess.Payloads():
		if !ok {
			return nil, fmt.Errorf("session closed mid-transfer")
		}
		return payload, nil
	case <-time.After(downloadTimeout):
		return nil, fmt.Errorf("transfer timed out after %s", downloadTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
