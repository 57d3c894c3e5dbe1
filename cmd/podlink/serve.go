package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/podlink/bridge"
	"github.com/srg/podlink/internal/config"
	"github.com/srg/podlink/internal/devicefactory"
	"github.com/srg/podlink/session"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the WebSocket bridge for host applications",
	Long: `Run a WebSocket endpoint that exposes the Pod session to host
applications: JSON method calls in (startScan, connect, downloadFile,
...), status, scan result, and payload events out.`,
	RunE: runServe,
}

var serveListenAddr string

func init() {
	serveCmd.Flags().StringVarP(&serveListenAddr, "listen", "l", "", "Listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}

	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	addr := cfg.ListenAddr
	if serveListenAddr != "" {
		addr = serveListenAddr
	}

	cmd.SilenceUsage = true

	transport := devicefactory.NewTransport(logger)
	sess := session.NewSession(transport, logger, cfg.SessionOptions())
	defer sess.Close()

	server := bridge.NewServer(sess, logger, nil)

	pumpCtx, cancelPump := context.WithCancel(context.Background())
	defer cancelPump()
	go server.Pump(pumpCtx)

	mux := http.NewServeMux()
	mux.Handle("/ws", server.Handler())

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	fmt.Printf("Bridge listening on ws://%s/ws\n", addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		fmt.Println("\nShutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
