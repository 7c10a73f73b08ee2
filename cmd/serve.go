package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/mordilloSan/go-logger/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"odmclient/internal/web"
)

// shutdownTimeout bounds how long in-flight requests get on exit
const shutdownTimeout = 5 * time.Second

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve upload sessions to a local frontend",
	Long: `Run the local bridge used by desktop and web frontends.

Sessions are created with POST /api/sessions and keep uploading in the
background. A frontend follows one session over /ws/sessions/{id}; closing
the socket minimizes the session, reconnecting restores it.

Stopping the server cancels every running session.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address (default from config)")
	viper.BindPFlag("serve.addr", serveCmd.Flags().Lookup("addr"))
}

func runServe() error {
	client, err := requireClient()
	if err != nil {
		return err
	}
	ctx := createContext()

	registry := newRegistry(client)
	defer registry.Close()

	srv := &http.Server{
		Addr:              cfg.Serve.Addr,
		Handler:           web.BuildRouter(registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoKV("bridge listening", "addr", srv.Addr, "server", client.BaseURL())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Infof("shutting down bridge")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warnf("bridge shutdown: %v", err)
	}
	return nil
}
