package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mordilloSan/go-logger/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"odmclient/internal/config"
	"odmclient/internal/fault"
	"odmclient/internal/file"
	"odmclient/internal/ui"
	"odmclient/internal/webodm"
)

var (
	cfg       *config.Config
	cfgFile   string
	verbose   bool
	serverURL string

	store *config.Store
	state config.State
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "odmclient",
	Short: "odmclient - command line client for WebODM",
	Long: `odmclient talks to a WebODM server: it manages projects and tasks,
uploads drone images into new processing tasks and downloads the results.

Usage:
  Log in:           odmclient login --server https://odm.example.com
  Upload images:    odmclient upload --project 3 --preset 2 ./flight-01
  Follow a task:    odmclient tasks wait --project 3 <task-id>
  Download results: odmclient tasks download --project 3 <task-id>

Uploads run in the background: files are sent concurrently, network failures
are retried, and the task is committed once every image has been accepted.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		initLogging()
		initConfig()

		loaded, err := loadConfig()
		if err != nil {
			return err
		}
		cfg = loaded

		return loadState()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.odmclient.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "WebODM server URL (default from login state or config)")

	viper.BindPFlag("server.url", rootCmd.PersistentFlags().Lookup("server"))

	// Set up viper environment variable support, e.g. ODMC_SERVER_URL
	viper.SetEnvPrefix("ODMC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// initLogging configures log levels from the verbose flag
func initLogging() {
	levels := []logger.Level{logger.InfoLevel, logger.WarnLevel, logger.ErrorLevel}
	if verbose {
		levels = logger.AllLevels()
	}
	logger.Init(logger.Config{Levels: levels})
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			logger.Warnf("could not find home directory: %v", err)
			return
		}

		// Search config in home directory with name ".odmclient" (without extension)
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".odmclient")
	}

	if err := viper.ReadInConfig(); err == nil {
		logger.Debugf("using config file: %s", viper.ConfigFileUsed())
	} else if cfgFile != "" {
		logger.Warnf("failed to read config file %s: %v", cfgFile, err)
	}
}

// loadConfig unmarshals viper settings over the defaults and validates them
func loadConfig() (*config.Config, error) {
	c := config.NewDefaultConfig()
	registerDefaults(c)

	if err := viper.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

// registerDefaults makes every key known to viper so environment
// variables are picked up by Unmarshal
func registerDefaults(c *config.Config) {
	viper.SetDefault("server.url", c.Server.URL)
	viper.SetDefault("server.timeout", c.Server.Timeout)
	viper.SetDefault("upload.concurrency", c.Upload.Concurrency)
	viper.SetDefault("upload.max_retries", c.Upload.MaxRetries)
	viper.SetDefault("upload.retry_delay", c.Upload.RetryDelay)
	viper.SetDefault("upload.auto_dismiss", c.Upload.AutoDismiss)
	viper.SetDefault("download.assets", c.Download.Assets)
	viper.SetDefault("serve.addr", c.Serve.Addr)
}

// loadState reads the persisted login. A server remembered at login wins
// over the default URL but not over one given explicitly.
func loadState() error {
	path, err := config.DefaultStatePath()
	if err != nil {
		return err
	}
	store = config.NewStore(path)

	state, err = store.Load()
	if err != nil {
		return err
	}

	explicit := viper.InConfig("server.url") || serverURL != "" || os.Getenv("ODMC_SERVER_URL") != ""
	if state.ServerURL != "" && !explicit {
		cfg.Server.URL = state.ServerURL
	}
	return nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, webodm.ErrNotAuthenticated) || fault.Classify(err) == fault.KindAuthorization {
			fmt.Fprintln(os.Stderr, "Run 'odmclient login' to authenticate.")
		}
		os.Exit(1)
	}
}

// createContext creates a context that cancels on interrupt signals
func createContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nReceived interrupt signal, shutting down...")
		cancel()
	}()

	return ctx
}

// newClient returns a client for the configured server carrying the
// remembered token when it was issued by that server
func newClient() *webodm.Client {
	client := webodm.NewClient(cfg.Server)
	if state.LoggedIn() && sameServer(state.ServerURL, client.BaseURL()) {
		client.SetToken(state.Token)
	}
	return client
}

// requireClient is newClient for commands that need a login
func requireClient() (*webodm.Client, error) {
	client := newClient()
	if client.Token() == "" {
		return nil, webodm.ErrNotAuthenticated
	}
	return client, nil
}

// sameServer reports whether two server URLs name the same server. A
// missing URL matches nothing.
func sameServer(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.TrimRight(a, "/") == strings.TrimRight(b, "/")
}

// createServices creates the console and file services shared by commands
func createServices() (*ui.ConsoleUI, file.FileService) {
	return ui.NewConsoleUI(), file.NewFileService()
}
