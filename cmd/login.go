package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mordilloSan/go-logger/logger"
	"github.com/spf13/cobra"

	"odmclient/internal/config"
	"odmclient/internal/fault"
	"odmclient/internal/ui"
	"odmclient/internal/webodm"
)

type LoginFlags struct {
	Username string
	Password string
	Remember bool
}

var loginFlags LoginFlags

// loginCmd represents the login command
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate against the WebODM server",
	Long: `Log in to the WebODM server and remember the token for later commands.

Username and password are prompted for when not given. With --remember the
credentials are cached in the state file (plaintext, readable only by you)
and reused by the next login.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLogin(&loginFlags)
	},
}

// logoutCmd represents the logout command
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := store.ClearToken(); err != nil {
			return err
		}
		fmt.Println("Logged out")
		return nil
	},
}

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server and login status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus()
	},
}

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd, statusCmd)

	loginCmd.Flags().StringVarP(&loginFlags.Username, "username", "u", "", "account name (prompted when empty)")
	loginCmd.Flags().StringVar(&loginFlags.Password, "password", "", "account password (prompted when empty)")
	loginCmd.Flags().BoolVar(&loginFlags.Remember, "remember", false, "cache the credentials in the state file")
}

func runLogin(flags *LoginFlags) error {
	ctx := createContext()
	console, _ := createServices()

	username, password, err := credentials(ctx, console, flags)
	if err != nil {
		return err
	}

	client := webodm.NewClient(cfg.Server)
	token, err := client.Authenticate(ctx, username, password)
	if err != nil {
		return fmt.Errorf("failed to log in: %w", err)
	}

	next := config.State{ServerURL: client.BaseURL(), Token: token}
	if flags.Remember {
		next.Username, next.Password = username, password
	} else if sameServer(state.ServerURL, client.BaseURL()) && state.Username == username {
		// keep previously remembered credentials of the same account
		next.Username, next.Password = state.Username, state.Password
	}
	if err := store.Save(next); err != nil {
		return err
	}

	logger.InfoKV("logged in", "server", client.BaseURL(), "user", username, "remember", flags.Remember)
	console.ShowMessage(fmt.Sprintf("Logged in to %s as %s", client.BaseURL(), username))
	return nil
}

// credentials takes flags first, then cached credentials, then prompts
func credentials(ctx context.Context, console ui.InteractiveUI, flags *LoginFlags) (string, string, error) {
	username, password := flags.Username, flags.Password

	cached := state.Username != "" && sameServer(state.ServerURL, cfg.Server.URL)
	if username == "" && cached {
		username = state.Username
	}
	if password == "" && cached && username == state.Username {
		password = state.Password
	}

	var err error
	if username == "" {
		if username, err = console.InputLine(ctx, "Username: "); err != nil {
			return "", "", fmt.Errorf("failed to read username: %w", err)
		}
	}
	if password == "" {
		if password, err = console.InputPassword("Password: "); err != nil {
			return "", "", fmt.Errorf("failed to read password: %w", err)
		}
	}

	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return "", "", errors.New("username and password are required")
	}
	return username, password, nil
}

func runStatus() error {
	ctx := createContext()
	console, _ := createServices()
	client := newClient()

	rows := [][]string{
		{"Server", client.BaseURL()},
		{"State file", store.Path()},
	}
	user := state.Username
	if user == "" {
		user = "-"
	}
	rows = append(rows, []string{"Remembered user", user})

	switch {
	case client.Token() == "":
		rows = append(rows, []string{"Login", "not logged in"})
	default:
		projects, err := client.ListProjects(ctx)
		switch {
		case err == nil:
			rows = append(rows, []string{"Login", "ok"}, []string{"Projects", fmt.Sprint(len(projects))})
		case fault.Classify(err) == fault.KindAuthorization:
			rows = append(rows, []string{"Login", "expired"})
		default:
			rows = append(rows, []string{"Login", "unknown"}, []string{"Error", err.Error()})
		}
	}

	console.ShowTable([]string{"KEY", "VALUE"}, rows)
	return nil
}
