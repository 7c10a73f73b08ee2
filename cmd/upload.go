package cmd

import (
	"errors"

	"github.com/mordilloSan/go-logger/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"odmclient/internal/app"
	"odmclient/internal/coordinator"
	"odmclient/internal/session"
	"odmclient/internal/webodm"
)

type UploadFlags struct {
	ProjectID int
	PresetID  int
	Name      string
}

var uploadFlags UploadFlags

// uploadCmd represents the upload command
var uploadCmd = &cobra.Command{
	Use:   "upload <image or directory>...",
	Short: "Create a processing task from local images",
	Long: `Upload images into a new task of a project. This will:

1. Create a partial task on the server
2. Upload the images concurrently, retrying network failures
3. Apply the options of --preset, if given
4. Commit the task so the server starts processing

Directories contribute the .jpg, .jpeg, .png, .tif and .tiff files directly
inside them. Ctrl-C cancels the upload.`,
	Args: cobra.MinimumNArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return validateUploadFlags(&uploadFlags)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runUploadApp(&uploadFlags, args)
	},
}

func init() {
	rootCmd.AddCommand(uploadCmd)

	uploadCmd.Flags().IntVarP(&uploadFlags.ProjectID, "project", "p", 0, "destination project id (required)")
	uploadCmd.Flags().IntVar(&uploadFlags.PresetID, "preset", 0, "processing preset id (default: server options)")
	uploadCmd.Flags().StringVarP(&uploadFlags.Name, "name", "n", "", "task name")

	viper.BindPFlag("upload.project", uploadCmd.Flags().Lookup("project"))
	viper.BindPFlag("upload.preset", uploadCmd.Flags().Lookup("preset"))
}

// validateUploadFlags validates the upload command flags
func validateUploadFlags(flags *UploadFlags) error {
	if flags.ProjectID == 0 {
		flags.ProjectID = viper.GetInt("upload.project")
	}
	if flags.PresetID == 0 {
		flags.PresetID = viper.GetInt("upload.preset")
	}
	if flags.ProjectID <= 0 {
		return errors.New("project id is required (--project)")
	}
	if flags.PresetID < 0 {
		return errors.New("preset id must not be negative")
	}
	return nil
}

// newRegistry wires a session registry to the WebODM client
func newRegistry(client *webodm.Client) *session.Registry {
	_, files := createServices()
	return session.NewRegistry(cfg.Upload, session.Deps{
		Coordinator: coordinator.NewCommitCoordinator(client),
		Uploader:    client,
		Files:       files,
	})
}

// runUploadApp creates and runs the upload application
func runUploadApp(flags *UploadFlags, paths []string) error {
	client, err := requireClient()
	if err != nil {
		return err
	}
	ctx := createContext()
	console, _ := createServices()

	registry := newRegistry(client)
	defer registry.Close()

	opts := &app.UploadOptions{
		ProjectID: flags.ProjectID,
		PresetID:  flags.PresetID,
		Name:      flags.Name,
		Paths:     paths,
	}

	snap, err := app.NewUploadApp(registry, console).Run(ctx, opts)
	if err != nil {
		return err
	}
	logger.DebugKV("upload finished", "task", snap.TaskID, "images", len(snap.Files))
	return nil
}
