package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"odmclient/internal/app"
	"odmclient/internal/reporter"
	"odmclient/pkg/types"
)

type TasksFlags struct {
	ProjectID int
	PresetID  int
	Assets    []string
	Dir       string
	Interval  time.Duration
}

var tasksFlags TasksFlags

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Manage the tasks of a project",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		return validateTasksFlags(&tasksFlags)
	},
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the tasks of a project",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := requireClient()
		if err != nil {
			return err
		}
		tasks, err := client.ListTasks(createContext(), tasksFlags.ProjectID)
		if err != nil {
			return fmt.Errorf("failed to list tasks: %w", err)
		}
		showTasks(tasks)
		return nil
	},
}

var tasksShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show one task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := requireClient()
		if err != nil {
			return err
		}
		task, err := client.GetTask(createContext(), tasksFlags.ProjectID, args[0])
		if err != nil {
			return fmt.Errorf("failed to get task: %w", err)
		}
		showTask(task)
		return nil
	},
}

var tasksRestartCmd = &cobra.Command{
	Use:   "restart <task-id>...",
	Short: "Restart tasks, optionally with the options of a preset",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBatch(func(svc *app.TaskService) (reporter.Summary, error) {
			return svc.Restart(createContext(), tasksFlags.ProjectID, args, tasksFlags.PresetID)
		})
	},
}

var tasksCancelCmd = &cobra.Command{
	Use:   "cancel <task-id>...",
	Short: "Cancel running tasks",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBatch(func(svc *app.TaskService) (reporter.Summary, error) {
			return svc.Cancel(createContext(), tasksFlags.ProjectID, args)
		})
	},
}

var tasksRemoveCmd = &cobra.Command{
	Use:   "remove <task-id>...",
	Short: "Delete tasks and their results",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBatch(func(svc *app.TaskService) (reporter.Summary, error) {
			return svc.Remove(createContext(), tasksFlags.ProjectID, args)
		})
	},
}

var tasksDownloadCmd = &cobra.Command{
	Use:   "download <task-id>...",
	Short: "Download task assets into <dir>/<task name>_<task id>/",
	Long: `Download assets of completed tasks. Every task gets its own folder named
after the task. Assets a task does not offer are reported and skipped.

Known assets: ` + strings.Join(types.KnownAssets, ", "),
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		assets := tasksFlags.Assets
		if !cmd.Flags().Changed("asset") {
			assets = cfg.Download.Assets
		}
		return runBatch(func(svc *app.TaskService) (reporter.Summary, error) {
			return svc.Download(createContext(), tasksFlags.ProjectID, args, assets, tasksFlags.Dir)
		})
	},
}

var tasksWaitCmd = &cobra.Command{
	Use:   "wait <task-id>",
	Short: "Wait until a task completes, fails or is canceled",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := requireClient()
		if err != nil {
			return err
		}
		_, files := createServices()
		svc := app.NewTaskService(client, files, cmd.OutOrStdout())

		last := types.TaskStatus(-1)
		task, err := svc.Wait(createContext(), tasksFlags.ProjectID, args[0], tasksFlags.Interval, func(t types.Task) {
			if t.Status != last {
				last = t.Status
				fmt.Printf("%s  %s: %s\n", time.Now().Format(time.TimeOnly), t.DisplayName(), t.Status)
			}
		})
		if err != nil {
			return err
		}
		if task.Status != types.StatusCompleted {
			if task.LastError != "" {
				return fmt.Errorf("task %s: %s", task.Status, task.LastError)
			}
			return fmt.Errorf("task %s", task.Status)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tasksCmd)
	tasksCmd.AddCommand(tasksListCmd, tasksShowCmd, tasksRestartCmd, tasksCancelCmd, tasksRemoveCmd, tasksDownloadCmd, tasksWaitCmd)

	tasksCmd.PersistentFlags().IntVarP(&tasksFlags.ProjectID, "project", "p", 0, "project id (required)")
	tasksRestartCmd.Flags().IntVar(&tasksFlags.PresetID, "preset", 0, "restart with the options of this preset")
	tasksDownloadCmd.Flags().StringSliceVarP(&tasksFlags.Assets, "asset", "a", nil, "asset to download, repeatable (default from config)")
	tasksDownloadCmd.Flags().StringVarP(&tasksFlags.Dir, "dir", "d", ".", "destination directory")
	tasksWaitCmd.Flags().DurationVar(&tasksFlags.Interval, "interval", 5*time.Second, "poll interval")

	viper.BindPFlag("tasks.project", tasksCmd.PersistentFlags().Lookup("project"))
}

// validateTasksFlags validates the tasks command flags
func validateTasksFlags(flags *TasksFlags) error {
	if flags.ProjectID == 0 {
		flags.ProjectID = viper.GetInt("tasks.project")
	}
	if flags.ProjectID <= 0 {
		return errors.New("project id is required (--project)")
	}
	if flags.Interval < 0 {
		return errors.New("interval must not be negative")
	}
	return nil
}

// runBatch runs a batch operation and fails when any item failed
func runBatch(fn func(svc *app.TaskService) (reporter.Summary, error)) error {
	client, err := requireClient()
	if err != nil {
		return err
	}
	console, files := createServices()
	result, err := fn(app.NewTaskService(client, files, console.Writer()))
	if err != nil {
		return err
	}
	return result.Err()
}

func showTask(t types.Task) {
	console, _ := createServices()
	assets := "-"
	if len(t.AvailableAssets) > 0 {
		assets = strings.Join(t.AvailableAssets, ", ")
	}
	rows := [][]string{
		{"ID", t.ID},
		{"Name", t.DisplayName()},
		{"Status", t.Status.String()},
		{"Images", fmt.Sprint(t.ImagesCount)},
		{"Created", t.CreatedAt},
		{"Processing time", (time.Duration(t.ProcessingTime) * time.Millisecond).String()},
		{"Assets", assets},
	}
	if t.LastError != "" {
		rows = append(rows, []string{"Last error", t.LastError})
	}
	console.ShowTable([]string{"FIELD", "VALUE"}, rows)

	if len(t.Options) > 0 {
		console.ShowMessage("")
		opts := make([][]string, 0, len(t.Options))
		for _, o := range t.Options {
			opts = append(opts, []string{o.Name, fmt.Sprint(o.Value)})
		}
		console.ShowTable([]string{"OPTION", "VALUE"}, opts)
	}
}
