package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"odmclient/pkg/types"
)

var projectDescription string

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List, inspect and create projects",
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the projects visible to you",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := requireClient()
		if err != nil {
			return err
		}
		projects, err := client.ListProjects(createContext())
		if err != nil {
			return fmt.Errorf("failed to list projects: %w", err)
		}

		console, _ := createServices()
		rows := make([][]string, 0, len(projects))
		for _, p := range projects {
			rows = append(rows, []string{strconv.Itoa(p.ID), p.Name, strconv.Itoa(len(p.Tasks)), p.CreatedAt})
		}
		console.ShowTable([]string{"ID", "NAME", "TASKS", "CREATED"}, rows)
		return nil
	},
}

var projectsShowCmd = &cobra.Command{
	Use:   "show <project-id>",
	Short: "Show a project and its tasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, err := parseProjectID(args[0])
		if err != nil {
			return err
		}
		client, err := requireClient()
		if err != nil {
			return err
		}

		ctx := createContext()
		project, err := client.GetProject(ctx, projectID)
		if err != nil {
			return fmt.Errorf("failed to get project: %w", err)
		}
		tasks, err := client.ListTasks(ctx, projectID)
		if err != nil {
			return fmt.Errorf("failed to list tasks: %w", err)
		}

		console, _ := createServices()
		console.ShowMessage(fmt.Sprintf("Project %d: %s", project.ID, project.Name))
		if project.Description != "" {
			console.ShowMessage(project.Description)
		}
		console.ShowMessage("")
		showTasks(tasks)
		return nil
	},
}

var projectsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := requireClient()
		if err != nil {
			return err
		}
		project, err := client.CreateProject(createContext(), args[0], projectDescription)
		if err != nil {
			return fmt.Errorf("failed to create project: %w", err)
		}
		fmt.Printf("Created project %d: %s\n", project.ID, project.Name)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(projectsCmd)
	projectsCmd.AddCommand(projectsListCmd, projectsShowCmd, projectsCreateCmd)

	projectsCreateCmd.Flags().StringVarP(&projectDescription, "description", "d", "", "project description")
}

func parseProjectID(raw string) (int, error) {
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid project id %q", raw)
	}
	return id, nil
}

func showTasks(tasks []types.Task) {
	console, _ := createServices()
	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, []string{t.ID, t.DisplayName(), t.Status.String(), strconv.Itoa(t.ImagesCount), t.CreatedAt})
	}
	console.ShowTable([]string{"ID", "NAME", "STATUS", "IMAGES", "CREATED"}, rows)
}
