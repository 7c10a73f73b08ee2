package ui

import "context"

// InteractiveUI defines the interface for user interactions
type InteractiveUI interface {
	// ShowMessage displays a message to the user
	ShowMessage(message string)

	// ShowTable displays rows under a header line
	ShowTable(header []string, rows [][]string)

	// InputLine prompts for one line of input
	InputLine(ctx context.Context, prompt string) (string, error)

	// InputPassword prompts for a secret without echoing it when possible
	InputPassword(prompt string) (string, error)
}
