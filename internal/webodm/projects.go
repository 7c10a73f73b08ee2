package webodm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"odmclient/internal/fault"
	"odmclient/pkg/types"
	"odmclient/pkg/utils"
)

// ListProjects returns the projects visible to the user
func (c *Client) ListProjects(ctx context.Context) ([]types.Project, error) {
	return listJSON[types.Project](ctx, c, "list projects", "/api/projects/")
}

// GetProject returns one project
func (c *Client) GetProject(ctx context.Context, projectID int) (types.Project, error) {
	var p types.Project
	err := c.doJSON(ctx, "get project", http.MethodGet, fmt.Sprintf("/api/projects/%d/", projectID), nil, true, &p)
	return p, err
}

// CreateProject creates a project, description may be empty
func (c *Client) CreateProject(ctx context.Context, name, description string) (types.Project, error) {
	form := url.Values{}
	form.Set("name", name)
	if description != "" {
		form.Set("description", description)
	}

	var p types.Project
	err := c.doJSON(ctx, "create project", http.MethodPost, "/api/projects/", form, true, &p)
	return p, err
}

// listJSON fetches a list endpoint, accepting bare and paginated answers
func listJSON[T any](ctx context.Context, c *Client, op, path string) ([]T, error) {
	data, err := c.doRaw(ctx, op, http.MethodGet, path, nil, true)
	if err != nil {
		return nil, err
	}
	items, err := utils.DecodeList[T](data)
	if err != nil {
		return nil, &fault.Error{Kind: fault.KindRejected, Op: op, Detail: "unexpected response", Err: err}
	}
	return items, nil
}
