package webodm

import (
	"context"
	"fmt"
	"net/http"

	"odmclient/pkg/types"
)

// ListPresets returns the presets defined on the server
func (c *Client) ListPresets(ctx context.Context) ([]types.Preset, error) {
	return listJSON[types.Preset](ctx, c, "list presets", "/api/presets/")
}

// GetPreset returns one preset
func (c *Client) GetPreset(ctx context.Context, presetID int) (types.Preset, error) {
	var p types.Preset
	err := c.doJSON(ctx, "get preset", http.MethodGet, fmt.Sprintf("/api/presets/%d/", presetID), nil, true, &p)
	return p, err
}

// ProcessingNodeOptions returns the options understood by the processing nodes
func (c *Client) ProcessingNodeOptions(ctx context.Context) ([]types.NodeOption, error) {
	return listJSON[types.NodeOption](ctx, c, "list processing options", "/api/processingnodes/options/")
}
