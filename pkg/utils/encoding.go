package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DecodeJSON decodes JSON bytes to the specified type
func DecodeJSON[T any](data []byte) (T, error) {
	var result T
	if len(data) == 0 {
		return result, fmt.Errorf("JSON data is empty")
	}

	err := json.Unmarshal(data, &result)
	if err != nil {
		return result, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	return result, nil
}

// DecodeList decodes a list response. Paginated endpoints wrap the list as
// {"results": [...]}, the others return a bare array.
func DecodeList[T any](data []byte) ([]T, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("JSON data is empty")
	}

	if trimmed[0] == '[' {
		return DecodeJSON[[]T](trimmed)
	}

	page, err := DecodeJSON[struct {
		Results []T `json:"results"`
	}](trimmed)
	if err != nil {
		return nil, err
	}
	if page.Results == nil {
		return []T{}, nil
	}
	return page.Results, nil
}
