package types

import (
	"encoding/json"
	"fmt"
)

// Project is a server side container of tasks
type Project struct {
	ID          int      `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	CreatedAt   string   `json:"created_at"`
	Permissions []string `json:"permissions"`
	Tasks       []string `json:"tasks,omitempty"`
}

// TaskStatus is the processing state reported by the server
type TaskStatus int

const (
	StatusNone      TaskStatus = 0
	StatusQueued    TaskStatus = 10
	StatusRunning   TaskStatus = 20
	StatusFailed    TaskStatus = 30
	StatusCompleted TaskStatus = 40
	StatusCanceled  TaskStatus = 50
)

func (s TaskStatus) String() string {
	switch s {
	case StatusNone:
		return "-"
	case StatusQueued:
		return "queued"
	case StatusRunning:
		return "running"
	case StatusFailed:
		return "failed"
	case StatusCompleted:
		return "completed"
	case StatusCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Finished reports whether the task will not change state on its own
func (s TaskStatus) Finished() bool {
	return s == StatusFailed || s == StatusCompleted || s == StatusCanceled
}

// UnmarshalJSON accepts null for tasks that have not been queued yet
func (s *TaskStatus) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = StatusNone
		return nil
	}
	var v int
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = TaskStatus(v)
	return nil
}

// Task is a processing job belonging to a project
type Task struct {
	ID              string     `json:"id"`
	Project         int        `json:"project"`
	Name            string     `json:"name"`
	Status          TaskStatus `json:"status"`
	Partial         bool       `json:"partial"`
	ImagesCount     int        `json:"images_count"`
	AvailableAssets []string   `json:"available_assets"`
	Options         []Option   `json:"options"`
	CreatedAt       string     `json:"created_at"`
	ProcessingTime  int64      `json:"processing_time"`
	LastError       string     `json:"last_error"`
}

// DisplayName returns the task name or a placeholder built from its id
func (t Task) DisplayName() string {
	if t.Name != "" {
		return t.Name
	}
	return "task_" + t.ID
}

// HasAsset reports whether the server lists asset as downloadable
func (t Task) HasAsset(asset string) bool {
	for _, a := range t.AvailableAssets {
		if a == asset {
			return true
		}
	}
	return false
}

// Option is a single processing option as sent to the server
type Option struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Preset is a named, server defined bundle of processing options
type Preset struct {
	ID      int      `json:"id"`
	Name    string   `json:"name"`
	Options []Option `json:"options"`
	System  bool     `json:"system"`
}

// NodeOption describes an option supported by the processing nodes
type NodeOption struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Value  any    `json:"value"`
	Domain any    `json:"domain"`
	Help   string `json:"help"`
}

// Assets that completed tasks usually expose
var KnownAssets = []string{
	"all.zip",
	"orthophoto.tif",
	"dsm.tif",
	"dtm.tif",
	"georeferenced_model.laz",
	"cameras.json",
	"shots.geojson",
	"report.pdf",
}
