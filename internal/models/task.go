package models

import (
	"strings"
	"time"
)

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in-progress"
	TaskStatusCompleted  TaskStatus = "completed"
)

// Statuses lists every value the tasks.status column accepts.
var Statuses = []TaskStatus{TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted}

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted:
		return true
	}
	return false
}

// ParseStatus accepts only the three stored values, no aliases.
func ParseStatus(s string) (TaskStatus, error) {
	status := TaskStatus(strings.TrimSpace(s))
	if status == "" {
		return "", &ValidationError{Field: "status", Message: "status is required"}
	}
	if !status.Valid() {
		return "", &ValidationError{Field: "status", Message: "invalid status value: " + s}
	}
	return status, nil
}

type Task struct {
	ID          int64      `json:"id"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   *time.Time `json:"updatedAt"`
}

// NormalizeDescription trims the input and rejects empty text.
func NormalizeDescription(s string) (string, error) {
	desc := strings.TrimSpace(s)
	if desc == "" {
		return "", &ValidationError{Field: "description", Message: "description is required"}
	}
	return desc, nil
}
