package models

import "time"

// TaskType is a unit of queued work for the worker
type TaskType string

const (
	TaskTypeLogin      TaskType = "login"
	TaskTypeJobCheck   TaskType = "job_check"
	TaskTypeJobAccept  TaskType = "job_accept"
	TaskTypeJobReject  TaskType = "job_reject"
	TaskTypeNavigation TaskType = "navigation"
	TaskTypeScreenshot TaskType = "screenshot"
)

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Task is consumed at most once: dequeuing moves it to processing
type Task struct {
	ID          string            `json:"id"`
	Type        TaskType          `json:"type" validate:"required,oneof=login job_check job_accept job_reject navigation screenshot"`
	Priority    int               `json:"priority" validate:"min=0,max=10"`
	Data        map[string]string `json:"data,omitempty"`
	Status      TaskStatus        `json:"status"`
	Result      string            `json:"result,omitempty"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// Finish records the task result
func (t *Task) Finish(success bool, result, errMsg string, now time.Time) {
	if success {
		t.Status = TaskStatusCompleted
	} else {
		t.Status = TaskStatusFailed
	}
	t.Result = result
	t.Error = errMsg
	done := now
	t.CompletedAt = &done
}

// Clone returns a copy that shares nothing with t
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.Data != nil {
		cp.Data = make(map[string]string, len(t.Data))
		for k, v := range t.Data {
			cp.Data[k] = v
		}
	}
	return &cp
}

// Finished reports whether the task reached a terminal status
func (t *Task) Finished() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}
