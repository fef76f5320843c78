package backend

import (
	"bytes"
	"encoding/json"
	"strings"

	"taskdash/internal/utils"
)

// Validate checks a create request before it is sent.
func (req CreateTaskRequest) Validate() error {
	if strings.TrimSpace(req.Title) == "" {
		return utils.NewValidationError("title is required")
	}
	if req.DueDate.IsZero() {
		return utils.NewValidationError("due date is required")
	}
	return validatePriority(req.Priority)
}

// Validate checks an update request before it is sent.
func (req UpdateTaskRequest) Validate() error {
	if req.IsEmpty() {
		return utils.NewValidationError("nothing to update")
	}
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		return utils.NewValidationError("title cannot be empty")
	}
	if req.DueDate != nil && req.DueDate.IsZero() {
		return utils.NewValidationError("due date cannot be empty")
	}
	if req.Priority != nil {
		if err := validatePriority(*req.Priority); err != nil {
			return err
		}
	}
	if req.Status != nil {
		switch *req.Status {
		case StatusPending, StatusCompleted:
		default:
			return utils.NewValidationError("invalid status %q (valid: pending, completed)", *req.Status)
		}
	}
	return nil
}

func validatePriority(p Priority) error {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return nil
	}
	return utils.NewValidationError("invalid priority %d (valid: 1 high, 2 medium, 3 low)", int(p))
}

// Validate checks a preferences update before it is sent.
func (req UpdatePreferencesRequest) Validate() error {
	if req.Theme == nil && req.TaskViewLayout == nil {
		return utils.NewValidationError("nothing to update")
	}
	if req.Theme != nil && *req.Theme != ThemeLight && *req.Theme != ThemeDark {
		return utils.NewValidationError("invalid theme %q (valid: light, dark)", *req.Theme)
	}
	if req.TaskViewLayout != nil && *req.TaskViewLayout != LayoutList && *req.TaskViewLayout != LayoutBoard {
		return utils.NewValidationError("invalid layout %q (valid: list, board)", *req.TaskViewLayout)
	}
	return nil
}

// Validate checks login or registration credentials.
func (c Credentials) Validate() error {
	email := strings.TrimSpace(c.Email)
	if email == "" {
		return utils.NewValidationError("email is required")
	}
	if !strings.Contains(email, "@") {
		return utils.NewValidationError("invalid email address %q", email)
	}
	if c.Password == "" {
		return utils.NewValidationError("password is required")
	}
	return nil
}

// Validate checks an import payload: every task needs a unique id.
func (e TaskExport) Validate() error {
	if e.Tasks == nil {
		return utils.NewValidationError("import data must contain a \"tasks\" array")
	}
	seen := make(map[string]bool, len(e.Tasks))
	for i, t := range e.Tasks {
		if t.ID == "" {
			return utils.NewValidationError("task %d has no id", i)
		}
		if seen[t.ID] {
			return utils.NewValidationError("duplicate task id %q", t.ID)
		}
		seen[t.ID] = true
	}
	return nil
}

// Validate checks a todo before it is sent.
func (in TodoInput) Validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return utils.NewValidationError("title is required")
	}
	return nil
}

// DecodeTaskExport parses an import file. Malformed JSON and a missing
// "tasks" array are validation errors.
func DecodeTaskExport(data []byte) (TaskExport, error) {
	var raw struct {
		Tasks json.RawMessage `json:"tasks"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return TaskExport{}, utils.NewValidationError("invalid JSON: %v", err)
	}
	trimmed := bytes.TrimSpace(raw.Tasks)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return TaskExport{}, utils.NewValidationError("import data must contain a \"tasks\" array")
	}
	var export TaskExport
	if err := json.Unmarshal(trimmed, &export.Tasks); err != nil {
		return TaskExport{}, utils.NewValidationError("invalid task in import data: %v", err)
	}
	if export.Tasks == nil {
		export.Tasks = []Task{}
	}
	return export, export.Validate()
}
