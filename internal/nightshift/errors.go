package nightshift

import "errors"

var (
	ErrNoTaskType   = errors.New("task type is required")
	ErrTypeDisabled = errors.New("task type disabled by config")
)
