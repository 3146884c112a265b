package task

import "errors"

var (
	ErrReferenceNotLoaded = errors.New("reference bundle not loaded")
	ErrSerialization      = errors.New("processing request is not serializable")
	ErrTaskNotFound       = errors.New("task not found")
)
