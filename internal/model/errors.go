package model

import "errors"

var (
	// ErrBusy is returned when a send arrives while an agent turn is still streaming.
	ErrBusy = errors.New("agent is busy")

	// ErrAgentUnavailable is returned when no agent integration is configured or it cannot start.
	ErrAgentUnavailable = errors.New("agent integration unavailable")

	// ErrNoActiveSession is returned when an operation needs a streaming session and there is none.
	ErrNoActiveSession = errors.New("no active session")

	// ErrPromptRequired is returned when a send or submit carries an empty prompt.
	ErrPromptRequired = errors.New("prompt is required")

	// ErrTaskNotFound is returned when a task is not found.
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidStatus is returned for a task status outside the known set.
	ErrInvalidStatus = errors.New("invalid task status")

	// ErrPathTraversal is returned when a requested path escapes the workspace root.
	ErrPathTraversal = errors.New("path traversal not allowed")

	// ErrIsDirectory is returned when file content is requested for a directory.
	ErrIsDirectory = errors.New("path is a directory")

	// ErrFileTooLarge is returned when a file exceeds the content read limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrNotConfigured is returned when an optional integration has no credentials.
	ErrNotConfigured = errors.New("not configured")

	// ErrUpstream is returned when a remote API call fails.
	ErrUpstream = errors.New("upstream request failed")
)
