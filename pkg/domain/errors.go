package domain

import "errors"

// ErrAccessDenied is returned when a call presents a token that does not match the Environment's.
var ErrAccessDenied = errors.New("access denied")

// ErrNotInitialized is returned when a control call arrives before Initialize.
var ErrNotInitialized = errors.New("environment not initialized")

// ErrAlreadyInitialized is returned by a second Initialize call.
var ErrAlreadyInitialized = errors.New("environment already initialized")

// ErrOwnerUnset is returned when an Environment is initialized without an owner.
var ErrOwnerUnset = errors.New("environment owner not set")

// ErrAlreadyActive is returned on a re-entrant ExecuteScript while the loop is running.
var ErrAlreadyActive = errors.New("execution loop already active")

// ErrScriptFileUnavailable is returned when the script cannot be read at loop entry.
var ErrScriptFileUnavailable = errors.New("script file unavailable")

// ErrVariableNotFound is returned when writing a variable the script never declared.
var ErrVariableNotFound = errors.New("variable not found")

// ErrNotRunning is returned by worker control calls when no loop is live.
var ErrNotRunning = errors.New("no script running")

// ErrClosed is returned by calls made after the Coordinator was closed.
var ErrClosed = errors.New("coordinator closed")

// ErrSnapshotNotFound is returned when a snapshot store has nothing for a session.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// ErrSessionNotFound is returned when a session name is unknown to the manager.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionExists is returned when adding a session whose name is taken.
var ErrSessionExists = errors.New("session already exists")
