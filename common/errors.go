package common

import "errors"

var (
	ErrConnectionFailure = errors.New("connection failure")
	ErrDuplicateFile     = errors.New("file already exists")
	ErrDuplicateNode     = errors.New("data node already registered")
	ErrNotFound          = errors.New("not found")
	ErrNoAvailableNodes  = errors.New("no data nodes available")
	ErrMalformedMessage  = errors.New("malformed message")
	ErrInternal          = errors.New("internal server error")
	ErrUnknownNode       = errors.New("unknown data node")
	ErrAlreadyCompleted  = errors.New("file blocks already reported")
	ErrIncompleteFile    = errors.New("file blocks do not add up to the file size")
	ErrUnexpectedReply   = errors.New("unexpected reply")

	// Block lookups on a data node, matches ErrNotFound under errors.Is
	ErrBlockNotFound = &notFoundError{"block not found"}
)

type notFoundError struct{ msg string }

func (e *notFoundError) Error() string { return e.msg }

func (e *notFoundError) Is(target error) bool { return target == ErrNotFound }
