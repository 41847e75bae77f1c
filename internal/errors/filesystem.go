package errors

import (
	"errors"
	"fmt"
)

// FileSystemError reports a failure of a local file side effect.
type FileSystemError struct {
	NoDiskSpace bool
	Err         error
}

// ErrNoDiskSpace is matched by errors.Is for every FileSystemError with NoDiskSpace set.
var ErrNoDiskSpace = errors.New("no disk space")

// NewFileSystemError wraps err, flagging disk-full conditions.
func NewFileSystemError(err error) *FileSystemError {
	return &FileSystemError{NoDiskSpace: IsNoDiskSpace(err), Err: err}
}

func (e *FileSystemError) Error() string {
	if e.NoDiskSpace {
		return fmt.Sprintf("file system error: %v: %v", ErrNoDiskSpace, e.Err)
	}
	return fmt.Sprintf("file system error: %v", e.Err)
}

func (e *FileSystemError) Unwrap() error {
	return e.Err
}

func (e *FileSystemError) Is(target error) bool {
	return target == ErrNoDiskSpace && e.NoDiskSpace
}

// IsNoDiskSpace reports whether err was caused by a full disk or exhausted quota.
func IsNoDiskSpace(err error) bool {
	if err == nil {
		return false
	}
	for _, errno := range noDiskSpaceErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}
