//go:build unix

package errors

import "syscall"

var noDiskSpaceErrnos = []error{syscall.ENOSPC, syscall.EDQUOT}
