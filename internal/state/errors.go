package state

import "errors"

var ErrNotFound = errors.New("not found")
