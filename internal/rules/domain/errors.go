package rules

import "errors"

// ErrNotFound indicates a missing rule or execution record.
var ErrNotFound = errors.New("rules: not found")
