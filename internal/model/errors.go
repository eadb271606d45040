package model

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation error")
	ErrDuplicateIdentity = errors.New("duplicate identity")
	ErrRefreshInProgress = errors.New("refresh already in progress")
)
