package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrAlreadyTerminal     = errors.New("job already terminal")
	ErrUnsupportedJobType  = errors.New("unsupported job type")
)
