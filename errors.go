package portal

import "errors"

var (
	ErrUnauthorized      = errors.New("portal: unauthorized")
	ErrForbidden         = errors.New("portal: forbidden")
	ErrInvalidCredential = errors.New("portal: invalid credential")
	ErrNotFound          = errors.New("portal: not found")
	ErrInvalidInput      = errors.New("portal: invalid input")
)
