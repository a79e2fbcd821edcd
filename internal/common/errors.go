// Package common holds the error taxonomy shared by the chatline services
// and the gateway that translates it into HTTP responses.
package common

import "errors"

var (

	// repository specific errors
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// service specific errors
	ErrInternal           = errors.New("internal error")
	ErrBadRequest         = errors.New("bad request")
	ErrDuplicateUser      = errors.New("user exists")
	ErrInvalidCredentials = errors.New("invalid credentials")

	// auth-specific errors
	ErrInvalidToken = errors.New("invalid token")
	ErrUnauthorized = errors.New("unauthorized")
)
