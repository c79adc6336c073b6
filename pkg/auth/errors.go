package auth

import "errors"

var (
	// ErrUnauthorized is returned when a request carries no credentials.
	ErrUnauthorized = errors.New("unauthorized: authentication required")

	// ErrForbidden is returned when the caller lacks a required role.
	ErrForbidden = errors.New("forbidden: insufficient permissions")

	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
