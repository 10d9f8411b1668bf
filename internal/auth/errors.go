package auth

import "errors"

var (
	ErrNotFound         = errors.New("auth: not found")
	ErrAlreadyExists    = errors.New("auth: already exists")
	ErrInvalidInput     = errors.New("auth: invalid input")
	ErrUnauthorized     = errors.New("auth: unauthorized")
	ErrUserInactive     = errors.New("auth: user not active")
	ErrInvalidToken     = errors.New("auth: invalid token")
	ErrExpiredToken     = errors.New("auth: token expired")
	ErrRotationRejected = errors.New("auth: refresh rotation rejected")
	ErrForbidden        = errors.New("auth: forbidden")
	ErrConflict         = errors.New("auth: state conflict")
)
