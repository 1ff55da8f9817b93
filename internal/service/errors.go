package service

import (
	"errors"

	"labeling-service/internal/assignment"
)

var (
	ErrItemNotFound         = errors.New("item not found")
	ErrInvalidConfiguration = assignment.ErrInvalidConfiguration
	ErrInvalidLabel         = errors.New("invalid label")
	ErrInvalidReason        = errors.New("invalid reason")
	ErrInvalidStudent       = errors.New("student is required")

	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidInput       = errors.New("username and password are required")
	ErrForbidden          = errors.New("forbidden")
)
