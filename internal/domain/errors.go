package domain

import "errors"

var (
	ErrAgentNotFound       = errors.New("agent not found")
	ErrAgentAlreadyExists  = errors.New("agent already exists")
	ErrPlatformNotFound    = errors.New("platform not found")
	ErrInvalidConfig       = errors.New("invalid platform config")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidHealthConfig = errors.New("invalid health check config")
	ErrInvalidAgent        = errors.New("invalid agent")
)
