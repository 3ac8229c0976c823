package compiler

import "errors"

var (
	// ErrLanguageNotFound is returned when a language is not found in the registry
	ErrLanguageNotFound = errors.New("language not found")

	// ErrLanguageAlreadyExists is returned when trying to register a duplicate language
	ErrLanguageAlreadyExists = errors.New("language already exists")

	// ErrLanguageDisabled is returned when trying to use a disabled language
	ErrLanguageDisabled = errors.New("language is disabled")

	// ErrInvalidLanguageID is returned when a language ID is invalid
	ErrInvalidLanguageID = errors.New("invalid language ID")

	// ErrInvalidLanguageName is returned when a language name is invalid
	ErrInvalidLanguageName = errors.New("invalid language name")

	// ErrInvalidCommand is returned when a language has no compiler command
	ErrInvalidCommand = errors.New("invalid compiler command")

	// ErrDockerNotAvailable is returned when Docker is not available
	ErrDockerNotAvailable = errors.New("docker is not available")

	// ErrImagePullFailed is returned when image pull fails
	ErrImagePullFailed = errors.New("failed to pull docker image")

	// ErrContainerFailed is returned when container execution fails
	ErrContainerFailed = errors.New("container execution failed")

	// ErrTimeout is returned when compilation times out
	ErrTimeout = errors.New("compilation timeout")
)
