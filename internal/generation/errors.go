package generation

import "errors"

var (
	// ErrInvalidResponse is returned when the model response is empty or unusable
	ErrInvalidResponse = errors.New("invalid response from language model")

	// ErrContentBlocked is returned when the model refuses the prompt on safety grounds
	ErrContentBlocked = errors.New("content blocked by language model safety filters")

	// ErrTransientFailure is returned for errors that may succeed on a later attempt
	ErrTransientFailure = errors.New("transient error during generation")

	// ErrInvalidConfig is returned when the generator configuration is invalid
	ErrInvalidConfig = errors.New("invalid generator configuration")

	// ErrEmptyPrompt is returned when there is nothing to send
	ErrEmptyPrompt = errors.New("prompt cannot be empty")
)
