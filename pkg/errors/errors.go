package errors

import (
	"errors"
	"net/http"
)

var (
	ErrEmptyMessage        = errors.New("message text is empty")
	ErrInvalidReactionType = errors.New("invalid reaction type")
	ErrEngineClosed        = errors.New("room engine is closed")
	ErrEngineStarted       = errors.New("room engine already started")
	ErrRoomNotFound        = errors.New("room not found")
	ErrServiceClosed       = errors.New("chat service is closed")
	ErrStorageUnavailable  = errors.New("local storage unavailable")
)

func HTTPStatusFromError(err error) int {
	switch {
	case errors.Is(err, ErrEmptyMessage), errors.Is(err, ErrInvalidReactionType):
		return http.StatusBadRequest
	case errors.Is(err, ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrEngineClosed), errors.Is(err, ErrServiceClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
