package app

import (
	"errors"
	"fmt"
	"net/http"

	"cowrite/engine/internal/ot"
	"cowrite/engine/internal/presence"
	"cowrite/engine/internal/room"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// mapEngineError translates engine-layer sentinel errors into the typed
// taxonomy crossing the component boundary.
func mapEngineError(err error) *DomainError {
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		return domainError(http.StatusNotFound, "ROOM_NOT_FOUND", err.Error(), nil)
	case errors.Is(err, room.ErrDuplicateRoom):
		return domainError(http.StatusConflict, "DUPLICATE_ROOM", err.Error(), nil)
	case errors.Is(err, room.ErrNotParticipant):
		return domainError(http.StatusForbidden, "NOT_PARTICIPANT", err.Error(), nil)
	case errors.Is(err, ot.ErrInvalidOperation):
		return domainError(http.StatusBadRequest, "INVALID_OPERATION", err.Error(), nil)
	case errors.Is(err, presence.ErrInvalidStatus):
		return domainError(http.StatusBadRequest, "INVALID_STATUS", err.Error(), nil)
	default:
		return domainError(http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
	}
}
