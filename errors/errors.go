package errors

import "fmt"

var (
	ErrWorkerPanic          = fmt.Errorf("worker panic")
	ErrCapacityExceeded     = fmt.Errorf("room capacity exceeded")
	ErrChatDisabled         = fmt.Errorf("chat is disabled in this room")
	ErrForbidden            = fmt.Errorf("operation reserved to the host")
	ErrDuplicateParticipant = fmt.Errorf("participant id already connected")
	ErrNotFound             = fmt.Errorf("participant not found")
	ErrRoomClosed           = fmt.Errorf("room is closed")
)
