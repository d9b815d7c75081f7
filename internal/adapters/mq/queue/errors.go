package queue

import (
	"errors"

	"github.com/okian/soccer-tracker/internal/domain/model"
)

// Dispatch failures. Both are transport-level from the caller's view.
var (
	ErrFull   = model.NewError(model.KindNetwork, "enqueue", errors.New("fetch queue full"))
	ErrClosed = model.NewError(model.KindNetwork, "enqueue", errors.New("fetch queue closed"))
)
