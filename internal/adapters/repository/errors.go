package repository

import (
	"errors"

	"github.com/okian/soccer-tracker/internal/domain/model"
)

// Lookup failures. Both match model.ErrNotFound.
var (
	ErrPlayerNotFound = model.NewError(model.KindNotFound, "", errors.New("player not found"))
	ErrStatNotFound   = model.NewError(model.KindNotFound, "", errors.New("stat not found for this player"))
)
