package models

import "weftsync/internal/utils"

var (
	ErrRoomNotFound = utils.NewNotFoundError("room not found")
	ErrUnknownTag   = utils.NewMalformedMessageError("unrecognized control message tag")
)
