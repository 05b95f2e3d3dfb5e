package chat

import (
	"time"
)

type Command interface {
	RoomID() RoomID
}

type InitCommand struct {
	Room         RoomID
	Participants [2]Participant
}

func (c InitCommand) RoomID() RoomID {
	return c.Room
}

type SubmitMessageCommand struct {
	Room        RoomID
	UserID      string
	DisplayName string
	Content     string
	CreatedAt   time.Time
}

func (c SubmitMessageCommand) RoomID() RoomID {
	return c.Room
}

type DepartureCommand struct {
	Room   RoomID
	UserID string
	Cause  DepartureCause
}

func (c DepartureCommand) RoomID() RoomID {
	return c.Room
}
