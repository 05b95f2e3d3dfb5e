//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-roulette/domain/chat"
	"chat-roulette/domain/matchmaking"
	"chat-roulette/domain/protocol"
	"context"
	"reflect"
	"time"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Transport is a live bidirectional channel to one client.
// Send must never block the caller.
type Transport interface {
	ID() string
	Send(out protocol.Outbound) error
	Close() error
	Done() <-chan struct{}
}

type IMatchmaker interface {
	Connect(ctx context.Context, req matchmaking.ConnectRequest, transport Transport) (matchmaking.Ticket, error)
	Deliver(ctx context.Context, sessionID matchmaking.SessionID, in protocol.Inbound) error
	Disconnect(ctx context.Context, sessionID matchmaking.SessionID) error
	Status(ctx context.Context) (matchmaking.Status, error)
}

// RoomHandle is the request/response surface of one room actor.
type RoomHandle interface {
	Init(ctx context.Context, cmd chat.InitCommand) error
	SubmitMessage(ctx context.Context, cmd chat.SubmitMessageCommand) (chat.Message, error)
	UserLeft(ctx context.Context, userID string) (chat.Closure, error)
	UserDisconnected(ctx context.Context, userID string) (chat.Closure, error)
}

type IRoomDirectory interface {
	Open(ctx context.Context, roomID chat.RoomID) (RoomHandle, error)
	Get(roomID chat.RoomID) (RoomHandle, bool)
	Forget(roomID chat.RoomID)
}

// Limiter charges one message against a user's bucket and returns the cooldown.
// Zero means the message may go through.
type Limiter interface {
	Charge(ctx context.Context) (time.Duration, error)
}

type ILimiterDirectory interface {
	Get(ctx context.Context, userID string) (Limiter, error)
}

type Censor interface {
	Censor(content string) (string, []string)
}
