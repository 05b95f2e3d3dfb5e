package runtime

import (
	"chat-roulette/contract"
	"chat-roulette/domain/chat"
	"chat-roulette/errors"
	"chat-roulette/repositories"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"
)

type RoomSettings struct {
	// MaxContentLength is counted in characters, not bytes
	MaxContentLength int
	CallTimeout      time.Duration
}

type roomRequest struct {
	cmd   chat.Command
	reply chan roomReply
}

type roomReply struct {
	message chat.Message
	closure chat.Closure
	err     error
}

// Room is the actor owning the ordering and the transcript of one pair.
// Its fields below requests are only touched by the Run goroutine.
// A departure of either side is terminal: the actor purges the transcript,
// answers and exits.
type Room struct {
	id         chat.RoomID
	settings   RoomSettings
	repository repositories.ITranscriptRepository
	censor     contract.Censor
	clock      func() time.Time
	log        *slog.Logger
	requests   chan roomRequest
	done       chan struct{}
	doneOnce   sync.Once

	participants  map[string]chat.Participant
	lastTimestamp int64
	initialized   bool
}

func NewRoom(id chat.RoomID, settings RoomSettings, repository repositories.ITranscriptRepository,
	censor contract.Censor, clock func() time.Time, log *slog.Logger) *Room {
	return &Room{
		id:         id,
		settings:   settings,
		repository: repository,
		censor:     censor,
		clock:      clock,
		log:        log.With("room_id", id),
		requests:   make(chan roomRequest),
		done:       make(chan struct{}),
	}
}

func (r *Room) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.log.Debug("Stopping room")
			r.close()
			return ctx.Err()
		case req := <-r.requests:
			reply, closed := r.handle(req.cmd)
			req.reply <- reply
			if closed {
				r.close()
				return nil
			}
		}
	}
}

// close makes later calls fail fast with ErrRoomClosed.
func (r *Room) close() {
	r.doneOnce.Do(func() { close(r.done) })
}

func (r *Room) handle(cmd chat.Command) (roomReply, bool) {
	switch c := cmd.(type) {
	case chat.InitCommand:
		return roomReply{err: r.init(c)}, false
	case chat.SubmitMessageCommand:
		message, err := r.submit(c)
		return roomReply{message: message, err: err}, false
	case chat.DepartureCommand:
		return roomReply{closure: r.teardown(c)}, true
	default:
		return roomReply{err: fmt.Errorf("%w: unexpected room command %T", errors.ErrProtocol, cmd)}, false
	}
}

func (r *Room) init(cmd chat.InitCommand) error {
	if r.initialized {
		return errors.ErrRoomAlreadyInitialized
	}
	r.participants = make(map[string]chat.Participant, len(cmd.Participants))
	for _, p := range cmd.Participants {
		r.participants[p.UserID] = p
	}
	r.initialized = true
	r.log.Debug("Room initialized",
		"first", cmd.Participants[0].DisplayName,
		"second", cmd.Participants[1].DisplayName)
	return nil
}

func (r *Room) submit(cmd chat.SubmitMessageCommand) (chat.Message, error) {
	if !r.initialized {
		return chat.Message{}, errors.ErrRoomNotInitialized
	}
	if _, ok := r.participants[cmd.UserID]; !ok {
		return chat.Message{}, fmt.Errorf("%w: %s is not a participant", errors.ErrProtocol, cmd.UserID)
	}
	if length := utf8.RuneCountInString(cmd.Content); length > r.settings.MaxContentLength {
		return chat.Message{}, fmt.Errorf("%w: %d characters, max %d",
			errors.ErrMessageTooLong, length, r.settings.MaxContentLength)
	}

	content := cmd.Content
	if r.censor != nil {
		content, _ = r.censor.Censor(content)
	}

	message := chat.Message{
		UserID:      cmd.UserID,
		DisplayName: cmd.DisplayName,
		Content:     content,
		Timestamp:   chat.NextTimestamp(r.clock(), r.lastTimestamp),
	}
	if err := r.repository.Append(r.id, message); err != nil {
		return chat.Message{}, errors.Transient(err)
	}
	r.lastTimestamp = message.Timestamp
	return message, nil
}

func (r *Room) teardown(cmd chat.DepartureCommand) chat.Closure {
	r.participants = nil
	if err := r.repository.Purge(r.id); err != nil {
		r.log.Warn("Failed to purge transcript", "error", err)
	}
	r.log.Debug("Room closed", "user_id", cmd.UserID, "cause", cmd.Cause)
	return chat.Closure{Room: r.id, UserID: cmd.UserID, Cause: cmd.Cause}
}

func (r *Room) call(ctx context.Context, cmd chat.Command) (roomReply, error) {
	ctx, cancel := context.WithTimeout(ctx, r.settings.CallTimeout)
	defer cancel()

	req := roomRequest{cmd: cmd, reply: make(chan roomReply, 1)}
	select {
	case r.requests <- req:
	case <-r.done:
		return roomReply{}, errors.ErrRoomClosed
	case <-ctx.Done():
		return roomReply{}, errors.Transient(ctx.Err())
	}

	select {
	case reply := <-req.reply:
		return reply, reply.err
	case <-ctx.Done():
		return roomReply{}, errors.Transient(ctx.Err())
	}
}

func (r *Room) Init(ctx context.Context, cmd chat.InitCommand) error {
	_, err := r.call(ctx, cmd)
	return err
}

func (r *Room) SubmitMessage(ctx context.Context, cmd chat.SubmitMessageCommand) (chat.Message, error) {
	reply, err := r.call(ctx, cmd)
	return reply.message, err
}

func (r *Room) UserLeft(ctx context.Context, userID string) (chat.Closure, error) {
	return r.depart(ctx, userID, chat.Left)
}

func (r *Room) UserDisconnected(ctx context.Context, userID string) (chat.Closure, error) {
	return r.depart(ctx, userID, chat.Disconnected)
}

// depart never fails on a room that is already gone.
func (r *Room) depart(ctx context.Context, userID string, cause chat.DepartureCause) (chat.Closure, error) {
	reply, err := r.call(ctx, chat.DepartureCommand{Room: r.id, UserID: userID, Cause: cause})
	if errors.Is(err, errors.ErrRoomClosed) {
		return chat.Closure{Room: r.id, UserID: userID, Cause: cause, AlreadyClosed: true}, nil
	}
	return reply.closure, err
}

func (r *Room) Done() <-chan struct{} {
	return r.done
}
