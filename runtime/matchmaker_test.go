package runtime

import (
	"chat-roulette/contract"
	"chat-roulette/domain/chat"
	"chat-roulette/domain/matchmaking"
	"chat-roulette/domain/protocol"
	"chat-roulette/errors"
	"chat-roulette/mocks"
	"chat-roulette/observability"
	"chat-roulette/runtime/ratelimit"
	"chat-roulette/runtime/workers"
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type fakeTransport struct {
	id        string
	frames    chan protocol.Outbound
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		id:     uuid.NewString(),
		frames: make(chan protocol.Outbound, 128),
		done:   make(chan struct{}),
	}
}

func (f *fakeTransport) ID() string { return f.id }

func (f *fakeTransport) Send(out protocol.Outbound) error {
	select {
	case <-f.done:
		return errors.ErrPartnerGone
	default:
	}
	select {
	case f.frames <- out:
		return nil
	default:
		return errors.ErrPartnerGone
	}
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

func (f *fakeTransport) Done() <-chan struct{} { return f.done }

func (f *fakeTransport) next(t *testing.T) protocol.Outbound {
	t.Helper()
	select {
	case out := <-f.frames:
		return out
	case <-time.After(2 * time.Second):
		require.FailNow(t, "no frame received")
		return protocol.Outbound{}
	}
}

func (f *fakeTransport) silent(t *testing.T, during time.Duration) {
	t.Helper()
	select {
	case out := <-f.frames:
		require.FailNow(t, "unexpected frame", "%+v", out)
	case <-time.After(during):
	}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	mm      *Matchmaker
	rooms   *RoomDirectory
	metrics *observability.Metrics
	clock   *testClock
	stop    func()
}

func matchmakerSettings(strategy matchmaking.PairingStrategy) MatchmakerSettings {
	return MatchmakerSettings{
		Strategy:         strategy,
		PairingInterval:  100 * time.Millisecond,
		BufferSize:       64,
		MaxContentLength: 256,
		CallTimeout:      time.Second,
		MaxPending:       16,
	}
}

func startMatchmaker(t *testing.T, settings MatchmakerSettings) *harness {
	return startMatchmakerWith(t, settings, nil)
}

// startMatchmakerWith runs the matchmaker against the given rooms,
// real room actors are used when directory is nil.
func startMatchmakerWith(t *testing.T, settings MatchmakerSettings, directory contract.IRoomDirectory) *harness {
	ctrl := gomock.NewController(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	metrics := observability.NewMetrics()
	clock := &testClock{now: time.UnixMilli(1_700_000_000_000)}

	sup := workers.NewSupervisor(log, 10*time.Millisecond, metrics)
	var rooms *RoomDirectory
	if directory == nil {
		repository := mocks.NewMockITranscriptRepository(ctrl)
		repository.EXPECT().Append(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
		repository.EXPECT().Purge(gomock.Any()).Return(nil).AnyTimes()
		rooms = NewRoomDirectory(sup, repository, nil, roomSettings(), time.Now, metrics, log)
		directory = rooms
	}
	limiters := ratelimit.NewDirectory(sup, ratelimit.Settings{
		Quantum:     time.Second,
		Burst:       5 * time.Second,
		IdleTimeout: time.Minute,
		CallTimeout: time.Second,
	}, clock.Now, log)
	mm := NewMatchmaker(settings, directory, limiters, clock.Now, metrics, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sup.Add(mm).Run(ctx)
		close(done)
	}()
	stop := func() {
		cancel()
		<-done
	}
	t.Cleanup(stop)
	return &harness{mm: mm, rooms: rooms, metrics: metrics, clock: clock, stop: stop}
}

func (h *harness) connect(t *testing.T, name string) (*fakeTransport, matchmaking.Ticket) {
	t.Helper()
	transport := newFakeTransport()
	ticket, err := h.mm.Connect(context.Background(), matchmaking.ConnectRequest{DisplayName: name}, transport)
	require.NoError(t, err)
	return transport, ticket
}

func (h *harness) deliver(t *testing.T, ticket matchmaking.Ticket, in protocol.Inbound) {
	t.Helper()
	require.NoError(t, h.mm.Deliver(context.Background(), ticket.SessionID, in))
}

func (h *harness) status(t *testing.T) matchmaking.Status {
	t.Helper()
	status, err := h.mm.Status(context.Background())
	require.NoError(t, err)
	return status
}

func say(content string) protocol.Inbound {
	return protocol.Inbound{Type: protocol.InboundMessage, Content: content}
}

func TestMatchmaker_Roulette_Scenario(t *testing.T) {
	req := require.New(t)
	h := startMatchmaker(t, matchmakerSettings(matchmaking.Immediate))

	// Given A and B connect
	a, ticketA := h.connect(t, "Alice")
	waiting := a.next(t)
	req.Equal(protocol.OutboundStatus, waiting.Type)
	req.Equal(protocol.StatusWaiting, waiting.Status)
	req.Equal(ticketA.UserID, waiting.UserID)
	req.NotEmpty(ticketA.UserID)

	b, ticketB := h.connect(t, "Bob")
	req.Equal(protocol.StatusWaiting, b.next(t).Status)

	// Then both are told who they are talking to
	joinedA, joinedB := a.next(t), b.next(t)
	req.Equal(protocol.OutboundRoomJoined, joinedA.Type)
	req.Equal(protocol.OutboundRoomJoined, joinedB.Type)
	req.Equal("Bob", joinedA.PartnerName)
	req.Equal("Alice", joinedB.PartnerName)
	req.Equal(joinedA.RoomID, joinedB.RoomID)
	firstRoom := joinedA.RoomID

	// When A says hi
	h.deliver(t, ticketA, say("hi"))

	// Then both receive the same canonical message
	gotA, gotB := a.next(t), b.next(t)
	req.Equal(protocol.OutboundMessage, gotA.Type)
	req.Equal(gotA, gotB)
	req.Equal("hi", gotA.Content)
	req.Equal("Alice", gotA.UserName)
	req.Equal(ticketA.UserID, gotA.UserID)
	req.Positive(gotA.Timestamp)

	// When B rolls
	h.deliver(t, ticketB, protocol.Inbound{Type: protocol.InboundRoll})

	// Then A is told its partner left and B waits again
	req.Equal(protocol.OutboundPartnerLeft, a.next(t).Type)
	rolled := b.next(t)
	req.Equal(protocol.OutboundStatus, rolled.Type)
	req.Equal(protocol.MsgLookingForNewMatch, rolled.Message)
	req.Equal(matchmaking.Status{WaitingCount: 2, TotalConnected: 2}, h.status(t))

	// When C connects
	c, _ := h.connect(t, "Carol")
	req.Equal(protocol.StatusWaiting, c.next(t).Status)

	// Then C is paired with A in a brand new room
	joinedC, joinedA := c.next(t), a.next(t)
	req.Equal("Alice", joinedC.PartnerName)
	req.Equal("Carol", joinedA.PartnerName)
	req.Equal(joinedA.RoomID, joinedC.RoomID)
	req.NotEqual(firstRoom, joinedC.RoomID)

	// And B keeps waiting
	b.silent(t, 50*time.Millisecond)
	req.Equal(matchmaking.Status{WaitingCount: 1, TotalConnected: 3}, h.status(t))
	req.Equal(2.0, testutil.ToFloat64(h.metrics.Pairs))
	req.Equal(1.0, testutil.ToFloat64(h.metrics.Relayed))

	// And the first room is eventually torn down
	req.Eventually(func() bool {
		_, ok := h.rooms.Get(chat.RoomID(firstRoom))
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestMatchmaker_Leave_While_Unmatched_Is_NoOp(t *testing.T) {
	req := require.New(t)
	h := startMatchmaker(t, matchmakerSettings(matchmaking.Immediate))
	a, ticketA := h.connect(t, "Alice")
	a.next(t)

	// When a lonely user leaves twice
	h.deliver(t, ticketA, protocol.Inbound{Type: protocol.InboundLeave})
	h.deliver(t, ticketA, protocol.Inbound{Type: protocol.InboundRoll})

	// Then it is only reminded that it is already waiting
	for i := 0; i < 2; i++ {
		notice := a.next(t)
		req.Equal(protocol.OutboundStatus, notice.Type)
		req.Equal(protocol.MsgAlreadyLooking, notice.Message)
	}

	// And no room nor duplicate was created
	req.Equal(matchmaking.Status{WaitingCount: 1, TotalConnected: 1}, h.status(t))
	req.Zero(h.rooms.Len())
}

func TestMatchmaker_Message_And_Typing_While_Unmatched(t *testing.T) {
	req := require.New(t)
	h := startMatchmaker(t, matchmakerSettings(matchmaking.Immediate))
	a, ticketA := h.connect(t, "Alice")
	a.next(t)

	h.deliver(t, ticketA, protocol.Inbound{Type: protocol.InboundTyping})
	h.deliver(t, ticketA, say("hello?"))

	// Then typing is ignored and the message gets a soft notice
	notice := a.next(t)
	req.Equal(protocol.OutboundStatus, notice.Type)
	req.Equal(protocol.MsgNoActivePartner, notice.Message)
	a.silent(t, 50*time.Millisecond)
}

func TestMatchmaker_Typing_Reaches_Partner_Only(t *testing.T) {
	req := require.New(t)
	h := startMatchmaker(t, matchmakerSettings(matchmaking.Immediate))
	a, ticketA := h.connect(t, "Alice")
	b, _ := h.connect(t, "Bob")
	a.next(t)
	a.next(t)
	b.next(t)
	b.next(t)

	h.deliver(t, ticketA, protocol.Inbound{Type: protocol.InboundTyping})

	typing := b.next(t)
	req.Equal(protocol.OutboundTyping, typing.Type)
	req.Equal(ticketA.UserID, typing.UserID)
	a.silent(t, 50*time.Millisecond)
}

func TestMatchmaker_Disconnect_Notifies_Partner(t *testing.T) {
	req := require.New(t)
	h := startMatchmaker(t, matchmakerSettings(matchmaking.Immediate))
	a, _ := h.connect(t, "Alice")
	b, ticketB := h.connect(t, "Bob")
	a.next(t)
	a.next(t)
	b.next(t)
	joined := b.next(t)

	// When B's connection drops
	req.NoError(h.mm.Disconnect(context.Background(), ticketB.SessionID))

	// Then A is told and waits again, without a status frame
	req.Equal(protocol.OutboundPartnerDisconnected, a.next(t).Type)
	a.silent(t, 50*time.Millisecond)
	req.Equal(matchmaking.Status{WaitingCount: 1, TotalConnected: 1}, h.status(t))

	// And B's transport is closed and the room is gone
	select {
	case <-b.Done():
	default:
		req.Fail("transport should be closed")
	}
	req.Eventually(func() bool {
		_, ok := h.rooms.Get(chat.RoomID(joined.RoomID))
		return !ok
	}, time.Second, 10*time.Millisecond)

	// And disconnecting again is harmless
	req.NoError(h.mm.Disconnect(context.Background(), ticketB.SessionID))
	req.Equal(matchmaking.Status{WaitingCount: 1, TotalConnected: 1}, h.status(t))
}

func TestMatchmaker_Disconnect_While_Unmatched(t *testing.T) {
	req := require.New(t)
	h := startMatchmaker(t, matchmakerSettings(matchmaking.Immediate))
	a, ticketA := h.connect(t, "Alice")
	a.next(t)

	req.NoError(h.mm.Disconnect(context.Background(), ticketA.SessionID))

	req.Equal(matchmaking.Status{}, h.status(t))
}

func TestMatchmaker_Sixth_Message_Is_Throttled(t *testing.T) {
	req := require.New(t)
	h := startMatchmaker(t, matchmakerSettings(matchmaking.Immediate))
	a, ticketA := h.connect(t, "Alice")
	b, _ := h.connect(t, "Bob")
	a.next(t)
	a.next(t)
	b.next(t)
	b.next(t)

	// When A bursts six messages
	for i := 1; i <= 6; i++ {
		h.deliver(t, ticketA, say(fmt.Sprintf("m%d", i)))
	}

	// Then five are relayed in order and the sixth is refused to A only
	for i := 1; i <= 5; i++ {
		req.Equal(fmt.Sprintf("m%d", i), a.next(t).Content)
		req.Equal(fmt.Sprintf("m%d", i), b.next(t).Content)
	}
	throttled := a.next(t)
	req.Equal(protocol.OutboundError, throttled.Type)
	req.Equal(protocol.MsgTooFast, throttled.Message)
	b.silent(t, 50*time.Millisecond)
	req.Equal(1.0, testutil.ToFloat64(h.metrics.Rejected.WithLabelValues("rate_limited")))

	// When the cooldown is waited out
	h.clock.Advance(time.Second)
	h.deliver(t, ticketA, say("m7"))

	// Then sending works again
	req.Equal("m7", a.next(t).Content)
	req.Equal("m7", b.next(t).Content)
}

func TestMatchmaker_Too_Long_Message_Is_Not_Broadcast(t *testing.T) {
	req := require.New(t)
	h := startMatchmaker(t, matchmakerSettings(matchmaking.Immediate))
	a, ticketA := h.connect(t, "Alice")
	b, _ := h.connect(t, "Bob")
	a.next(t)
	a.next(t)
	b.next(t)
	b.next(t)

	h.deliver(t, ticketA, say(strings.Repeat("x", 257)))

	refused := a.next(t)
	req.Equal(protocol.OutboundError, refused.Type)
	req.Contains(refused.Message, "256")
	b.silent(t, 50*time.Millisecond)

	h.deliver(t, ticketA, say(strings.Repeat("x", 256)))
	req.Len(b.next(t).Content, 256)
}

func TestMatchmaker_Batched_Pairs_On_Timer(t *testing.T) {
	req := require.New(t)
	h := startMatchmaker(t, matchmakerSettings(matchmaking.Batched))

	a, _ := h.connect(t, "Alice")
	b, _ := h.connect(t, "Bob")
	a.next(t)
	b.next(t)

	// Then nobody is paired before the timer fires
	req.Equal(matchmaking.Status{WaitingCount: 2, TotalConnected: 2}, h.status(t))

	// And both are paired once it does
	req.Equal(protocol.OutboundRoomJoined, a.next(t).Type)
	req.Equal(protocol.OutboundRoomJoined, b.next(t).Type)
	req.Equal(matchmaking.Status{WaitingCount: 0, TotalConnected: 2}, h.status(t))
}

func TestMatchmaker_Batched_Skips_Stale_Sessions(t *testing.T) {
	req := require.New(t)
	h := startMatchmaker(t, matchmakerSettings(matchmaking.Batched))

	a, _ := h.connect(t, "Alice")
	b, _ := h.connect(t, "Bob")
	c, _ := h.connect(t, "Carol")

	// Given B's connection died without a disconnect reaching the matchmaker
	req.NoError(b.Close())

	// Then the pass pairs A and C and forgets B
	a.next(t)
	c.next(t)
	joinedA, joinedC := a.next(t), c.next(t)
	req.Equal("Carol", joinedA.PartnerName)
	req.Equal("Alice", joinedC.PartnerName)
	req.Equal(matchmaking.Status{WaitingCount: 0, TotalConnected: 2}, h.status(t))
}

func TestMatchmaker_Each_Session_In_Exactly_One_State(t *testing.T) {
	req := require.New(t)
	h := startMatchmaker(t, matchmakerSettings(matchmaking.Immediate))
	random := rand.New(rand.NewSource(42))

	var tickets []matchmaking.Ticket
	for i := 0; i < 300; i++ {
		switch op := random.Intn(4); {
		case op == 0 || len(tickets) == 0:
			_, ticket := h.connect(t, fmt.Sprintf("user-%d", i))
			tickets = append(tickets, ticket)
		case op == 1:
			j := random.Intn(len(tickets))
			req.NoError(h.mm.Disconnect(context.Background(), tickets[j].SessionID))
			tickets = append(tickets[:j], tickets[j+1:]...)
		case op == 2:
			h.deliver(t, tickets[random.Intn(len(tickets))], protocol.Inbound{Type: protocol.InboundRoll})
		default:
			h.deliver(t, tickets[random.Intn(len(tickets))], say("ping"))
		}
	}
	status := h.status(t)
	req.Equal(len(tickets), status.TotalConnected)

	// When the actor is stopped its state can be read safely
	h.stop()

	for _, s := range h.mm.registry.Sessions() {
		waiting := h.mm.registry.IsWaiting(s.ID)
		req.NotEqual(waiting, s.InRoom(), "session %s must be waiting or in a room", s.ID)
		if s.InRoom() {
			members := h.mm.registry.Members(s.Room)
			req.Len(members, 2)
			req.Contains(members, s)
		}
	}

	// And a stopped matchmaker refuses new connections
	_, err := h.mm.Connect(context.Background(), matchmaking.ConnectRequest{}, newFakeTransport())
	req.ErrorIs(err, errors.ErrMatchmakerStopped)
}

func TestMatchmaker_Connect_Defaults(t *testing.T) {
	req := require.New(t)
	h := startMatchmaker(t, matchmakerSettings(matchmaking.Immediate))

	ticket, err := h.mm.Connect(context.Background(), matchmaking.ConnectRequest{UserID: "u-42", DisplayName: "  "}, newFakeTransport())
	req.NoError(err)
	req.Equal("u-42", ticket.UserID)
	req.Equal(matchmaking.DefaultDisplayName, ticket.DisplayName)
}

func TestMatchmaker_Split_Pair_Meets_Again_Once_Partner_Moved_On(t *testing.T) {
	req := require.New(t)
	h := startMatchmaker(t, matchmakerSettings(matchmaking.Immediate))
	a, _ := h.connect(t, "Alice")
	b, ticketB := h.connect(t, "Bob")
	a.next(t)
	a.next(t)
	b.next(t)
	b.next(t)

	// Given B rolled away from A and C took B's place
	h.deliver(t, ticketB, protocol.Inbound{Type: protocol.InboundRoll})
	req.Equal(protocol.OutboundPartnerLeft, a.next(t).Type)
	req.Equal(protocol.MsgLookingForNewMatch, b.next(t).Message)
	c, ticketC := h.connect(t, "Carol")
	c.next(t)
	req.Equal("Alice", c.next(t).PartnerName)
	req.Equal("Carol", a.next(t).PartnerName)

	// When C drops
	req.NoError(h.mm.Disconnect(context.Background(), ticketC.SessionID))

	// Then A and B, alone in the pool, are paired again
	req.Equal(protocol.OutboundPartnerDisconnected, a.next(t).Type)
	joinedA, joinedB := a.next(t), b.next(t)
	req.Equal("Bob", joinedA.PartnerName)
	req.Equal("Alice", joinedB.PartnerName)
	req.Equal(matchmaking.Status{WaitingCount: 0, TotalConnected: 2}, h.status(t))
}

func TestMatchmaker_Room_Unavailable_Only_Tells_Sender(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	directory := mocks.NewMockIRoomDirectory(ctrl)
	room := mocks.NewMockRoomHandle(ctrl)
	directory.EXPECT().Open(gomock.Any(), gomock.Any()).Return(room, nil)
	directory.EXPECT().Get(gomock.Any()).Return(room, true).AnyTimes()
	directory.EXPECT().Forget(gomock.Any()).AnyTimes()
	room.EXPECT().Init(gomock.Any(), gomock.Any()).Return(nil)
	room.EXPECT().UserLeft(gomock.Any(), gomock.Any()).Return(chat.Closure{}, nil).AnyTimes()
	room.EXPECT().UserDisconnected(gomock.Any(), gomock.Any()).Return(chat.Closure{}, nil).AnyTimes()
	// Given a room that times out on the first try and on the retry
	room.EXPECT().
		SubmitMessage(gomock.Any(), gomock.Any()).
		Return(chat.Message{}, errors.Transient(context.DeadlineExceeded)).
		Times(2)
	h := startMatchmakerWith(t, matchmakerSettings(matchmaking.Immediate), directory)
	a, ticketA := h.connect(t, "Alice")
	b, _ := h.connect(t, "Bob")
	a.next(t)
	a.next(t)
	b.next(t)
	b.next(t)

	// When A talks
	h.deliver(t, ticketA, say("hi"))

	// Then A alone is told something went wrong
	failed := a.next(t)
	req.Equal(protocol.OutboundError, failed.Type)
	req.Equal(protocol.MsgUnavailable, failed.Message)
	b.silent(t, 50*time.Millisecond)
	req.Equal(1.0, testutil.ToFloat64(h.metrics.Rejected.WithLabelValues("unavailable")))

	// And both stay in their room
	req.Equal(matchmaking.Status{WaitingCount: 0, TotalConnected: 2}, h.status(t))
}

func TestMatchmaker_Failed_Room_Open_Is_Retried(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	directory := mocks.NewMockIRoomDirectory(ctrl)
	room := mocks.NewMockRoomHandle(ctrl)
	directory.EXPECT().Open(gomock.Any(), gomock.Any()).Return(room, nil).AnyTimes()
	directory.EXPECT().Get(gomock.Any()).Return(room, true).AnyTimes()
	directory.EXPECT().Forget(gomock.Any()).AnyTimes()
	room.EXPECT().UserLeft(gomock.Any(), gomock.Any()).Return(chat.Closure{AlreadyClosed: true}, nil).AnyTimes()
	// Given the first room fails to initialize, retry included, and the next one works
	room.EXPECT().Init(gomock.Any(), gomock.Any()).Return(errors.Transient(context.DeadlineExceeded)).Times(2)
	room.EXPECT().Init(gomock.Any(), gomock.Any()).Return(nil)
	h := startMatchmakerWith(t, matchmakerSettings(matchmaking.Immediate), directory)

	// When A and B connect
	a, _ := h.connect(t, "Alice")
	b, _ := h.connect(t, "Bob")
	req.Equal(protocol.StatusWaiting, a.next(t).Status)
	req.Equal(protocol.StatusWaiting, b.next(t).Status)

	// Then the failed attempt leaves both waiting
	req.Equal(matchmaking.Status{WaitingCount: 2, TotalConnected: 2}, h.status(t))

	// And the timer pairs them once the room opens
	req.Equal("Bob", a.next(t).PartnerName)
	req.Equal("Alice", b.next(t).PartnerName)
	req.Equal(matchmaking.Status{WaitingCount: 0, TotalConnected: 2}, h.status(t))
	req.Equal(1.0, testutil.ToFloat64(h.metrics.Pairs))
}

func TestMatchmaker_Queue_Of_One_Session_Is_Bounded(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	directory := mocks.NewMockIRoomDirectory(ctrl)
	room := mocks.NewMockRoomHandle(ctrl)
	directory.EXPECT().Open(gomock.Any(), gomock.Any()).Return(room, nil)
	directory.EXPECT().Get(gomock.Any()).Return(room, true).AnyTimes()
	directory.EXPECT().Forget(gomock.Any()).AnyTimes()
	room.EXPECT().Init(gomock.Any(), gomock.Any()).Return(nil)
	room.EXPECT().UserLeft(gomock.Any(), gomock.Any()).Return(chat.Closure{}, nil).AnyTimes()
	room.EXPECT().UserDisconnected(gomock.Any(), gomock.Any()).Return(chat.Closure{}, nil).AnyTimes()
	// Given a room that holds the first message until released
	release := make(chan struct{})
	room.EXPECT().
		SubmitMessage(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, cmd chat.SubmitMessageCommand) (chat.Message, error) {
			<-release
			return chat.Message{UserID: cmd.UserID, DisplayName: cmd.DisplayName, Content: cmd.Content, Timestamp: 1}, nil
		}).
		AnyTimes()
	settings := matchmakerSettings(matchmaking.Immediate)
	settings.MaxPending = 2
	h := startMatchmakerWith(t, settings, directory)
	a, ticketA := h.connect(t, "Alice")
	b, _ := h.connect(t, "Bob")
	a.next(t)
	a.next(t)
	b.next(t)
	b.next(t)

	// When A floods while the first message is in flight
	for i := 1; i <= 4; i++ {
		h.deliver(t, ticketA, say(fmt.Sprintf("m%d", i)))
	}

	// Then the message beyond the queue is refused
	refused := a.next(t)
	req.Equal(protocol.OutboundError, refused.Type)
	req.Equal(protocol.MsgTooFast, refused.Message)

	// And the queued ones still go through in order
	close(release)
	for i := 1; i <= 3; i++ {
		req.Equal(fmt.Sprintf("m%d", i), a.next(t).Content)
		req.Equal(fmt.Sprintf("m%d", i), b.next(t).Content)
	}
	a.silent(t, 50*time.Millisecond)
}
