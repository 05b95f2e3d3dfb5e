package runtime

import (
	"chat-roulette/contract"
	"chat-roulette/domain/chat"
	"chat-roulette/domain/matchmaking"
	"chat-roulette/domain/protocol"
	"chat-roulette/errors"
	"chat-roulette/observability"
	"chat-roulette/runtime/ratelimit"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/samber/lo/mutable"
)

type MatchmakerSettings struct {
	Strategy        matchmaking.PairingStrategy
	PairingInterval time.Duration
	BufferSize      int
	// MaxContentLength is only echoed back in too-long notices, rooms enforce it
	MaxContentLength int
	CallTimeout      time.Duration
	// MaxPending bounds the messages of one session queued behind the one in flight
	MaxPending int
}

type connectEvent struct {
	ticket    matchmaking.Ticket
	transport contract.Transport
}

type inboundEvent struct {
	sessionID matchmaking.SessionID
	in        protocol.Inbound
}

type disconnectEvent struct {
	sessionID matchmaking.SessionID
}

type statusEvent struct {
	reply chan matchmaking.Status
}

// messageProcessed comes back from the goroutine that charged the limiter
// and submitted the message to the room.
type messageProcessed struct {
	sessionID matchmaking.SessionID
	room      chat.RoomID
	message   chat.Message
	err       error
}

// Matchmaker is the single actor owning sessions, the waiting pool and
// room associations. Every connection, inbound envelope, completion and
// timer firing is one event handled by the Run goroutine.
// Calls to limiters and to rooms for messages happen off that goroutine;
// their completion is checked against the current state before fan-out.
type Matchmaker struct {
	log      *slog.Logger
	settings MatchmakerSettings
	registry *Registry
	rooms    contract.IRoomDirectory
	limiters contract.ILimiterDirectory
	clients  map[string]*ratelimit.Client
	clock    ratelimit.Clock
	metrics  *observability.Metrics
	newID    func() string

	events   chan any
	stopped  chan struct{}
	stopOnce sync.Once

	// runCtx is the lifetime of everything the actor starts
	runCtx       context.Context
	pairingTimer *time.Timer
	// pairingC is nil while the timer is not armed
	pairingC <-chan time.Time
}

func NewMatchmaker(settings MatchmakerSettings, rooms contract.IRoomDirectory, limiters contract.ILimiterDirectory,
	clock ratelimit.Clock, metrics *observability.Metrics, log *slog.Logger) *Matchmaker {
	return &Matchmaker{
		log:      log.With("component", "matchmaker"),
		settings: settings,
		registry: NewRegistry(),
		rooms:    rooms,
		limiters: limiters,
		clients:  make(map[string]*ratelimit.Client),
		clock:    clock,
		metrics:  metrics,
		newID:    uuid.NewString,
		events:   make(chan any, settings.BufferSize),
		stopped:  make(chan struct{}),
	}
}

func (m *Matchmaker) Run(ctx context.Context) error {
	m.runCtx = ctx
	m.log.Info("Matchmaker started", "strategy", m.settings.Strategy)
	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return ctx.Err()
		case evt := <-m.events:
			m.handle(evt)
		case <-m.pairingC:
			m.pairingC = nil
			m.pairingPass()
		}
		m.refreshGauges()
	}
}

func (m *Matchmaker) shutdown() {
	m.stopOnce.Do(func() { close(m.stopped) })
	if m.pairingTimer != nil {
		m.pairingTimer.Stop()
	}
	for _, s := range m.registry.Sessions() {
		_ = s.Transport.Close()
	}
	m.log.Info("Matchmaker stopped", "sessions", len(m.registry.Sessions()))
}

func (m *Matchmaker) handle(evt any) {
	switch e := evt.(type) {
	case connectEvent:
		m.onConnect(e)
	case inboundEvent:
		m.onInbound(e)
	case disconnectEvent:
		m.onDisconnect(e.sessionID)
	case messageProcessed:
		m.onMessageProcessed(e)
	case statusEvent:
		e.reply <- m.registry.Status()
	default:
		m.log.Warn("Unexpected matchmaker event", "type", fmt.Sprintf("%T", evt))
	}
}

// Connect registers the session behind transport and returns without
// waiting for a partner.
func (m *Matchmaker) Connect(ctx context.Context, req matchmaking.ConnectRequest, transport contract.Transport) (matchmaking.Ticket, error) {
	ticket := matchmaking.Ticket{
		SessionID:   matchmaking.SessionID(transport.ID()),
		UserID:      req.UserID,
		DisplayName: strings.TrimSpace(req.DisplayName),
	}
	if ticket.UserID == "" {
		ticket.UserID = m.newID()
	}
	if ticket.DisplayName == "" {
		ticket.DisplayName = matchmaking.DefaultDisplayName
	}
	if err := m.post(ctx, connectEvent{ticket: ticket, transport: transport}); err != nil {
		return matchmaking.Ticket{}, err
	}
	return ticket, nil
}

func (m *Matchmaker) Deliver(ctx context.Context, sessionID matchmaking.SessionID, in protocol.Inbound) error {
	return m.post(ctx, inboundEvent{sessionID: sessionID, in: in})
}

func (m *Matchmaker) Disconnect(ctx context.Context, sessionID matchmaking.SessionID) error {
	return m.post(ctx, disconnectEvent{sessionID: sessionID})
}

func (m *Matchmaker) Status(ctx context.Context) (matchmaking.Status, error) {
	ctx, cancel := context.WithTimeout(ctx, m.settings.CallTimeout)
	defer cancel()

	reply := make(chan matchmaking.Status, 1)
	if err := m.post(ctx, statusEvent{reply: reply}); err != nil {
		return matchmaking.Status{}, err
	}
	select {
	case status := <-reply:
		return status, nil
	case <-m.stopped:
		return matchmaking.Status{}, errors.ErrMatchmakerStopped
	case <-ctx.Done():
		return matchmaking.Status{}, errors.Transient(ctx.Err())
	}
}

func (m *Matchmaker) post(ctx context.Context, evt any) error {
	select {
	case <-m.stopped:
		return errors.ErrMatchmakerStopped
	default:
	}
	select {
	case m.events <- evt:
		return nil
	case <-m.stopped:
		return errors.ErrMatchmakerStopped
	case <-ctx.Done():
		return errors.Transient(ctx.Err())
	}
}

func (m *Matchmaker) onConnect(e connectEvent) {
	if _, exists := m.registry.Session(e.ticket.SessionID); exists {
		m.log.Warn("Session already registered", "session_id", e.ticket.SessionID)
		return
	}
	s := &Session{
		ID:          e.ticket.SessionID,
		UserID:      e.ticket.UserID,
		DisplayName: e.ticket.DisplayName,
		Transport:   e.transport,
	}
	m.registry.Register(s)
	if _, ok := m.clients[s.UserID]; !ok {
		userID := s.UserID
		m.clients[userID] = ratelimit.NewClient(userID, m.limiters, m.clock, func(err error) {
			m.log.Warn("Rate limiter unavailable", "user_id", userID, "error", err)
		})
	}
	m.log.Debug("Session connected", "session_id", s.ID, "user_id", s.UserID)

	m.send(s, protocol.Waiting(protocol.MsgLookingForMatch, s.UserID))
	m.poolChanged()
}

func (m *Matchmaker) onInbound(e inboundEvent) {
	s, ok := m.registry.Session(e.sessionID)
	if !ok {
		return
	}
	switch e.in.Type {
	case protocol.InboundMessage:
		m.onMessage(s, e.in.Content)
	case protocol.InboundTyping:
		m.onTyping(s)
	case protocol.InboundRoll, protocol.InboundLeave:
		m.onLeave(s)
	default:
		m.send(s, protocol.Error(protocol.MsgInvalid))
	}
}

func (m *Matchmaker) onMessage(s *Session, content string) {
	if !s.InRoom() {
		m.send(s, protocol.Waiting(protocol.MsgNoActivePartner, ""))
		return
	}
	if len(s.pending) >= m.settings.MaxPending {
		m.reject(s, fmt.Errorf("%w: %d messages already queued", errors.ErrRateLimited, len(s.pending)))
		return
	}
	s.pending = append(s.pending, content)
	m.processNext(s)
}

// processNext starts the next queued message of s unless one is in flight,
// so messages of a session reach its room in the order they were sent.
func (m *Matchmaker) processNext(s *Session) {
	if s.busy || len(s.pending) == 0 || !s.InRoom() {
		return
	}
	content := s.pending[0]
	s.pending = s.pending[1:]
	s.busy = true

	ctx, client := m.runCtx, m.clients[s.UserID]
	cmd := chat.SubmitMessageCommand{
		Room:        s.Room,
		UserID:      s.UserID,
		DisplayName: s.DisplayName,
		Content:     content,
		CreatedAt:   m.clock(),
	}
	sessionID := s.ID
	go func() {
		message, err := m.relay(ctx, client, cmd)
		_ = m.post(ctx, messageProcessed{sessionID: sessionID, room: cmd.Room, message: message, err: err})
	}()
}

func (m *Matchmaker) relay(ctx context.Context, client *ratelimit.Client, cmd chat.SubmitMessageCommand) (chat.Message, error) {
	cooldown, err := client.Check(ctx)
	if err != nil {
		return chat.Message{}, err
	}
	if cooldown > 0 {
		return chat.Message{}, fmt.Errorf("%w: retry in %s", errors.ErrRateLimited, cooldown)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		room, ok := m.rooms.Get(cmd.Room)
		if !ok {
			return chat.Message{}, errors.ErrRoomClosed
		}
		message, err := room.SubmitMessage(ctx, cmd)
		if !errors.Is(err, errors.ErrTransientDependency) {
			return message, err
		}
		lastErr = err
	}
	return chat.Message{}, lastErr
}

func (m *Matchmaker) onMessageProcessed(e messageProcessed) {
	s, ok := m.registry.Session(e.sessionID)
	if !ok {
		return
	}
	s.busy = false
	defer m.processNext(s)

	if s.Room != e.room {
		m.log.Debug("Dropping message of a room the session left", "session_id", s.ID, "room_id", e.room)
		return
	}
	if e.err != nil {
		m.reject(s, e.err)
		return
	}
	for _, member := range m.registry.Members(e.room) {
		m.send(member, protocol.ChatMessage(e.message))
	}
	m.metrics.Relayed.Inc()
}

// reject tells the sender why its message was dropped.
func (m *Matchmaker) reject(s *Session, err error) {
	var reason string
	var out protocol.Outbound
	switch {
	case errors.Is(err, errors.ErrRateLimited):
		reason, out = "rate_limited", protocol.Error(protocol.MsgTooFast)
	case errors.Is(err, errors.ErrMessageTooLong):
		reason, out = "too_long", protocol.MessageTooLong(m.settings.MaxContentLength)
	case errors.Is(err, errors.ErrProtocol):
		reason, out = "invalid", protocol.Error(protocol.MsgInvalid)
	case errors.Is(err, errors.ErrRoomClosed):
		m.metrics.Rejected.WithLabelValues("room_closed").Inc()
		return
	default:
		m.log.Warn("Failed to relay message", "session_id", s.ID, "room_id", s.Room, "error", err)
		reason, out = "unavailable", protocol.Error(protocol.MsgUnavailable)
	}
	m.metrics.Rejected.WithLabelValues(reason).Inc()
	m.send(s, out)
}

func (m *Matchmaker) onTyping(s *Session) {
	if partner, ok := m.registry.Partner(s); ok {
		m.send(partner, protocol.Typing(s.UserID))
	}
}

func (m *Matchmaker) onLeave(s *Session) {
	if !s.InRoom() {
		m.send(s, protocol.Waiting(protocol.MsgAlreadyLooking, ""))
		return
	}
	m.leaveRoom(s, chat.Left)
	s.rolled = true
	m.registry.Enqueue(s.ID)
	m.send(s, protocol.Waiting(protocol.MsgLookingForNewMatch, s.UserID))
	m.poolChanged()
}

func (m *Matchmaker) onDisconnect(id matchmaking.SessionID) {
	s, ok := m.registry.Session(id)
	if !ok {
		return
	}
	if s.InRoom() {
		m.leaveRoom(s, chat.Disconnected)
	}
	m.drop(s)
	m.log.Debug("Session disconnected", "session_id", s.ID, "user_id", s.UserID)
	m.poolChanged()
}

func (m *Matchmaker) drop(s *Session) {
	m.registry.Remove(s.ID)
	if !m.registry.HasUser(s.UserID) {
		delete(m.clients, s.UserID)
	}
	_ = s.Transport.Close()
}

// leaveRoom unlinks both members of the room of s, notifies and re-queues
// the partner, then tears the room down in the background.
func (m *Matchmaker) leaveRoom(s *Session, cause chat.DepartureCause) {
	roomID := s.Room
	notice := protocol.PartnerLeft()
	if cause == chat.Disconnected {
		notice = protocol.PartnerDisconnected()
	}
	for _, member := range m.registry.ReleaseRoom(roomID) {
		if member.ID == s.ID {
			continue
		}
		member.lastPartner, s.lastPartner = s.ID, member.ID
		m.send(member, notice)
		m.registry.Enqueue(member.ID)
	}
	m.closeRoom(roomID, s.UserID, cause)
}

// closeRoom does not wait: the room is already unreachable from any session.
func (m *Matchmaker) closeRoom(roomID chat.RoomID, userID string, cause chat.DepartureCause) {
	ctx := m.runCtx
	go func() {
		defer m.rooms.Forget(roomID)
		for attempt := 0; attempt < 2; attempt++ {
			room, ok := m.rooms.Get(roomID)
			if !ok {
				return
			}
			var err error
			if cause == chat.Disconnected {
				_, err = room.UserDisconnected(ctx, userID)
			} else {
				_, err = room.UserLeft(ctx, userID)
			}
			if err == nil {
				return
			}
			m.log.Warn("Failed to close room", "room_id", roomID, "attempt", attempt+1, "error", err)
		}
	}()
}

func (m *Matchmaker) poolChanged() {
	if m.settings.Strategy == matchmaking.Batched {
		m.armPairing()
		return
	}
	m.pairingPass()
}

// armPairing starts the single-shot pairing timer once enough sessions wait.
// An armed timer is left alone.
func (m *Matchmaker) armPairing() {
	if m.pairingC != nil || len(m.registry.Waiting()) < 2 {
		return
	}
	if m.pairingTimer == nil {
		m.pairingTimer = time.NewTimer(m.settings.PairingInterval)
	} else {
		m.pairingTimer.Reset(m.settings.PairingInterval)
	}
	m.pairingC = m.pairingTimer.C
}

// pairingPass pairs the pool in random order.
// A pair that just split up is not put back together, and sessions that
// rolled come last so the partner they left behind is served first.
func (m *Matchmaker) pairingPass() {
	candidates := m.candidates()
	paired := make(map[matchmaking.SessionID]bool, len(candidates))
	failed := false

pass:
	for i, a := range candidates {
		if paired[a.ID] {
			continue
		}
		for _, b := range candidates[i+1:] {
			if paired[b.ID] || a.lastPartner == b.ID || b.lastPartner == a.ID {
				continue
			}
			if err := m.pair(a, b); err != nil {
				m.log.Warn("Failed to open room", "error", err)
				failed = true
				break pass
			}
			paired[a.ID], paired[b.ID] = true, true
			break
		}
	}

	if failed || m.settings.Strategy == matchmaking.Batched {
		m.armPairing()
	}
}

// candidates returns the live waiting sessions, deregistering the ones
// whose connection went away since they were queued.
func (m *Matchmaker) candidates() []*Session {
	ids := m.registry.Waiting()
	mutable.Shuffle(ids)

	var live []*Session
	for _, id := range ids {
		s, ok := m.registry.Session(id)
		if !ok {
			continue
		}
		if s.stale() {
			m.log.Debug("Skipping stale session", "session_id", s.ID)
			m.drop(s)
			continue
		}
		live = append(live, s)
	}
	fresh, rolled := lo.FilterReject(live, func(s *Session, _ int) bool {
		return !s.rolled
	})
	return append(fresh, rolled...)
}

func (m *Matchmaker) pair(a, b *Session) error {
	cmd := chat.InitCommand{
		Room:         chat.RoomID(m.newID()),
		Participants: [2]chat.Participant{a.Participant(), b.Participant()},
	}
	if err := m.openRoom(cmd); err != nil {
		return err
	}

	m.registry.AssignRoom(cmd.Room, a, b)
	for _, s := range []*Session{a, b} {
		s.lastPartner, s.rolled = "", false
	}
	m.releaseExclusions(a.ID, b.ID)
	m.send(a, protocol.RoomJoined(cmd.Room, b.DisplayName))
	m.send(b, protocol.RoomJoined(cmd.Room, a.DisplayName))
	m.metrics.Pairs.Inc()
	m.log.Debug("Sessions paired", "room_id", cmd.Room, "first", a.ID, "second", b.ID)
	return nil
}

// releaseExclusions forgets the split of waiting sessions whose former
// partner just moved on, so they may meet again later.
func (m *Matchmaker) releaseExclusions(paired ...matchmaking.SessionID) {
	for _, id := range m.registry.Waiting() {
		s, ok := m.registry.Session(id)
		if !ok || !lo.Contains(paired, s.lastPartner) {
			continue
		}
		s.lastPartner, s.rolled = "", false
	}
}

func (m *Matchmaker) openRoom(cmd chat.InitCommand) error {
	room, err := m.rooms.Open(m.runCtx, cmd.Room)
	if err != nil {
		return errors.Transient(err)
	}
	err = room.Init(m.runCtx, cmd)
	if errors.Is(err, errors.ErrTransientDependency) {
		if again, ok := m.rooms.Get(cmd.Room); ok {
			err = again.Init(m.runCtx, cmd)
		}
	}
	if err != nil && !errors.Is(err, errors.ErrRoomAlreadyInitialized) {
		m.closeRoom(cmd.Room, "", chat.Left)
		return err
	}
	return nil
}

func (m *Matchmaker) send(s *Session, out protocol.Outbound) {
	if err := s.Transport.Send(out); err != nil {
		m.log.Debug("Outbound dropped", "session_id", s.ID, "type", out.Type, "error", err)
	}
}

func (m *Matchmaker) refreshGauges() {
	status := m.registry.Status()
	m.metrics.Connected.Set(float64(status.TotalConnected))
	m.metrics.Waiting.Set(float64(status.WaitingCount))
}
