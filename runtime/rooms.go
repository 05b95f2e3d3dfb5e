package runtime

import (
	"chat-roulette/contract"
	"chat-roulette/domain/chat"
	"chat-roulette/observability"
	"chat-roulette/repositories"
	"context"
	"log/slog"
	"sync"
	"time"
)

// RoomDirectory maps room ids to live room actors.
// It is shared by the matchmaker and the goroutines it spawns, hence the lock.
type RoomDirectory struct {
	mu         sync.RWMutex
	rooms      map[chat.RoomID]*Room
	sup        contract.ISupervisor
	repository repositories.ITranscriptRepository
	censor     contract.Censor
	settings   RoomSettings
	clock      func() time.Time
	metrics    *observability.Metrics
	log        *slog.Logger
}

func NewRoomDirectory(sup contract.ISupervisor, repository repositories.ITranscriptRepository,
	censor contract.Censor, settings RoomSettings, clock func() time.Time,
	metrics *observability.Metrics, log *slog.Logger) *RoomDirectory {
	return &RoomDirectory{
		rooms:      make(map[chat.RoomID]*Room),
		sup:        sup,
		repository: repository,
		censor:     censor,
		settings:   settings,
		clock:      clock,
		metrics:    metrics,
		log:        log.With("component", "room"),
	}
}

// Open starts the actor of a new room, ctx being its lifetime.
func (d *RoomDirectory) Open(ctx context.Context, roomID chat.RoomID) (contract.RoomHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if room, ok := d.rooms[roomID]; ok {
		return room, nil
	}
	room := NewRoom(roomID, d.settings, d.repository, d.censor, d.clock, d.log)
	d.rooms[roomID] = room
	d.sup.Start(ctx, room)
	d.metrics.ActiveRooms.Inc()
	return room, nil
}

func (d *RoomDirectory) Get(roomID chat.RoomID) (contract.RoomHandle, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	room, ok := d.rooms[roomID]
	if !ok {
		return nil, false
	}
	return room, true
}

func (d *RoomDirectory) Forget(roomID chat.RoomID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.rooms[roomID]; ok {
		delete(d.rooms, roomID)
		d.metrics.ActiveRooms.Dec()
	}
}

func (d *RoomDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rooms)
}
