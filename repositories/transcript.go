//go:generate go run go.uber.org/mock/mockgen -source=transcript.go -destination=../mocks/mock_transcript_repository.go -package=mocks
package repositories

import (
	"chat-roulette/domain/chat"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const TranscriptPrefix = "msg:"

type ITranscriptRepository interface {
	Append(roomID chat.RoomID, message chat.Message) error
	Transcript(roomID chat.RoomID) ([]chat.Message, error)
	Purge(roomID chat.RoomID) error
}

type TranscriptRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewTranscriptRepository(db *badger.DB, log *slog.Logger) TranscriptRepository {
	return TranscriptRepository{db: db, log: log}
}

// RoomPrefix is the key prefix holding every line of one room.
func RoomPrefix(roomID chat.RoomID) []byte {
	return []byte(fmt.Sprintf("%s%s:", TranscriptPrefix, roomID))
}

// Append persists a message under "msg:{room_id}:{timestamp_padded}".
// The 19-digit zero padding keeps the lexicographical order chronological,
// and timestamps are unique inside a room so no collision breaker is needed.
func (r TranscriptRepository) Append(roomID chat.RoomID, message chat.Message) error {
	key := fmt.Sprintf("%s%019d", RoomPrefix(roomID), message.Timestamp)
	value, err := EncodeMessage(message)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

// Transcript returns the lines of a room, oldest first.
func (r TranscriptRepository) Transcript(roomID chat.RoomID) ([]chat.Message, error) {
	var messages []chat.Message
	prefix := RoomPrefix(roomID)
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(value []byte) error {
				message, err := DecodeMessage(value)
				if err != nil {
					return err
				}
				messages = append(messages, message)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return messages, err
}

// Purge deletes every line of a room.
// Keys are deleted one by one: DropPrefix would block the writes of every other room.
func (r TranscriptRepository) Purge(roomID chat.RoomID) error {
	prefix := RoomPrefix(roomID)
	var keys [][]byte
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	batch := r.db.NewWriteBatch()
	for _, key := range keys {
		if err := batch.Delete(key); err != nil {
			batch.Cancel()
			return err
		}
	}
	if err := batch.Flush(); err != nil {
		return err
	}
	r.log.Debug("Transcript purged", "room_id", roomID, "lines", len(keys))
	return nil
}

func EncodeMessage(message chat.Message) ([]byte, error) {
	value, err := structpb.NewStruct(map[string]any{
		"userId":      message.UserID,
		"displayName": message.DisplayName,
		"content":     message.Content,
		"timestamp":   float64(message.Timestamp),
	})
	if err != nil {
		return nil, err
	}
	return proto.Marshal(value)
}

func DecodeMessage(raw []byte) (chat.Message, error) {
	var value structpb.Struct
	if err := proto.Unmarshal(raw, &value); err != nil {
		return chat.Message{}, err
	}
	fields := value.GetFields()
	return chat.Message{
		UserID:      fields["userId"].GetStringValue(),
		DisplayName: fields["displayName"].GetStringValue(),
		Content:     fields["content"].GetStringValue(),
		Timestamp:   int64(fields["timestamp"].GetNumberValue()),
	}, nil
}
