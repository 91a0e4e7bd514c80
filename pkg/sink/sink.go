// Package sink defines the pluggable event-persistence boundary: an
// EventSink interface any collaborator can implement to capture dispatched
// events for offline analysis, plus two concrete implementations, NopSink
// and a bbolt-backed FileSink.
package sink

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/vmicore/pkg/log"
	"github.com/cuemby/vmicore/pkg/types"
)

var logger = log.WithComponent("sink")

// EventSink receives a copy of every event the run loop dispatches. Write
// is called synchronously from the dispatch path, so implementations must
// not block on anything slower than a local disk write.
type EventSink interface {
	Write(event types.Event) error
}

// NopSink discards every event. It is the default sink when no persistence
// is configured.
type NopSink struct{}

// Write implements EventSink by doing nothing.
func (NopSink) Write(types.Event) error { return nil }

var eventsBucket = []byte("events")

// Record is the envelope written for each event: its kind discriminant
// alongside the JSON-encoded payload, so an offline reader can decode
// without a schema registry.
type Record struct {
	Kind    types.Kind      `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// FileSink appends every event to a bbolt database as a sequence-numbered
// record, keyed by an 8-byte big-endian counter so iteration with a bbolt
// cursor returns events in dispatch order.
type FileSink struct {
	db *bolt.DB
}

// NewFileSink opens (creating if necessary) a bbolt database at path and
// returns a FileSink backed by it.
func NewFileSink(path string) (*FileSink, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open event sink database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(eventsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create events bucket: %w", err)
	}
	return &FileSink{db: db}, nil
}

// Write appends event under the next sequence number in the events bucket.
func (s *FileSink) Write(event types.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	rec, err := json.Marshal(Record{Kind: event.Kind(), Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal event record: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(eventsBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("allocate sequence: %w", err)
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return b.Put(key, rec)
	})
}

// Close releases the underlying database handle.
func (s *FileSink) Close() error {
	return s.db.Close()
}

// ReadAll decodes every record currently stored, in sequence order. It is
// intended for `vmicore inspect` and tests, not the hot dispatch path.
func (s *FileSink) ReadAll() ([]Record, error) {
	var out []Record
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(eventsBucket)
		return b.ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode record: %w", err)
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		logger.Error().Err(err).Msg("read event sink")
	}
	return out, err
}
