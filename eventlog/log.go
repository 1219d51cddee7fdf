package eventlog

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"lendvault/core/types"
)

var bucketEvents = []byte("events")

// ErrClosed is returned when appending to a log that has been shut down.
var ErrClosed = errors.New("eventlog: log closed")

// Log is the append-only record of ledger state transitions. Sequence numbers
// are monotonic and never reused; observers read from a cursor or subscribe
// for live delivery. When constructed with a path the log is persisted in a
// bbolt file, otherwise it lives in memory (tests, ephemeral runs).
type Log struct {
	mu     sync.RWMutex
	db     *bolt.DB
	memory []*types.Event
	seq    uint64
	subs   map[uint64]chan *types.Event
	nextID uint64
	closed bool
}

// Open creates or reopens a persisted event log at the given path. The next
// sequence number continues from the highest stored entry.
func Open(path string) (*Log, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	log := &Log{db: db, subs: make(map[uint64]chan *types.Event)}
	err = db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(bucketEvents)
		if err != nil {
			return err
		}
		log.seq = bucket.Sequence()
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return log, nil
}

// NewMemoryLog returns an unpersisted log.
func NewMemoryLog() *Log {
	return &Log{subs: make(map[uint64]chan *types.Event)}
}

// Append assigns the next sequence number to the event, stores it, and fans
// it out to live subscribers. Slow subscribers are skipped rather than
// blocking the writer.
func (l *Log) Append(evt *types.Event) (uint64, error) {
	if evt == nil {
		return 0, errors.New("eventlog: nil event")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, ErrClosed
	}

	l.seq++
	evt.Sequence = l.seq

	if l.db != nil {
		err := l.db.Update(func(tx *bolt.Tx) error {
			bucket := tx.Bucket(bucketEvents)
			if err := bucket.SetSequence(l.seq); err != nil {
				return err
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				return err
			}
			return bucket.Put(seqKey(l.seq), payload)
		})
		if err != nil {
			l.seq--
			return 0, err
		}
	} else {
		l.memory = append(l.memory, evt)
	}

	for _, ch := range l.subs {
		select {
		case ch <- evt:
		default:
		}
	}
	return evt.Sequence, nil
}

// Events returns up to limit events with sequence strictly greater than
// after, in sequence order. A non-positive limit returns everything.
func (l *Log) Events(after uint64, limit int) ([]*types.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.db == nil {
		out := make([]*types.Event, 0)
		for _, evt := range l.memory {
			if evt.Sequence <= after {
				continue
			}
			out = append(out, evt)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return out, nil
	}

	out := make([]*types.Event, 0)
	err := l.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(bucketEvents).Cursor()
		for k, v := cursor.Seek(seqKey(after + 1)); k != nil; k, v = cursor.Next() {
			var evt types.Event
			if err := json.Unmarshal(v, &evt); err != nil {
				return err
			}
			out = append(out, &evt)
			if limit > 0 && len(out) >= limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LastSequence reports the sequence number of the most recent event.
func (l *Log) LastSequence() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seq
}

// Subscribe registers a live event channel. The returned cancel function must
// be called to release the subscription.
func (l *Log) Subscribe(buffer int) (<-chan *types.Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan *types.Event, buffer)
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = ch
	l.mu.Unlock()

	cancel := func() {
		l.mu.Lock()
		if existing, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(existing)
		}
		l.mu.Unlock()
	}
	return ch, cancel
}

// Close shuts the log down, closing all subscriber channels.
func (l *Log) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	for id, ch := range l.subs {
		delete(l.subs, id)
		close(ch)
	}
	if l.db != nil {
		_ = l.db.Close()
	}
}

func seqKey(seq uint64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], seq)
	return key[:]
}
