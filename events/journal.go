package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Journal appends events to a writer as a stream of CBOR items.
type Journal struct {
	mu  sync.Mutex
	enc *cbor.Encoder
	n   int
}

func NewJournal(w io.Writer) *Journal {
	return &Journal{enc: cbor.NewEncoder(w)}
}

// Append encodes a single event.
func (j *Journal) Append(ev Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.enc.Encode(ev); err != nil {
		return fmt.Errorf("encode event %s: %w", ev.ID, err)
	}
	j.n++
	return nil
}

// Emit implements Sink. Encoding failures are logged and do not reach the engine.
func (j *Journal) Emit(ev Event) {
	if err := j.Append(ev); err != nil {
		log.Printf("ERROR: Failed to journal %s event for token %d: %v", ev.Kind, ev.TokenID, err)
	}
}

// Len returns how many events were appended.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.n
}

// ReadJournal decodes every event from r in append order. A record cut short
// at the end, as seen while a write is in flight, ends the read.
func ReadJournal(r io.Reader) ([]Event, error) {
	dec := cbor.NewDecoder(r)
	var out []Event
	for {
		var ev Event
		err := dec.Decode(&ev)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("decode event %d: %w", len(out), err)
		}
		out = append(out, ev)
	}
}

// JournalFile serves stored events from a journal on disk. It implements Store
// for nodes that run without a database.
type JournalFile struct {
	Path string
}

func (f JournalFile) ListByToken(_ context.Context, tokenID uint64) ([]Event, error) {
	file, err := os.Open(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	all, err := ReadJournal(file)
	if err != nil {
		return nil, err
	}
	var out []Event
	for _, ev := range all {
		if ev.TokenID == tokenID {
			out = append(out, ev)
		}
	}
	return out, nil
}
