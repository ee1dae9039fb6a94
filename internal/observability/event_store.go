// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package observability

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/klauspost/pgzip"
)

// EventRing is a thread-safe fixed-capacity circular buffer of EventEntry,
// discarding the oldest entry once full.
type EventRing struct {
	mu   sync.RWMutex
	buf  []EventEntry
	pos  int
	cap  int
	size int
}

// NewEventRing creates a ring buffer with the given capacity.
func NewEventRing(capacity int) *EventRing {
	if capacity <= 0 {
		capacity = 100
	}
	return &EventRing{buf: make([]EventEntry, capacity), cap: capacity}
}

// Push adds an event, overwriting the oldest slot once the ring is full.
func (r *EventRing) Push(e EventEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.pos] = e
	r.pos = (r.pos + 1) % r.cap
	if r.size < r.cap {
		r.size++
	}
}

// Recent returns up to limit events, oldest first. limit <= 0 returns all.
func (r *EventRing) Recent(limit int) []EventEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.size
	if limit > 0 && limit < n {
		n = limit
	}
	if n == 0 {
		return []EventEntry{}
	}

	out := make([]EventEntry, n)
	start := (r.pos - n + r.cap) % r.cap
	if r.size < r.cap {
		start = r.size - n
	}
	for i := 0; i < n; i++ {
		out[i] = r.buf[(start+i)%r.cap]
	}
	return out
}

// EventStore combines an in-memory EventRing with an append-only JSONL file
// on disk, one event per line. When the file exceeds maxLines, the
// currently-open segment is gzip-compressed in parallel (via pgzip) to
// path+".N.gz" and a fresh segment is started — rotation by compression
// rather than by truncation, so the on-disk history is never discarded.
type EventStore struct {
	ring *EventRing

	mu        sync.Mutex
	file      *os.File
	path      string
	maxLines  int
	lineCount int
	segment   int
}

// NewEventStore opens (or creates) the JSONL file at path and seeds the
// ring from its existing contents.
func NewEventStore(path string, ringCap, maxLines int) (*EventStore, error) {
	if maxLines <= 0 {
		maxLines = 10000
	}

	ring := NewEventRing(ringCap)
	entries, lineCount, err := loadJSONL(path)
	if err != nil {
		return nil, fmt.Errorf("loading events file: %w", err)
	}

	start := 0
	if len(entries) > ringCap {
		start = len(entries) - ringCap
	}
	for _, e := range entries[start:] {
		ring.Push(e)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening events file for append: %w", err)
	}

	// Continue numbering after any segments a previous run left on disk.
	segment := 0
	for {
		if _, err := os.Stat(fmt.Sprintf("%s.%d.gz", path, segment+1)); err != nil {
			break
		}
		segment++
	}

	return &EventStore{
		ring:      ring,
		file:      f,
		path:      path,
		maxLines:  maxLines,
		lineCount: lineCount,
		segment:   segment,
	}, nil
}

func loadJSONL(path string) ([]EventEntry, int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	defer f.Close()

	var entries []EventEntry
	lineCount := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		lineCount++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e EventEntry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, lineCount, scanner.Err()
}

// Push appends e to both the ring and the on-disk log, rotating the file if
// it has grown past maxLines.
func (s *EventStore) Push(e EventEntry) {
	s.ring.Push(e)

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return
	}

	s.lineCount++
	if s.lineCount > s.maxLines {
		s.rotate()
	}
}

// Recent returns up to limit recent events, oldest first.
func (s *EventStore) Recent(limit int) []EventEntry {
	return s.ring.Recent(limit)
}

// Close closes the open segment file.
func (s *EventStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

// rotate gzip-compresses the current segment onto disk and reopens a fresh
// one at the same path. Called with s.mu held.
func (s *EventStore) rotate() {
	s.segment++
	rotatedPath := fmt.Sprintf("%s.%d.gz", s.path, s.segment)

	s.file.Close()

	if err := s.compressSegment(rotatedPath); err != nil {
		// Compression failure should not lose the live log; keep appending
		// to the same path rather than blocking future events.
		s.file, _ = os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		return
	}

	f, err := os.Create(s.path)
	if err == nil {
		f.Close()
	}
	s.file, err = os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return
	}
	s.lineCount = 0
}

func (s *EventStore) compressSegment(rotatedPath string) error {
	src, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(rotatedPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	gz := pgzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		gz.Close()
		return err
	}
	return gz.Close()
}
