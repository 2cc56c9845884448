package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileStore persists each session as one append-only JSONL file named
// <session-id>.jsonl under a base directory. Every line is one serialized
// Event. Appends for independent sessions proceed concurrently; appends for
// the same session are serialized by the store.
type FileStore struct {
	dir string

	mu      sync.Mutex
	lastSeq map[string]int64
}

// NewFileStore creates a file-backed session store rooted at dir, creating
// the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &FileStore{
		dir:     dir,
		lastSeq: make(map[string]int64),
	}, nil
}

func (s *FileStore) path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".jsonl")
}

// Append writes one event to the session's log file.
func (s *FileStore) Append(ctx context.Context, sessionID string, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	last, ok := s.lastSeq[sessionID]
	if !ok {
		// First touch of this session since the store was opened; recover the
		// tail of any existing log so crash-resumed runs keep the sequence.
		events, err := s.readAll(sessionID)
		if err != nil && err != ErrSessionNotFound {
			return err
		}
		if n := len(events); n > 0 {
			last = events[n-1].Seq
		}
	}

	if ev.Seq != last+1 {
		return fmt.Errorf("%w: session %s: got seq %d, want %d",
			ErrOutOfOrderAppend, sessionID, ev.Seq, last+1)
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	f, err := os.OpenFile(s.path(sessionID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync session log: %w", err)
	}

	s.lastSeq[sessionID] = ev.Seq
	return nil
}

// Load returns all events for the session in sequence order, verifying the
// sequence is gap-free before returning it.
func (s *FileStore) Load(ctx context.Context, sessionID string) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	events, err := s.readAll(sessionID)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if err := VerifySequence(events); err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}
	return events, nil
}

// readAll parses the raw log file without sequence verification.
// Callers must hold s.mu.
func (s *FileStore) readAll(sessionID string) ([]Event, error) {
	f, err := os.Open(s.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()

	var events []Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return nil, fmt.Errorf("session %s: %w: undecodable event: %v",
				sessionID, ErrStoreCorruption, err)
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read session log: %w", err)
	}
	return events, nil
}

// List returns summaries for every session log in the directory.
func (s *FileStore) List(ctx context.Context) ([]Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list session dir: %w", err)
	}

	var out []Summary
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		id := strings.TrimSuffix(name, ".jsonl")

		s.mu.Lock()
		events, err := s.readAll(id)
		s.mu.Unlock()
		if err != nil {
			return nil, err
		}
		out = append(out, summarize(id, events))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// summarize derives a Summary from a raw event slice.
func summarize(id string, events []Event) Summary {
	sum := Summary{
		ID:         id,
		EventCount: int64(len(events)),
		Status:     StatusRunning,
	}
	if len(events) > 0 {
		sum.CreatedAt = events[0].Timestamp
		if last := events[len(events)-1]; last.Type == EventTerminated {
			sum.Status = last.Status
		}
	}
	return sum
}
