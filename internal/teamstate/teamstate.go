// Package teamstate implements the Team State Store: an append-only JSONL
// log of everything durable about a team (messages, tasks, activity, quality
// gate results, YOLO snapshots, knowledge entries), replayed on load into an
// in-memory view with latest-wins dedup. Grounded on the append-only event
// log pattern the examples use for durable audit trails
// (orc/internal/events' persistence layer), adapted from a pure event
// replay into a store whose replay also collapses superseding records
// (a task's tenth status update replaces the first, not appends to it).
package teamstate

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/teamforge/core/internal/types"
)

// RecordKind is the closed set of record types appended to the log.
type RecordKind string

const (
	KindMessage   RecordKind = "msg"
	KindTask      RecordKind = "task"
	KindActivity  RecordKind = "act"
	KindGate      RecordKind = "qg"
	KindYolo      RecordKind = "yolo"
	KindKnowledge RecordKind = "kb"
)

// record is the on-disk JSONL shape: t=kind, d=payload, k=optional dedup key.
type record struct {
	T RecordKind      `json:"t"`
	D json.RawMessage `json:"d"`
	K string          `json:"k,omitempty"`
}

// FileName is the store's filename within a session directory.
const FileName = "team-state.jsonl"

// View is the in-memory, deduped replay of a store's log.
type View struct {
	Messages  []types.Message
	Tasks     map[string]types.Task
	Activity  []types.ActivityEvent
	Gates     map[string]types.QualityGateResult // keyed by "taskID:cycle" or caller-supplied key
	Yolo      *types.YoloState
	Knowledge []types.KnowledgeEntry
}

// Store appends records to a JSONL file and can replay them into a View.
type Store struct {
	path string

	mu   sync.Mutex
	file *os.File
}

// Open opens (creating if needed) the store at {sessionDir}/team-state.jsonl.
func Open(sessionDir string) (*Store, error) {
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(sessionDir, FileName)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, file: f}, nil
}

func (s *Store) append(kind RecordKind, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	rec := record{T: kind, D: data, K: key}
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(append(line, '\n')); err != nil {
		return err
	}
	return s.file.Sync()
}

// AppendMessage records a message.
func (s *Store) AppendMessage(m types.Message) error { return s.append(KindMessage, "", m) }

// AppendTask records a task snapshot, keyed by task id (latest-wins on replay).
func (s *Store) AppendTask(t types.Task) error { return s.append(KindTask, t.ID, t) }

// AppendActivity records an activity event.
func (s *Store) AppendActivity(a types.ActivityEvent) error { return s.append(KindActivity, "", a) }

// AppendGateResult records a quality-gate result under the given dedup key
// (conventionally "taskID:cycle"; latest write for a key wins on replay).
func (s *Store) AppendGateResult(key string, r types.QualityGateResult) error {
	return s.append(KindGate, key, r)
}

// AppendYoloSnapshot records a YOLO state snapshot (only the latest survives replay).
func (s *Store) AppendYoloSnapshot(y types.YoloState) error {
	return s.append(KindYolo, "yolo", y)
}

// AppendKnowledge records a knowledge entry, keyed by its id.
func (s *Store) AppendKnowledge(k types.KnowledgeEntry) error {
	return s.append(KindKnowledge, k.ID, k)
}

// Close closes the underlying file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// Load replays the log into a deduped View. It does not hold the store's
// append lock — callers should not Load concurrently with heavy append
// traffic if they need a perfectly consistent snapshot, though partial
// interleaving is harmless (a truncated trailing line is simply skipped).
func Load(sessionDir string, now time.Time, knowledgeRetention time.Duration) (View, error) {
	view := View{
		Tasks: make(map[string]types.Task),
		Gates: make(map[string]types.QualityGateResult),
	}
	path := filepath.Join(sessionDir, FileName)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return view, nil
	}
	if err != nil {
		return view, err
	}
	defer f.Close()

	knowledgeByID := make(map[string]types.KnowledgeEntry)
	knowledgeOrder := make([]string, 0)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue // skip malformed trailing line
		}
		switch rec.T {
		case KindMessage:
			var m types.Message
			if json.Unmarshal(rec.D, &m) == nil {
				view.Messages = append(view.Messages, m)
			}
		case KindTask:
			var task types.Task
			if json.Unmarshal(rec.D, &task) == nil {
				view.Tasks[task.ID] = task // latest-wins by id
			}
		case KindActivity:
			var a types.ActivityEvent
			if json.Unmarshal(rec.D, &a) == nil {
				view.Activity = append(view.Activity, a)
			}
		case KindGate:
			var g types.QualityGateResult
			if json.Unmarshal(rec.D, &g) == nil {
				view.Gates[rec.K] = g // latest-wins by key
			}
		case KindYolo:
			var y types.YoloState
			if json.Unmarshal(rec.D, &y) == nil {
				view.Yolo = &y // only the latest snapshot survives
			}
		case KindKnowledge:
			var k types.KnowledgeEntry
			if json.Unmarshal(rec.D, &k) == nil {
				if _, seen := knowledgeByID[k.ID]; !seen {
					knowledgeOrder = append(knowledgeOrder, k.ID)
				}
				knowledgeByID[k.ID] = k // latest-wins by id
			}
		}
	}

	for _, id := range knowledgeOrder {
		k := knowledgeByID[id]
		if !k.Expired(now, knowledgeRetention) {
			view.Knowledge = append(view.Knowledge, k)
		}
	}

	return view, nil
}

// Compact rewrites the log from a View, dropping superseded task/gate/yolo
// records and expired knowledge entries, then replacing the on-disk log with
// the compacted form. The store must be reopened after calling Compact.
func Compact(sessionDir string, view View) error {
	path := filepath.Join(sessionDir, FileName)
	tmpPath := path + ".compact"

	f, err := os.Create(tmpPath)
	if err != nil {
		return err
	}

	write := func(kind RecordKind, key string, payload any) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		rec := record{T: kind, D: data, K: key}
		line, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = f.Write(append(line, '\n'))
		return err
	}

	for _, m := range view.Messages {
		if err := write(KindMessage, "", m); err != nil {
			f.Close()
			return err
		}
	}
	for id, t := range view.Tasks {
		if err := write(KindTask, id, t); err != nil {
			f.Close()
			return err
		}
	}
	for _, a := range view.Activity {
		if err := write(KindActivity, "", a); err != nil {
			f.Close()
			return err
		}
	}
	for key, g := range view.Gates {
		if err := write(KindGate, key, g); err != nil {
			f.Close()
			return err
		}
	}
	if view.Yolo != nil {
		if err := write(KindYolo, "yolo", *view.Yolo); err != nil {
			f.Close()
			return err
		}
	}
	for _, k := range view.Knowledge {
		if err := write(KindKnowledge, k.ID, k); err != nil {
			f.Close()
			return err
		}
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
