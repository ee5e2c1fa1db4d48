package runtime

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/takopi/takopi/bridge/event"
)

// threadMapKey identifies one logical conversation slot: a project plus an
// optional forum-topic thread id (0 for chats with no topics).
type threadMapKey struct {
	Project  string
	ThreadID int
}

// ThreadStore is the per-chat persistent (project, thread_id) -> resume
// token mapping described in the runtime's "identify thread" step. It is
// written via temp-file-then-rename so a crash mid-write never leaves a
// half-written file behind, the same discipline the teacher's own
// file-backed state (session locks aside) is built around.
type ThreadStore struct {
	mu   sync.Mutex
	path string
	data map[threadMapKey]event.ResumeToken
}

type threadStoreEntry struct {
	Project  string `json:"project"`
	ThreadID int    `json:"thread_id"`
	Engine   string `json:"engine"`
	Value    string `json:"value"`
}

// OpenThreadStore loads path if it exists, or starts empty if it doesn't.
func OpenThreadStore(path string) (*ThreadStore, error) {
	s := &ThreadStore{path: path, data: make(map[threadMapKey]event.ResumeToken)}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []threadStoreEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	for _, e := range entries {
		s.data[threadMapKey{Project: e.Project, ThreadID: e.ThreadID}] = event.ResumeToken{
			Engine: event.EngineID(e.Engine),
			Value:  e.Value,
		}
	}
	return s, nil
}

func normalizeThreadID(threadID *int) int {
	if threadID == nil {
		return 0
	}
	return *threadID
}

// Lookup returns the resume token previously saved for (project, threadID).
func (s *ThreadStore) Lookup(project string, threadID *int) (event.ResumeToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.data[threadMapKey{Project: project, ThreadID: normalizeThreadID(threadID)}]
	return tok, ok
}

// Save records token against (project, threadID) and persists the whole
// table to disk.
func (s *ThreadStore) Save(project string, threadID *int, token event.ResumeToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[threadMapKey{Project: project, ThreadID: normalizeThreadID(threadID)}] = token
	return s.persistLocked()
}

func (s *ThreadStore) persistLocked() error {
	entries := make([]threadStoreEntry, 0, len(s.data))
	for k, v := range s.data {
		entries = append(entries, threadStoreEntry{
			Project:  k.Project,
			ThreadID: k.ThreadID,
			Engine:   string(v.Engine),
			Value:    v.Value,
		})
	}
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".threadstore-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, s.path)
}
