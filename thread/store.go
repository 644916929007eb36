package thread

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Store persists and loads Thread snapshots. Implementations need not be
// transactional across processes; the in-memory Thread remains authoritative
// for the lifetime of a single run (see RetryingStore).
type Store interface {
	Save(t *Thread) error
	Load(id string) (*Thread, error)
	Delete(id string) error
}

// snapshot is the serializable representation of a Thread used by FileStore.
// Thread's fields are unexported to protect its invariants, so Save/Load
// convert through this shape rather than marshaling *Thread directly.
type snapshot struct {
	ID         string    `yaml:"id"`
	Name       string    `yaml:"name,omitempty"`
	CreatedAt  time.Time `yaml:"createdAt"`
	ModifiedAt time.Time `yaml:"modifiedAt"`
	ForkDepth  int       `yaml:"forkDepth"`
	NextSeq    int64     `yaml:"nextSeq"`
	Entries    []entrySnapshot `yaml:"entries"`
}

// entrySnapshot carries every field any entry kind might use; Kind
// discriminates which fields are meaningful on decode.
type entrySnapshot struct {
	ID         string        `yaml:"id"`
	Kind       EntryKind     `yaml:"kind"`
	CreatedAt  time.Time     `yaml:"createdAt"`
	Speaker    string        `yaml:"speaker,omitempty"`
	AgentName  string        `yaml:"agentName,omitempty"`
	Content    []ContentPart `yaml:"content,omitempty"`
	ToolName   string        `yaml:"toolName,omitempty"`
	CallID     string        `yaml:"callId,omitempty"`
	ArgsJSON   string        `yaml:"argsJson,omitempty"`
	ResultJSON string        `yaml:"resultJson,omitempty"`
	ErrorText  string        `yaml:"errorText,omitempty"`
}

func toSnapshot(t *Thread) snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := snapshot{
		ID:         t.id,
		Name:       t.name,
		CreatedAt:  t.createdAt,
		ModifiedAt: t.modifiedAt,
		ForkDepth:  t.forkDepth,
		NextSeq:    t.nextSeq,
		Entries:    make([]entrySnapshot, 0, len(t.entries)),
	}
	for _, e := range t.entries {
		es := entrySnapshot{ID: e.EntryID(), Kind: e.Kind(), CreatedAt: e.CreatedAt()}
		switch v := e.(type) {
		case *UserMessageEntry:
			es.Speaker = v.Speaker
			es.Content = v.Content
		case *AgentMessageEntry:
			es.AgentName = v.AgentName
			es.Content = v.Content
		case *ToolRequestEntry:
			es.AgentName = v.AgentName
			es.ToolName = v.ToolName
			es.CallID = v.CallID
			es.ArgsJSON = v.ArgsJSON
		case *ToolResponseEntry:
			es.CallID = v.CallID
			es.ResultJSON = v.ResultJSON
			es.ErrorText = v.ErrorText
		}
		s.Entries = append(s.Entries, es)
	}
	return s
}

func fromSnapshot(s snapshot) *Thread {
	t := &Thread{
		id:         s.ID,
		name:       s.Name,
		createdAt:  s.CreatedAt,
		modifiedAt: s.ModifiedAt,
		forkDepth:  s.ForkDepth,
		nextSeq:    s.NextSeq,
		entries:    make([]Entry, 0, len(s.Entries)),
	}
	for _, es := range s.Entries {
		base := entryBase{ID: es.ID, At: es.CreatedAt, EntryKind: es.Kind}
		switch es.Kind {
		case EntryUserMessage:
			t.entries = append(t.entries, &UserMessageEntry{entryBase: base, Speaker: es.Speaker, Content: es.Content})
		case EntryAgentMessage:
			t.entries = append(t.entries, &AgentMessageEntry{entryBase: base, AgentName: es.AgentName, Content: es.Content})
		case EntryToolRequest:
			t.entries = append(t.entries, &ToolRequestEntry{entryBase: base, AgentName: es.AgentName, ToolName: es.ToolName, CallID: es.CallID, ArgsJSON: es.ArgsJSON})
		case EntryToolResponse:
			t.entries = append(t.entries, &ToolResponseEntry{entryBase: base, CallID: es.CallID, ResultJSON: es.ResultJSON, ErrorText: es.ErrorText})
		}
	}
	// Recompute pending state the same way Append would have left it.
	for _, e := range t.entries {
		switch ent := e.(type) {
		case *ToolRequestEntry:
			t.pendingCallID = ent.CallID
		case *ToolResponseEntry:
			t.pendingCallID = ""
		}
	}
	return t
}

// FileStore persists threads as one YAML file per thread under
// <dir>/<threadID>.yaml, matching the persisted-state layout
// (`threads/<threadId>.yaml`).
type FileStore struct {
	dir string
}

// NewFileStore constructs a FileStore rooted at dir. The directory is
// created on first Save if it does not already exist.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".yaml")
}

// Save writes t to its YAML file, creating the store directory if needed.
// The write goes through a temp file and rename so a concurrent Load never
// observes a partially written file.
func (s *FileStore) Save(t *Thread) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create thread store dir: %w", err)
	}
	data, err := yaml.Marshal(toSnapshot(t))
	if err != nil {
		return fmt.Errorf("marshal thread %s: %w", t.ID(), err)
	}
	tmp := s.path(t.ID()) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write thread %s: %w", t.ID(), err)
	}
	if err := os.Rename(tmp, s.path(t.ID())); err != nil {
		return fmt.Errorf("commit thread %s: %w", t.ID(), err)
	}
	return nil
}

// Load reads the thread identified by id from its YAML file.
func (s *FileStore) Load(id string) (*Thread, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return nil, fmt.Errorf("read thread %s: %w", id, err)
	}
	var snap snapshot
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&snap); err != nil {
		return nil, fmt.Errorf("parse thread %s: %w", id, err)
	}
	return fromSnapshot(snap), nil
}

// Delete removes the YAML file for id, if present.
func (s *FileStore) Delete(id string) error {
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete thread %s: %w", id, err)
	}
	return nil
}
