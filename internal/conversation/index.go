package conversation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

func (s *FileStore) indexPath(ownerID int64) string {
	return filepath.Join(s.ownerDir(ownerID), "index.json")
}

// loadIndexLocked reads the owner index. A missing index yields nil. A
// corrupt index is rebuilt in memory from the record files so sequence
// numbers survive.
func (s *FileStore) loadIndexLocked(ownerID int64) (*Index, error) {
	data, err := os.ReadFile(s.indexPath(ownerID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read index: %w", err)
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		log.Printf("corrupt index for owner %d, rebuilding from records: %v", ownerID, err)
		return s.rebuildLocked(ownerID)
	}
	return &idx, nil
}

func (s *FileStore) writeIndexLocked(ownerID int64, idx *Index) error {
	return writeJSONAtomic(s.indexPath(ownerID), idx)
}

// GetActive returns the owner's active conversation id, or "" when the owner
// has no conversations yet.
func (s *FileStore) GetActive(ownerID int64) (string, error) {
	defer s.locks.Lock(ownerID)()
	idx, err := s.loadIndexLocked(ownerID)
	if err != nil || idx == nil {
		return "", err
	}
	return idx.ActiveConversationID, nil
}

// SetActive flips activation to the given conversation within a single index
// write: the previous entry loses is_active, the new one gains it. The two
// record files are flipped afterwards, best effort.
func (s *FileStore) SetActive(ownerID int64, conversationID string) error {
	defer s.locks.Lock(ownerID)()

	idx, err := s.loadIndexLocked(ownerID)
	if err != nil {
		return err
	}
	if idx == nil || idx.find(conversationID) < 0 {
		return ErrNotFound
	}
	previous := idx.ActiveConversationID
	if previous == conversationID {
		return nil
	}
	idx.ActiveConversationID = conversationID
	for i := range idx.Conversations {
		idx.Conversations[i].IsActive = idx.Conversations[i].ConversationID == conversationID
	}
	if err := s.writeIndexLocked(ownerID, idx); err != nil {
		return err
	}
	if previous != "" {
		s.markRecordActiveLocked(ownerID, previous, false)
	}
	s.markRecordActiveLocked(ownerID, conversationID, true)
	return nil
}

// UpsertMetadata replaces (or inserts) one conversation's denormalized entry.
func (s *FileStore) UpsertMetadata(ownerID int64, meta Metadata) error {
	defer s.locks.Lock(ownerID)()

	idx, err := s.loadIndexLocked(ownerID)
	if err != nil {
		return err
	}
	if idx == nil {
		idx = &Index{
			OwnerID:            ownerID,
			OwnerDisplayName:   meta.OwnerDisplayName,
			NextSequenceNumber: meta.SequenceNumber + 1,
		}
	}
	idx.upsert(meta)
	return s.writeIndexLocked(ownerID, idx)
}

// RemoveIndexEntry drops one conversation's entry from the index without
// touching the record file.
func (s *FileStore) RemoveIndexEntry(ownerID int64, conversationID string) error {
	defer s.locks.Lock(ownerID)()

	idx, err := s.loadIndexLocked(ownerID)
	if err != nil {
		return err
	}
	if idx == nil {
		return ErrNotFound
	}
	if idx.find(conversationID) < 0 {
		return ErrNotFound
	}
	idx.remove(conversationID)
	if idx.ActiveConversationID == conversationID {
		idx.ActiveConversationID = ""
	}
	return s.writeIndexLocked(ownerID, idx)
}

// List returns the owner's conversations, active first, the rest ordered by
// updated_at descending.
func (s *FileStore) List(ownerID int64) ([]Metadata, error) {
	defer s.locks.Lock(ownerID)()
	idx, err := s.loadIndexLocked(ownerID)
	if err != nil || idx == nil {
		return nil, err
	}
	return idx.ordered(), nil
}

// RebuildIndex reconstructs the owner's index from the record files and
// rewrites it only when it differs from what is on disk. Returns whether a
// repair happened. The record files are the source of truth; this is the
// healing pass for the crash window between the two renames of a commit.
func (s *FileStore) RebuildIndex(ownerID int64) (bool, error) {
	defer s.locks.Lock(ownerID)()

	rebuilt, err := s.rebuildLocked(ownerID)
	if err != nil {
		return false, err
	}
	current, _ := os.ReadFile(s.indexPath(ownerID))
	if current != nil {
		var existing Index
		if json.Unmarshal(current, &existing) == nil {
			if existing.OwnerDisplayName != "" {
				rebuilt.OwnerDisplayName = existing.OwnerDisplayName
			}
			// Sequence numbers are never reused, so the counter only moves up.
			if existing.NextSequenceNumber > rebuilt.NextSequenceNumber {
				rebuilt.NextSequenceNumber = existing.NextSequenceNumber
			}
		}
	}
	// Entry order differs between an organically grown index and a rebuilt
	// one, so compare both sorted by sequence number.
	sortBySequence(rebuilt.Conversations)
	want, err := json.Marshal(rebuilt)
	if err != nil {
		return false, fmt.Errorf("encode rebuilt index: %w", err)
	}
	var have []byte
	if current != nil {
		var existing Index
		if json.Unmarshal(current, &existing) == nil {
			sortBySequence(existing.Conversations)
			have, _ = json.Marshal(&existing)
		}
	}
	if bytes.Equal(want, have) {
		return false, nil
	}
	if err := s.writeIndexLocked(ownerID, rebuilt); err != nil {
		return false, err
	}
	return true, nil
}

func (s *FileStore) rebuildLocked(ownerID int64) (*Index, error) {
	entries, err := os.ReadDir(s.ownerDir(ownerID))
	if err != nil {
		if os.IsNotExist(err) {
			return &Index{OwnerID: ownerID, NextSequenceNumber: 1}, nil
		}
		return nil, fmt.Errorf("scan owner dir: %w", err)
	}
	idx := &Index{OwnerID: ownerID, NextSequenceNumber: 1}
	var active Metadata
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == "index.json" || !strings.HasSuffix(name, ".json") {
			continue
		}
		conv, err := s.Load(ownerID, strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue // corrupt records already logged by Load
		}
		conv.Recompute(conv.Metadata.UpdatedAt)
		idx.upsert(conv.Metadata)
		if idx.OwnerDisplayName == "" {
			idx.OwnerDisplayName = conv.Metadata.OwnerDisplayName
		}
		if conv.Metadata.SequenceNumber >= idx.NextSequenceNumber {
			idx.NextSequenceNumber = conv.Metadata.SequenceNumber + 1
		}
		if conv.Metadata.IsActive && conv.Metadata.UpdatedAt.After(active.UpdatedAt) {
			active = conv.Metadata
		}
	}
	idx.ActiveConversationID = active.ConversationID
	for i := range idx.Conversations {
		idx.Conversations[i].IsActive = idx.Conversations[i].ConversationID == active.ConversationID
	}
	return idx, nil
}

// Owners lists every owner id with a directory under the store root.
func (s *FileStore) Owners() ([]int64, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("scan store root: %w", err)
	}
	var out []int64
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "owner_") {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimPrefix(e.Name(), "owner_"), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func sortBySequence(metas []Metadata) {
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].SequenceNumber < metas[j].SequenceNumber
	})
}

func (x *Index) find(conversationID string) int {
	for i, m := range x.Conversations {
		if m.ConversationID == conversationID {
			return i
		}
	}
	return -1
}

func (x *Index) upsert(meta Metadata) {
	if i := x.find(meta.ConversationID); i >= 0 {
		x.Conversations[i] = meta
		return
	}
	x.Conversations = append(x.Conversations, meta)
}

func (x *Index) remove(conversationID string) {
	if i := x.find(conversationID); i >= 0 {
		x.Conversations = append(x.Conversations[:i], x.Conversations[i+1:]...)
	}
}

func (x *Index) mostRecentlyUpdated() string {
	best := -1
	for i, m := range x.Conversations {
		if best < 0 || m.UpdatedAt.After(x.Conversations[best].UpdatedAt) {
			best = i
		}
	}
	if best < 0 {
		return ""
	}
	return x.Conversations[best].ConversationID
}

func (x *Index) ordered() []Metadata {
	out := make([]Metadata, len(x.Conversations))
	copy(out, x.Conversations)
	sort.SliceStable(out, func(i, j int) bool {
		iActive := out[i].ConversationID == x.ActiveConversationID
		jActive := out[j].ConversationID == x.ActiveConversationID
		if iActive != jActive {
			return iActive
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}
