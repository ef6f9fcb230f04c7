package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"chat-keeper/internal/locks"
)

// ErrNotFound is returned when a conversation does not exist for the owner.
// Corrupt record files are logged and reported the same way so callers deal
// with a single sentinel.
var ErrNotFound = errors.New("conversation not found")

const DefaultTitleLimit = 48

// FileStore keeps one directory per owner holding a JSON file per
// conversation plus an index.json summary. Every write goes through a
// temp-file-then-rename sequence, so readers see either the previous or the
// fully written content, never a partial file.
//
// All mutating operations take the owner's lock internally; callers must not
// wrap store calls in the same lock.
type FileStore struct {
	root       string
	titleLimit int
	locks      *locks.Registry
	now        func() time.Time
	newID      func() string
}

func NewFileStore(root string, titleLimit int) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("ensure store dir: %w", err)
	}
	if titleLimit <= 0 {
		titleLimit = DefaultTitleLimit
	}
	return &FileStore{
		root:       root,
		titleLimit: titleLimit,
		locks:      locks.NewRegistry(),
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}, nil
}

func (s *FileStore) ownerDir(ownerID int64) string {
	return filepath.Join(s.root, fmt.Sprintf("owner_%d", ownerID))
}

func (s *FileStore) recordPath(ownerID int64, conversationID string) string {
	return filepath.Join(s.ownerDir(ownerID), conversationID+".json")
}

// Create starts a new conversation for the owner, assigns it the next
// sequence number and marks it active. A non-empty seedText becomes the
// derived title. Returns the new conversation id.
func (s *FileStore) Create(ownerID int64, displayName, seedText string) (string, error) {
	defer s.locks.Lock(ownerID)()
	return s.createLocked(ownerID, displayName, seedText)
}

func (s *FileStore) createLocked(ownerID int64, displayName, seedText string) (string, error) {
	idx, err := s.loadIndexLocked(ownerID)
	if err != nil {
		return "", err
	}
	if idx == nil {
		idx = &Index{OwnerID: ownerID, NextSequenceNumber: 1}
	}
	if displayName != "" {
		idx.OwnerDisplayName = displayName
	}

	now := s.now()
	conv := &Conversation{
		ConversationID: s.newID(),
		Metadata: Metadata{
			ConversationID:   "",
			OwnerID:          ownerID,
			OwnerDisplayName: idx.OwnerDisplayName,
			Title:            DeriveTitle(seedText, s.titleLimit),
			CreatedAt:        now,
			UpdatedAt:        now,
			IsActive:         true,
			SequenceNumber:   idx.NextSequenceNumber,
		},
	}
	conv.Metadata.ConversationID = conv.ConversationID

	previousActive := idx.ActiveConversationID
	idx.NextSequenceNumber++
	idx.ActiveConversationID = conv.ConversationID
	for i := range idx.Conversations {
		idx.Conversations[i].IsActive = false
	}
	idx.upsert(conv.Metadata)

	if err := s.commitLocked(ownerID, conv, idx); err != nil {
		return "", err
	}
	if previousActive != "" {
		s.markRecordActiveLocked(ownerID, previousActive, false)
	}
	return conv.ConversationID, nil
}

// Load reads one conversation. A corrupt file is logged and reported as
// ErrNotFound; it is never repaired or deleted here.
func (s *FileStore) Load(ownerID int64, conversationID string) (*Conversation, error) {
	path := s.recordPath(ownerID, conversationID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read record: %w", err)
	}
	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		log.Printf("corrupt conversation record %s treated as missing: %v", path, err)
		return nil, ErrNotFound
	}
	return &conv, nil
}

// Save writes the conversation record and its index entry as one logical
// update (two staged temp files, two renames).
func (s *FileStore) Save(conv *Conversation) error {
	defer s.locks.Lock(conv.Metadata.OwnerID)()
	return s.saveLocked(conv)
}

func (s *FileStore) saveLocked(conv *Conversation) error {
	idx, err := s.loadIndexLocked(conv.Metadata.OwnerID)
	if err != nil {
		return err
	}
	if idx == nil {
		idx = &Index{
			OwnerID:            conv.Metadata.OwnerID,
			OwnerDisplayName:   conv.Metadata.OwnerDisplayName,
			NextSequenceNumber: conv.Metadata.SequenceNumber + 1,
		}
		if conv.Metadata.IsActive {
			idx.ActiveConversationID = conv.ConversationID
		}
	}
	// The index is authoritative for activation; never let a stale record
	// flag reintroduce a second active entry.
	conv.Metadata.IsActive = conv.ConversationID == idx.ActiveConversationID
	idx.upsert(conv.Metadata)
	return s.commitLocked(conv.Metadata.OwnerID, conv, idx)
}

// AppendMessage appends one message to the conversation, refreshes the
// derived counters and commits record and index together.
func (s *FileStore) AppendMessage(ownerID int64, conversationID string, msg Message) error {
	defer s.locks.Lock(ownerID)()

	conv, err := s.Load(ownerID, conversationID)
	if err != nil {
		return err
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	conv.Messages = append(conv.Messages, msg)
	conv.Recompute(s.now())
	if conv.Metadata.Title == DefaultTitle && msg.Role == RoleUser {
		conv.Metadata.Title = DeriveTitle(msg.Text, s.titleLimit)
	}
	return s.saveLocked(conv)
}

// Rename sets the conversation title.
func (s *FileStore) Rename(ownerID int64, conversationID, title string) error {
	defer s.locks.Lock(ownerID)()

	conv, err := s.Load(ownerID, conversationID)
	if err != nil {
		return err
	}
	conv.Metadata.Title = DeriveTitle(title, s.titleLimit)
	conv.Recompute(s.now())
	return s.saveLocked(conv)
}

// Delete removes the conversation file and its index entry. If the deleted
// conversation was active, the most recently updated remaining conversation
// takes over; when none remain a fresh empty conversation is created so the
// owner always has an active one.
func (s *FileStore) Delete(ownerID int64, conversationID string) error {
	defer s.locks.Lock(ownerID)()

	idx, err := s.loadIndexLocked(ownerID)
	if err != nil {
		return err
	}
	if idx == nil || idx.find(conversationID) < 0 {
		return ErrNotFound
	}

	if err := os.Remove(s.recordPath(ownerID, conversationID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove record: %w", err)
	}

	wasActive := idx.ActiveConversationID == conversationID
	idx.remove(conversationID)

	if wasActive {
		idx.ActiveConversationID = ""
		if next := idx.mostRecentlyUpdated(); next != "" {
			idx.ActiveConversationID = next
			for i := range idx.Conversations {
				idx.Conversations[i].IsActive = idx.Conversations[i].ConversationID == next
			}
			if err := s.writeIndexLocked(ownerID, idx); err != nil {
				return err
			}
			s.markRecordActiveLocked(ownerID, next, true)
			return nil
		}
		// Last conversation gone, start over with an empty one.
		if err := s.writeIndexLocked(ownerID, idx); err != nil {
			return err
		}
		_, err := s.createLocked(ownerID, idx.OwnerDisplayName, "")
		return err
	}
	return s.writeIndexLocked(ownerID, idx)
}

// commitLocked performs the two-phase update: stage both temp files first,
// then rename the record, then the index. A crash strictly between the two
// renames leaves a stale index entry; the record file is the source of truth
// and RebuildIndex heals the drift.
func (s *FileStore) commitLocked(ownerID int64, conv *Conversation, idx *Index) error {
	recordTmp, err := stageJSON(s.recordPath(ownerID, conv.ConversationID), conv)
	if err != nil {
		return err
	}
	indexTmp, err := stageJSON(s.indexPath(ownerID), idx)
	if err != nil {
		_ = os.Remove(recordTmp)
		return err
	}
	if err := os.Rename(recordTmp, s.recordPath(ownerID, conv.ConversationID)); err != nil {
		_ = os.Remove(recordTmp)
		_ = os.Remove(indexTmp)
		return fmt.Errorf("rename record: %w", err)
	}
	if err := os.Rename(indexTmp, s.indexPath(ownerID)); err != nil {
		_ = os.Remove(indexTmp)
		return fmt.Errorf("rename index: %w", err)
	}
	return nil
}

// markRecordActiveLocked flips is_active inside a record file. Best effort:
// the index is authoritative for activation and a failed flip only delays
// consistency until the next rebuild pass.
func (s *FileStore) markRecordActiveLocked(ownerID int64, conversationID string, active bool) {
	conv, err := s.Load(ownerID, conversationID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Printf("owner %d: read record %s for activation flip: %v", ownerID, conversationID, err)
		}
		return
	}
	if conv.Metadata.IsActive == active {
		return
	}
	conv.Metadata.IsActive = active
	if err := writeJSONAtomic(s.recordPath(ownerID, conversationID), conv); err != nil {
		log.Printf("owner %d: flip is_active on record %s: %v", ownerID, conversationID, err)
	}
}

// stageJSON writes v to a temp file next to path and returns the temp path.
// The caller renames it into place or removes it.
func stageJSON(path string, v any) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("ensure dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp.*")
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("encode temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("close temp: %w", err)
	}
	return tmp.Name(), nil
}

func writeJSONAtomic(path string, v any) error {
	tmp, err := stageJSON(path, v)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
