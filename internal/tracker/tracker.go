// Package tracker keeps a rendered chat free of stale interactive elements:
// menus, input prompts, confirmations and status lines are deleted through
// the transport before a superseding element is shown.
package tracker

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

type Class string

const (
	ClassMenu         Class = "menu"
	ClassInputRequest Class = "input_request"
	ClassConfirmation Class = "confirmation"
	ClassStatus       Class = "status"
	ClassInfo         Class = "info"
)

// supersedes lists, per new element class, which live classes must be deleted
// before the new element is shown. Info elements never trigger cleanup and
// are never cleaned up.
var supersedes = map[Class][]Class{
	ClassMenu:         {ClassMenu, ClassInputRequest, ClassConfirmation, ClassStatus},
	ClassInputRequest: {ClassInputRequest, ClassConfirmation, ClassStatus},
	ClassConfirmation: {ClassConfirmation},
	ClassStatus:       {ClassStatus},
	ClassInfo:         nil,
}

// ErrMessageGone is returned by Transport.Delete when the element was already
// removed on the transport side. The tracker tolerates it silently.
var ErrMessageGone = errors.New("message already gone")

type Button struct {
	Label string
	Data  string
}

type Content struct {
	Text    string
	Buttons [][]Button
}

// Transport is the narrow slice of the chat transport the tracker needs.
type Transport interface {
	Send(chatID int64, content Content) (messageID int, err error)
	Delete(chatID int64, messageID int) error
}

// TrackedMessage is one live interactive element. State is in-memory only; a
// restart merely stops auto-cleanup of elements sent before it.
type TrackedMessage struct {
	ElementID int
	Class     Class
	CreatedAt time.Time
}

type Tracker struct {
	mu        sync.Mutex
	transport Transport
	now       func() time.Time
	chats     map[int64][]TrackedMessage
}

func New(transport Transport) *Tracker {
	return &Tracker{
		transport: transport,
		now:       func() time.Time { return time.Now().UTC() },
		chats:     make(map[int64][]TrackedMessage),
	}
}

// Show deletes every live element the new class supersedes, sends the new
// element and records it. Deletion failures other than ErrMessageGone are
// logged but never block the send.
func (t *Tracker) Show(chatID int64, content Content, class Class) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	doomed := make(map[Class]bool, 4)
	for _, c := range supersedes[class] {
		doomed[c] = true
	}
	kept := t.chats[chatID][:0]
	for _, m := range t.chats[chatID] {
		if !doomed[m.Class] {
			kept = append(kept, m)
			continue
		}
		if err := t.transport.Delete(chatID, m.ElementID); err != nil && !errors.Is(err, ErrMessageGone) {
			log.Printf("⚠️ chat %d: delete stale %s element %d: %v", chatID, m.Class, m.ElementID, err)
		}
	}
	t.chats[chatID] = kept

	id, err := t.transport.Send(chatID, content)
	if err != nil {
		return 0, fmt.Errorf("send %s element: %w", class, err)
	}
	t.chats[chatID] = append(t.chats[chatID], TrackedMessage{
		ElementID: id,
		Class:     class,
		CreatedAt: t.now(),
	})
	return id, nil
}

// Clear drops all tracked entries for a chat without touching the transport.
// Used when the conversational context changes abruptly so stale tracking
// cannot trigger a wrong-context cleanup later.
func (t *Tracker) Clear(chatID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.chats, chatID)
}

// Live returns a snapshot of the chat's tracked elements.
func (t *Tracker) Live(chatID int64) []TrackedMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TrackedMessage, len(t.chats[chatID]))
	copy(out, t.chats[chatID])
	return out
}
