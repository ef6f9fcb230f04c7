package tracker

import (
	"errors"
	"testing"
)

type fakeTransport struct {
	nextID    int
	sent      []Content
	deleted   []int
	deleteErr map[int]error
}

func (f *fakeTransport) Send(chatID int64, content Content) (int, error) {
	f.nextID++
	f.sent = append(f.sent, content)
	return f.nextID, nil
}

func (f *fakeTransport) Delete(chatID int64, messageID int) error {
	f.deleted = append(f.deleted, messageID)
	if f.deleteErr != nil {
		return f.deleteErr[messageID]
	}
	return nil
}

func classes(ms []TrackedMessage) []Class {
	out := make([]Class, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Class)
	}
	return out
}

func TestShow_MenuSupersedesMenuAndConfirmation(t *testing.T) {
	ft := &fakeTransport{}
	tr := New(ft)

	menuID, err := tr.Show(1, Content{Text: "menu"}, ClassMenu)
	if err != nil {
		t.Fatalf("show menu: %v", err)
	}
	confID, err := tr.Show(1, Content{Text: "sure?"}, ClassConfirmation)
	if err != nil {
		t.Fatalf("show confirmation: %v", err)
	}

	if _, err := tr.Show(1, Content{Text: "menu 2"}, ClassMenu); err != nil {
		t.Fatalf("show second menu: %v", err)
	}

	if len(ft.deleted) != 2 || ft.deleted[0] != menuID || ft.deleted[1] != confID {
		t.Fatalf("deleted = %v, want [%d %d]", ft.deleted, menuID, confID)
	}
	live := tr.Live(1)
	if len(live) != 1 || live[0].Class != ClassMenu {
		t.Fatalf("live = %v, want single menu", classes(live))
	}
}

func TestShow_InfoNeverTriggersCleanup(t *testing.T) {
	ft := &fakeTransport{}
	tr := New(ft)

	if _, err := tr.Show(1, Content{Text: "menu"}, ClassMenu); err != nil {
		t.Fatalf("show menu: %v", err)
	}
	if _, err := tr.Show(1, Content{Text: "fyi"}, ClassInfo); err != nil {
		t.Fatalf("show info: %v", err)
	}

	if len(ft.deleted) != 0 {
		t.Fatalf("info cleanup deleted %v", ft.deleted)
	}
	if live := tr.Live(1); len(live) != 2 {
		t.Fatalf("live = %v, want 2 entries", classes(live))
	}
}

func TestShow_InputRequestLeavesMenusAlone(t *testing.T) {
	ft := &fakeTransport{}
	tr := New(ft)

	if _, err := tr.Show(1, Content{Text: "menu"}, ClassMenu); err != nil {
		t.Fatalf("show menu: %v", err)
	}
	statusID, _ := tr.Show(1, Content{Text: "working..."}, ClassStatus)
	if _, err := tr.Show(1, Content{Text: "type a name"}, ClassInputRequest); err != nil {
		t.Fatalf("show input request: %v", err)
	}

	if len(ft.deleted) != 1 || ft.deleted[0] != statusID {
		t.Fatalf("deleted = %v, want only status %d", ft.deleted, statusID)
	}
	want := []Class{ClassMenu, ClassInputRequest}
	got := classes(tr.Live(1))
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("live = %v, want %v", got, want)
	}
}

func TestShow_ToleratesAlreadyGoneElements(t *testing.T) {
	ft := &fakeTransport{}
	tr := New(ft)

	oldID, _ := tr.Show(1, Content{Text: "working..."}, ClassStatus)
	ft.deleteErr = map[int]error{oldID: ErrMessageGone}

	if _, err := tr.Show(1, Content{Text: "still working..."}, ClassStatus); err != nil {
		t.Fatalf("show after gone element: %v", err)
	}
	if live := tr.Live(1); len(live) != 1 {
		t.Fatalf("live = %v, want only the new status", classes(live))
	}
}

func TestShow_DeleteFailureDoesNotBlockSend(t *testing.T) {
	ft := &fakeTransport{}
	tr := New(ft)

	oldID, _ := tr.Show(1, Content{Text: "menu"}, ClassMenu)
	ft.deleteErr = map[int]error{oldID: errors.New("network down")}

	if _, err := tr.Show(1, Content{Text: "menu 2"}, ClassMenu); err != nil {
		t.Fatalf("show blocked by delete failure: %v", err)
	}
	if len(ft.sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(ft.sent))
	}
}

func TestClear_DropsWithoutTransportDeletes(t *testing.T) {
	ft := &fakeTransport{}
	tr := New(ft)

	tr.Show(1, Content{Text: "menu"}, ClassMenu)
	tr.Show(1, Content{Text: "sure?"}, ClassConfirmation)
	tr.Clear(1)

	if len(ft.deleted) != 0 {
		t.Fatalf("clear touched the transport: %v", ft.deleted)
	}
	if live := tr.Live(1); len(live) != 0 {
		t.Fatalf("live after clear = %v", classes(live))
	}

	// A later show must not try to clean elements from before the clear.
	tr.Show(1, Content{Text: "menu 2"}, ClassMenu)
	if len(ft.deleted) != 0 {
		t.Fatalf("stale cleanup after clear: %v", ft.deleted)
	}
}

func TestChatsAreIndependent(t *testing.T) {
	ft := &fakeTransport{}
	tr := New(ft)

	tr.Show(1, Content{Text: "menu"}, ClassMenu)
	tr.Show(2, Content{Text: "menu"}, ClassMenu)

	if len(ft.deleted) != 0 {
		t.Fatalf("cross-chat cleanup happened: %v", ft.deleted)
	}
	if len(tr.Live(1)) != 1 || len(tr.Live(2)) != 1 {
		t.Fatalf("per-chat tracking broken")
	}
}
