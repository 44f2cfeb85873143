package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brianly1003/cbridge/internal/domain"
	"github.com/brianly1003/cbridge/internal/domain/events"
	"github.com/brianly1003/cbridge/internal/domain/ports"
)

func TestMockSubscriber(t *testing.T) {
	sub := NewMockSubscriber("c1")
	if sub.ID() != "c1" {
		t.Errorf("ID() = %s", sub.ID())
	}

	AssertNoError(t, sub.Send(events.NewHeartbeatEvent(1, 0)), "send")
	if sub.EventCount() != 1 {
		t.Errorf("EventCount() = %d, want 1", sub.EventCount())
	}

	sendErr := errors.New("send failed")
	sub.SetSendError(sendErr)
	if err := sub.Send(events.NewHeartbeatEvent(2, 0)); err != sendErr {
		t.Errorf("Send() error = %v, want %v", err, sendErr)
	}

	sub.Close()
	sub.Close()
	select {
	case <-sub.Done():
	default:
		t.Error("Done() should be closed after Close()")
	}
	if !errors.Is(sub.Send(events.NewHeartbeatEvent(3, 0)), domain.ErrSubscriberClosed) {
		t.Error("Send() after Close() should fail with ErrSubscriberClosed")
	}
}

func TestMockCaptureAdapter_Stream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := NewMockCaptureAdapter()
	pane, err := a.ProvisionPane(ctx, ports.PaneRequest{ProjectPath: "/tmp/proj"})
	AssertNoError(t, err, "provision")

	stream, err := a.ReadStream(ctx, pane)
	AssertNoError(t, err, "read stream")
	if _, err := a.ReadStream(ctx, pane); err == nil {
		t.Error("second reader should be rejected")
	}

	a.Emit(pane.Target(), "hello\n")
	select {
	case chunk := <-stream:
		if string(chunk) != "hello\n" {
			t.Errorf("chunk = %q", chunk)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for chunk")
	}

	a.ClosePane(pane.Target())
	select {
	case _, ok := <-stream:
		if ok {
			t.Error("stream should be closed after ClosePane")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for close")
	}
	if a.HasPane(ctx, pane) {
		t.Error("HasPane() should be false after ClosePane")
	}
}

func TestMockCaptureAdapter_Keys(t *testing.T) {
	ctx := context.Background()
	a := NewMockCaptureAdapter()
	pane, _ := a.ProvisionPane(ctx, ports.PaneRequest{})

	AssertNoError(t, a.SendKeys(ctx, pane, "run tests"), "send keys")
	AssertNoError(t, a.SendControl(ctx, pane, "Escape"), "send control")

	keys := a.Keys()
	if len(keys) != 2 || keys[0].Text != "run tests" || keys[0].Control || !keys[1].Control {
		t.Errorf("Keys() = %+v", keys)
	}

	AssertNoError(t, a.Terminate(ctx, pane), "terminate")
	if err := a.SendKeys(ctx, pane, "late"); !errors.Is(err, ErrNoPane) {
		t.Errorf("SendKeys after Terminate error = %v", err)
	}
}

func TestRecordingBroadcaster(t *testing.T) {
	b := NewRecordingBroadcaster("a", "b")
	b.SendTo([]string{"a"}, events.NewSessionRawEvent("s1", "x"))
	b.Announce(events.NewSessionEndedEvent("s1", events.ReasonKilled))

	if got := b.For("a"); len(got) != 2 || got[1].Type() != events.EventTypeSessionEnded {
		t.Errorf("For(a) = %v", got)
	}
	if got := b.For("b"); len(got) != 1 {
		t.Errorf("For(b) = %v", got)
	}
	if got := b.OfType("a", events.EventTypeSessionRaw); len(got) != 1 {
		t.Errorf("OfType(a, raw) = %v", got)
	}
	if len(b.Announced()) != 1 {
		t.Errorf("Announced() = %v", b.Announced())
	}
}

func TestMemorySnapshotStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySnapshotStore()

	AssertNoError(t, s.Put(ctx, domain.ManagedSession{ID: "1", ConnectedClients: []string{"c"}}), "put 1")
	AssertNoError(t, s.Put(ctx, domain.ManagedSession{ID: "2"}), "put 2")
	AssertNoError(t, s.Delete(ctx, "1"), "delete")
	AssertNoError(t, s.Delete(ctx, "missing"), "delete missing")

	list, err := s.List(ctx)
	AssertNoError(t, err, "list")
	if len(list) != 1 || list[0].ID != "2" {
		t.Errorf("List() = %+v", list)
	}
}
