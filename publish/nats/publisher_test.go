package nats

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/xraph/notevault/event"
	"github.com/xraph/notevault/id"
	"github.com/xraph/notevault/types"
)

type fakeConn struct {
	msgs    []*nats.Msg
	err     error
	drained bool
}

func (c *fakeConn) PublishMsg(m *nats.Msg) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, m)
	return nil
}

func (c *fakeConn) Drain() error {
	c.drained = true
	return nil
}

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestNewRejectsBadInput(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("nil conn: expected error")
	}
	if _, err := New(&fakeConn{}, WithSubjectPrefix("")); err == nil {
		t.Error("empty prefix: expected error")
	}
}

func TestPublishWithdrawal(t *testing.T) {
	conn := &fakeConn{}
	pub, err := New(conn, quiet(), WithSubjectPrefix("vaults."))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ledgerID := id.NewLedgerID()
	eventID := id.NewEventID()
	recipient := id.NewAccountID()
	err = pub.OnWithdrawalRecorded(context.Background(), &event.WithdrawalRecorded{
		ID:        eventID,
		LedgerID:  ledgerID,
		NoteID:    2,
		Amount:    types.FromInt(25, "xrd"),
		Recipient: recipient,
	})
	if err != nil {
		t.Fatalf("OnWithdrawalRecorded: %v", err)
	}

	if len(conn.msgs) != 1 {
		t.Fatalf("messages: got %d, want 1", len(conn.msgs))
	}
	msg := conn.msgs[0]
	wantSubject := "vaults." + ledgerID.String() + ".withdrawal.recorded"
	if msg.Subject != wantSubject {
		t.Errorf("subject: got %q, want %q", msg.Subject, wantSubject)
	}
	if msg.Header.Get(HeaderKind) != string(event.KindWithdrawalRecorded) {
		t.Errorf("kind header: got %q", msg.Header.Get(HeaderKind))
	}
	if msg.Header.Get(HeaderEventID) != eventID.String() {
		t.Errorf("event id header: got %q", msg.Header.Get(HeaderEventID))
	}

	decoded, err := event.Decode(msg.Data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got := decoded.(*event.WithdrawalRecorded)
	if got.Recipient.String() != recipient.String() || got.NoteID != 2 {
		t.Errorf("decoded: %+v", got)
	}
}

func TestPublishFailure(t *testing.T) {
	conn := &fakeConn{err: errors.New("no responders")}
	pub, _ := New(conn, quiet())

	err := pub.OnDepositRecorded(context.Background(), &event.DepositRecorded{LedgerID: id.NewLedgerID()})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestDrainOnShutdown(t *testing.T) {
	conn := &fakeConn{}
	pub, _ := New(conn, quiet())
	_ = pub.OnShutdown(context.Background())
	if conn.drained {
		t.Error("drained without WithDrainOnShutdown")
	}

	pub, _ = New(conn, quiet(), WithDrainOnShutdown())
	_ = pub.OnShutdown(context.Background())
	if !conn.drained {
		t.Error("connection not drained")
	}
}
