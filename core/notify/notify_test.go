package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/kilianp07/dockflow/core/factory"
)

type countNotifier struct {
	sent, closed int
	err          error
}

func (c *countNotifier) Notify(context.Context, Message) error {
	c.sent++
	return c.err
}

func (c *countNotifier) Close() error {
	c.closed++
	return nil
}

func TestMultiNotifier(t *testing.T) {
	bad := &countNotifier{err: errors.New("broker down")}
	good := &countNotifier{}
	m := &MultiNotifier{Notifiers: []Notifier{bad, good}}
	if err := m.Notify(context.Background(), Message{RunID: "r"}); err == nil {
		t.Fatal("expected error")
	}
	if good.sent != 1 {
		t.Fatal("second notifier must still receive the message")
	}
	if err := m.Close(); err != nil || bad.closed != 1 || good.closed != 1 {
		t.Fatalf("close: %v", err)
	}
}

func TestNew(t *testing.T) {
	n, err := New(nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := n.(NopNotifier); !ok {
		t.Fatalf("expected NopNotifier, got %T", n)
	}
	created := &countNotifier{}
	if err := Register("count", func(map[string]any) (Notifier, error) { return created, nil }); err != nil {
		t.Fatalf("register: %v", err)
	}
	n, err = New([]factory.ModuleConfig{{Type: "count"}, {Type: "count"}})
	if err != nil {
		t.Fatalf("new multi: %v", err)
	}
	if m, ok := n.(*MultiNotifier); !ok || len(m.Notifiers) != 2 {
		t.Fatalf("expected MultiNotifier, got %T", n)
	}
	if _, err := New([]factory.ModuleConfig{{Type: "count"}, {Type: "unknown"}}); err == nil {
		t.Fatal("expected error for unknown notifier")
	}
	if created.closed != 1 {
		t.Fatalf("notifiers created before a failure must be closed, got %d", created.closed)
	}
}
