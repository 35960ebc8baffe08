package vars

import (
	"testing"

	"github.com/hazyhaar/domdrive/bus"
)

func newManager(t *testing.T) (*bus.Bus, *Manager) {
	t.Helper()
	b := bus.New()
	b.Start()
	m := NewManager(b)
	t.Cleanup(m.Close)
	return b, m
}

func TestRoundTrip(t *testing.T) {
	b, m := newManager(t)

	var changed []*ChangedPayload
	b.Subscribe(bus.TopicRootVarChanged, func(msg *bus.Message) {
		changed = append(changed, msg.Payload.(*ChangedPayload))
	})

	if err := m.Set("test_root", "scrollCount", 1); err != nil {
		t.Fatal(err)
	}
	v, ok := m.Get("test_root", "scrollCount", ScopeRoot)
	if !ok || v != 1 {
		t.Fatalf("Get: %v %v", v, ok)
	}
	// The CHANGED broadcast completed inside Set.
	if len(changed) != 1 {
		t.Fatalf("changed messages: %d", len(changed))
	}
	if changed[0].New != 1 || changed[0].Old != nil {
		t.Fatalf("changed payload: %+v", changed[0])
	}

	if err := m.Set("test_root", "scrollCount", 2); err != nil {
		t.Fatal(err)
	}
	if changed[1].Old != 1 || changed[1].New != 2 {
		t.Fatalf("second changed payload: %+v", changed[1])
	}
}

func TestScopes(t *testing.T) {
	_, m := newManager(t)

	if err := m.SetScoped("a", "k", "root-a", ScopeRoot); err != nil {
		t.Fatal(err)
	}
	if err := m.SetScoped("ignored", "k", "everywhere", ScopeGlobal); err != nil {
		t.Fatal(err)
	}

	if v, _ := m.Get("a", "k", ScopeRoot); v != "root-a" {
		t.Fatalf("root a: %v", v)
	}
	if _, ok := m.Get("b", "k", ScopeRoot); ok {
		t.Fatal("another container must not see a's root value")
	}
	if v, _ := m.Get("b", "k", ScopeGlobal); v != "everywhere" {
		t.Fatalf("global read: %v", v)
	}

	if err := m.SetScoped("a", "k", 1, "session"); err == nil {
		t.Fatal("unknown scope must be rejected")
	}
}

func TestDropScope(t *testing.T) {
	_, m := newManager(t)
	m.CreateScope("run")
	m.Set("run", "n", 5)
	m.DropScope("run")
	if _, ok := m.Get("run", "n", ScopeRoot); ok {
		t.Fatal("value survived DropScope")
	}
}

func TestSetAfterBusStop(t *testing.T) {
	b, m := newManager(t)
	b.Stop()
	if err := m.Set("run", "n", 1); err != bus.ErrBusClosed {
		t.Fatalf("got %v, want ErrBusClosed", err)
	}
}
