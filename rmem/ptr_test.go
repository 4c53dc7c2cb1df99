package rmem

import "testing"

func TestPtrRoundTrip(t *testing.T) {
	p := New(7, 0x1f8)
	if got := p.ID(); got != 7 {
		t.Fatalf("id = %d, want 7", got)
	}
	if got := p.Addr(); got != 0x1f8 {
		t.Fatalf("addr = %#x, want 0x1f8", got)
	}
	if p.Marked() || p.Hint() {
		t.Fatalf("fresh pointer carries flags: %v", p)
	}
}

func TestPtrFlagsAreIndependent(t *testing.T) {
	p := New(3, 0x40)

	m := p.Mark()
	if !m.Marked() {
		t.Fatal("Mark did not set the delete bit")
	}
	if m.Hint() {
		t.Fatal("Mark leaked into the hint bit")
	}
	if m.Unmark() != p {
		t.Fatalf("Unmark(Mark(p)) = %v, want %v", m.Unmark(), p)
	}

	h := p.WithHint()
	if !h.Hint() {
		t.Fatal("WithHint did not set the hint bit")
	}
	if h.Marked() {
		t.Fatal("WithHint leaked into the delete bit")
	}

	both := p.Mark().WithHint()
	if both.Canonical() != p {
		t.Fatalf("Canonical = %v, want %v", both.Canonical(), p)
	}
	if both.ID() != 3 || both.Addr() != 0x40 {
		t.Fatalf("flags disturbed id/addr: %v", both)
	}
}

func TestPtrNull(t *testing.T) {
	if !Null.IsNull() {
		t.Fatal("Null is not null")
	}
	// A marked terminator is still the terminator.
	if !Null.Mark().IsNull() {
		t.Fatal("marked Null stopped being null")
	}
	if Null.Mark() == Null {
		t.Fatal("mark bit lost on Null")
	}
	if New(1, 0x10).IsNull() {
		t.Fatal("real pointer reported null")
	}
}
