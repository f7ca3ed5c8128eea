package observer

import "testing"

func TestListEmitOrderAndRemove(t *testing.T) {
	var l List[int]
	var got []string

	removeA := l.Add(func(v int) { got = append(got, "a") })
	l.Add(func(v int) { got = append(got, "b") })
	l.Emit(1)

	removeA()
	removeA()
	l.Emit(2)

	want := []string{"a", "b", "b"}
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("calls = %v, want %v", got, want)
		}
	}
	if l.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", l.Len())
	}
}

func TestListRemoveDuringEmit(t *testing.T) {
	var l List[string]
	calls := 0
	var remove func()
	remove = l.Add(func(string) {
		calls++
		remove()
	})
	l.Add(func(string) { calls++ })

	l.Emit("x")
	if calls != 2 {
		t.Fatalf("calls = %d, want 2 (snapshot taken before removal)", calls)
	}
	l.Emit("y")
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestListNilHandler(t *testing.T) {
	var l List[int]
	l.Add(nil)()
	l.Emit(1)
	if l.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", l.Len())
	}
}
