package streamcap

import "testing"

func TestWriteWithinLimit(t *testing.T) {
	b := New(100)
	b.Write("hello ")
	b.Write("world")
	if got := b.String(); got != "hello world" {
		t.Errorf("String() = %q, want %q", got, "hello world")
	}
	if b.Truncated() {
		t.Errorf("Truncated() = true, want false")
	}
}

func TestWriteTruncatesKeepingTail(t *testing.T) {
	b := NewWithPrefix(10, "[X]")
	b.Write("abcdefghij") // 10 bytes, exactly at limit
	if got := b.String(); got != "abcdefghij" {
		t.Fatalf("after first write = %q", got)
	}
	b.Write("klmno") // combined = 15 bytes > limit 10
	// prefix "[X]" (3 bytes) + last (10-3)=7 chars of "abcdefghijklmno"
	want := "[X]" + "ijklmno"
	if got := b.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if !b.Truncated() {
		t.Errorf("Truncated() = false, want true")
	}
}

func TestLimitSmallerThanPrefix(t *testing.T) {
	b := NewWithPrefix(2, "[truncated]")
	b.Write("this is way too long for the limit")
	if got := b.String(); got != "[truncated]" {
		t.Errorf("String() = %q, want bare prefix", got)
	}
}

func TestDefaultPrefix(t *testing.T) {
	b := New(5)
	b.Write("abcdefghij")
	if got := b.String(); got != DefaultPrefix {
		t.Errorf("String() = %q, want %q", got, DefaultPrefix)
	}
}
