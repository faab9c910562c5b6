package validate

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func kindOf(t *testing.T, err error) Kind {
	t.Helper()
	var ve *Error
	if !errors.As(err, &ve) {
		t.Fatalf("expected *validate.Error, got %T: %v", err, err)
	}
	return ve.Kind
}

func TestIdentifier(t *testing.T) {
	valid := []string{"a", "read", "can_edit", "doc-viewer", "p1"}
	for _, v := range valid {
		if err := Identifier("f", v); err != nil {
			t.Errorf("Identifier(%q) = %v, want nil", v, err)
		}
	}

	cases := []struct {
		value string
		kind  Kind
	}{
		{"", KindNull},
		{strings.Repeat("a", 1025), KindLength},
		{"1abc", KindFormat},
		{"Read", KindFormat},
		{"has space", KindFormat},
		{"-lead", KindFormat},
	}
	for _, c := range cases {
		err := Identifier("f", c.value)
		if err == nil {
			t.Errorf("Identifier(%q) = nil, want error", c.value)
			continue
		}
		if got := kindOf(t, err); got != c.kind {
			t.Errorf("Identifier(%q) kind = %v, want %v", c.value, got, c.kind)
		}
	}
}

func TestFreeformID(t *testing.T) {
	valid := []string{"alice", "user@example.com", "UUID-1234", "路径/deep"}
	for _, v := range valid {
		if err := FreeformID("f", v); err != nil {
			t.Errorf("FreeformID(%q) = %v, want nil", v, err)
		}
	}

	cases := []struct {
		value string
		kind  Kind
	}{
		{"", KindNull},
		{strings.Repeat("x", 1025), KindLength},
		{" padded", KindTruncation},
		{"padded ", KindTruncation},
		{"nul\x00byte", KindTruncation},
		{"bell\x07", KindTruncation},
	}
	for _, c := range cases {
		err := FreeformID("f", c.value)
		if err == nil {
			t.Errorf("FreeformID(%q) = nil, want error", c.value)
			continue
		}
		if got := kindOf(t, err); got != c.kind {
			t.Errorf("FreeformID(%q) kind = %v, want %v", c.value, got, c.kind)
		}
	}
}

func TestNamespace(t *testing.T) {
	for _, v := range []string{"default", "acme", "0tenant", "a-b_c"} {
		if err := Namespace("ns", v); err != nil {
			t.Errorf("Namespace(%q) = %v, want nil", v, err)
		}
	}
	for _, v := range []string{"", "Acme", "-x", "has space"} {
		if err := Namespace("ns", v); err == nil {
			t.Errorf("Namespace(%q) = nil, want error", v)
		}
	}
}

func TestIdentifiersReportsIndex(t *testing.T) {
	err := Identifiers("permissions", []string{"read", "Bad", "write"})
	if err == nil {
		t.Fatal("expected error")
	}
	var ve *Error
	if !errors.As(err, &ve) {
		t.Fatalf("expected *validate.Error, got %T", err)
	}
	if ve.Index != 1 {
		t.Errorf("Index = %d, want 1", ve.Index)
	}
	if !strings.Contains(ve.Error(), "permissions[1]") {
		t.Errorf("message %q should name the offending index", ve.Error())
	}
}

func TestFreeformIDsReportsIndex(t *testing.T) {
	err := FreeformIDs("resource_ids", []string{"ok", "also-ok", ""})
	if err == nil {
		t.Fatal("expected error")
	}
	var ve *Error
	if !errors.As(err, &ve) {
		t.Fatalf("expected *validate.Error, got %T", err)
	}
	if ve.Index != 2 {
		t.Errorf("Index = %d, want 2", ve.Index)
	}
}

func TestInterval(t *testing.T) {
	if err := Interval("ttl", time.Second); err != nil {
		t.Errorf("Interval(1s) = %v, want nil", err)
	}
	for _, d := range []time.Duration{0, -time.Minute} {
		err := Interval("ttl", d)
		if err == nil {
			t.Errorf("Interval(%s) = nil, want error", d)
			continue
		}
		if got := kindOf(t, err); got != KindNonPositive {
			t.Errorf("Interval(%s) kind = %v, want KindNonPositive", d, got)
		}
	}
}
