package utils_test

import (
	"testing"

	"bitbucket.org/mmdatafocus/catalog_backend/utils"
)

func TestUniqueSlice(t *testing.T) {
	got := utils.UniqueSlice([]string{"a", "b", "a", "c", "b"})
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestDereferencePtr(t *testing.T) {
	v := 42
	if got := utils.DereferencePtr(&v); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	if got := utils.DereferencePtr[int](nil); got != 0 {
		t.Fatalf("expected zero value, got %d", got)
	}
	if got := utils.DereferencePtr[int](nil, 7); got != 7 {
		t.Fatalf("expected default 7, got %d", got)
	}
}

func TestNilIfEmpty(t *testing.T) {
	if got := utils.NilIfEmpty(""); got != nil {
		t.Fatalf("expected nil for empty string, got %v", got)
	}
	if got := utils.NilIfEmpty("x"); got == nil || *got != "x" {
		t.Fatalf("expected pointer to x, got %v", got)
	}
	if got := utils.NilIfEmpty(0); got != nil {
		t.Fatalf("expected nil for zero int, got %v", got)
	}
}

func TestParseDecimal(t *testing.T) {
	d, err := utils.ParseDecimal(" 12.5 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.String() != "12.5" {
		t.Fatalf("expected 12.5, got %s", d.String())
	}

	if _, err := utils.ParseDecimal(""); err == nil {
		t.Fatal("expected error for empty input")
	}
	if _, err := utils.ParseDecimal("abc"); err == nil {
		t.Fatal("expected error for non-numeric input")
	}
}
