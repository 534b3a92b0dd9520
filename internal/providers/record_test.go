package providers

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestFromAny(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	oid := primitive.NewObjectID()

	tests := []struct {
		name string
		in   any
		want Value
	}{
		{"nil", nil, Null()},
		{"string", "hello", String("hello")},
		{"float", 4.5, Number(4.5)},
		{"int", 7, Number(7)},
		{"int64", int64(9), Number(9)},
		{"bool", true, Boolean(true)},
		{"time", now, Timestamp(now)},
		{"objectid", oid, String(oid.Hex())},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromAny(tt.in)
			if !got.Equal(tt.want) {
				t.Errorf("FromAny(%v) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestValueText(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		v    Value
		want string
	}{
		{"string", String("a"), "a"},
		{"number", Number(42), "42"},
		{"fraction", Number(1.5), "1.5"},
		{"bool", Boolean(false), "false"},
		{"time", Timestamp(ts), "2025-06-01T12:30:00Z"},
		{"null", Null(), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.v.Text(); got != tt.want {
				t.Errorf("Text() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCrmRecordCanonicalSortsKeys(t *testing.T) {
	a := NewCrmRecord()
	a.Set("zeta", String("z"))
	a.Set("alpha", String("a"))

	b := NewCrmRecord()
	b.Set("alpha", String("a"))
	b.Set("zeta", String("z"))

	if a.Canonical() != b.Canonical() {
		t.Errorf("canonical form depends on insertion order: %q vs %q", a.Canonical(), b.Canonical())
	}
	want := "alpha=a\nzeta=z"
	if a.Canonical() != want {
		t.Errorf("Canonical() = %q, want %q", a.Canonical(), want)
	}
}

func TestCrmRecordKeepsInsertionOrder(t *testing.T) {
	rec := NewCrmRecord()
	rec.Set("b", String("1"))
	rec.Set("a", String("2"))
	rec.Set("b", String("3")) // overwrite keeps position

	keys := rec.Keys()
	if len(keys) != 2 || keys[0] != "b" || keys[1] != "a" {
		t.Errorf("Keys() = %v, want [b a]", keys)
	}
	if v, _ := rec.Get("b"); v.Str != "3" {
		t.Errorf("overwritten value = %q, want 3", v.Str)
	}
}
