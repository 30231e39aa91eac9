package model

import (
	"errors"
	"testing"
)

func TestAssetKey_String(t *testing.T) {
	k := AssetKey{Collection: "0xabc", TokenID: 42}
	if got := k.String(); got != "0xabc/42" {
		t.Errorf("String() = %q, want %q", got, "0xabc/42")
	}
}

func TestParseAssetKey(t *testing.T) {
	tests := []struct {
		in      string
		want    AssetKey
		wantErr bool
	}{
		{in: "0xabc/0", want: AssetKey{Collection: "0xabc", TokenID: 0}},
		{in: "pugs/18446744073709551615", want: AssetKey{Collection: "pugs", TokenID: 18446744073709551615}},
		{in: "org/repo/7", want: AssetKey{Collection: "org/repo", TokenID: 7}},
		{in: "", wantErr: true},
		{in: "/7", wantErr: true},
		{in: "pugs/", wantErr: true},
		{in: "pugs", wantErr: true},
		{in: "pugs/-1", wantErr: true},
		{in: "pugs/abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAssetKey(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAssetKey) {
					t.Errorf("ParseAssetKey(%q) error = %v, want ErrInvalidAssetKey", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAssetKey(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseAssetKey(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
			if got.String() != tt.in {
				t.Errorf("round trip = %q, want %q", got.String(), tt.in)
			}
		})
	}
}

func TestAssetKey_Less(t *testing.T) {
	a := AssetKey{Collection: "a", TokenID: 9}
	b := AssetKey{Collection: "b", TokenID: 1}
	c := AssetKey{Collection: "b", TokenID: 2}

	if !a.Less(b) {
		t.Error("a should sort before b")
	}
	if !b.Less(c) {
		t.Error("b/1 should sort before b/2")
	}
	if c.Less(b) {
		t.Error("b/2 should not sort before b/1")
	}
	if a.Less(a) {
		t.Error("key should not sort before itself")
	}
}

func TestEventKind_Valid(t *testing.T) {
	for _, k := range []EventKind{EventItemListed, EventItemRemoved, EventItemBought, EventProceedsWithdrawn} {
		if !k.Valid() {
			t.Errorf("%q.Valid() = false, want true", k)
		}
	}
	if EventKind("item_burned").Valid() {
		t.Error("unknown kind should not be valid")
	}
}
