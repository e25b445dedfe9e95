package protocol

import (
	"reflect"
	"testing"
)

func TestSplitTokens(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a", []string{"a"}},
		{"a b c", []string{"a", "b", "c"}},
		{"a  b", []string{"a", "b"}},
	}
	for _, tt := range tests {
		if got := SplitTokens(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SplitTokens(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestStripNoReply(t *testing.T) {
	rem, nr := StripNoReply([]string{"key", "0", "0", "1", "noreply"})
	if !nr || !reflect.DeepEqual(rem, []string{"key", "0", "0", "1"}) {
		t.Errorf("StripNoReply with noreply = (%v, %v)", rem, nr)
	}

	rem, nr = StripNoReply([]string{"key", "0", "0", "1"})
	if nr || !reflect.DeepEqual(rem, []string{"key", "0", "0", "1"}) {
		t.Errorf("StripNoReply without noreply = (%v, %v)", rem, nr)
	}
}
