package protocol

import "testing"

func TestLookupCommand(t *testing.T) {
	tests := []struct {
		name    string
		want    CmdType
		wantOK  bool
	}{
		{"set", CmdSet, true},
		{"get", CmdGet, true},
		{"gets", CmdGets, true},
		{"cas", CmdCas, true},
		{"bogus", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := LookupCommand(tt.name)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("LookupCommand(%q) = (%v, %v), want (%v, %v)", tt.name, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestIsStorageCommand(t *testing.T) {
	for _, c := range []CmdType{CmdSet, CmdAdd, CmdReplace, CmdAppend, CmdPrepend, CmdCas} {
		if !IsStorageCommand(c) {
			t.Errorf("IsStorageCommand(%v) = false, want true", c)
		}
	}
	for _, c := range []CmdType{CmdGet, CmdIncr, CmdDelete, CmdTouch, CmdStats} {
		if IsStorageCommand(c) {
			t.Errorf("IsStorageCommand(%v) = true, want false", c)
		}
	}
}
