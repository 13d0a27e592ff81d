package value

import "testing"

func TestSplitList(t *testing.T) {
	tests := []struct {
		in      string
		want    []string
		wantErr bool
	}{
		{"", nil, false},
		{"  int   int ", []string{"int", "int"}, false},
		{"{unsigned long} double", []string{"unsigned long", "double"}, false},
		{"{a {b}} c", []string{"a {b}", "c"}, false},
		{`"x\ty"`, []string{"x\ty"}, false},
		{"{}", []string{""}, false},
		{"{abc", nil, true},
		{`"abc`, nil, true},
		{"{a}b", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := SplitList(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("SplitList: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("word %d: got %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestFormatList_RoundTrip(t *testing.T) {
	words := []string{"plain", "two words", "", "brace{", "tab\there", "$var", "end\\"}
	s := FormatList(words)
	got, err := SplitList(s)
	if err != nil {
		t.Fatalf("SplitList(%q): %v", s, err)
	}
	if len(got) != len(words) {
		t.Fatalf("got %q from %q", got, s)
	}
	for i := range words {
		if got[i] != words[i] {
			t.Errorf("word %d: got %q, want %q (list %q)", i, got[i], words[i], s)
		}
	}
}
