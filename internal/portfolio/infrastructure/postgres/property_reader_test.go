package postgres

import "testing"

func TestFlexibleBool(t *testing.T) {
	cases := []struct {
		name  string
		value any
		want  bool
	}{
		{"nil", nil, false},
		{"bool true", true, true},
		{"bool false", false, false},
		{"int one", int64(1), true},
		{"int zero", int64(0), false},
		{"float one", float64(1), true},
		{"string true", "true", true},
		{"string TRUE", "TRUE", true},
		{"string false", "false", false},
		{"string one", "1", true},
		{"string zero", "0", false},
		{"string yes-like", "t", true},
		{"bytes true", []byte("true"), true},
		{"bytes zero", []byte("0"), false},
		{"empty string", "", false},
		{"garbage", "maybe", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := flexibleBool(tc.value); got != tc.want {
				t.Fatalf("flexibleBool(%v) = %v, want %v", tc.value, got, tc.want)
			}
		})
	}
}

func TestSplitTags(t *testing.T) {
	if got := splitTags(""); got != nil {
		t.Fatalf("splitTags empty = %v", got)
	}
	got := splitTags("monthly, lakeside ,,weekly")
	want := []string{"monthly", "lakeside", "weekly"}
	if len(got) != len(want) {
		t.Fatalf("splitTags = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("splitTags[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
