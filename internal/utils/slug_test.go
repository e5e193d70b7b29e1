package utils

import "testing"

func TestSlugify(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Chest Xray 01.png", "chest-xray-01-png"},
		{"RVabc123XYZ", "rvabc123xyz"},
		{"  trims  whitespace  ", "trims-whitespace"},
		{"__many--separators__", "many-separators"},
		{"already-a-slug", "already-a-slug"},
		{"", ""},
		{"!!!", ""},
	}
	for _, tc := range cases {
		if got := Slugify(tc.in); got != tc.want {
			t.Fatalf("Slugify(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
