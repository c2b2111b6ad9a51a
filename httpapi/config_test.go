package httpapi

import "testing"

func TestMountPath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{"//", ""},
		{"kiosk", "/kiosk"},
		{"/kiosk/", "/kiosk"},
		{" /lobby//screen/ ", "/lobby/screen"},
	}
	for _, tc := range cases {
		if got := (Config{BasePath: tc.in}).mountPath(); got != tc.want {
			t.Fatalf("mountPath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
