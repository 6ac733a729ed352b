package server

import (
	"reflect"
	"testing"
)

func TestCORSConfig(t *testing.T) {
	cases := []struct {
		origin  string
		all     bool
		origins []string
	}{
		{"", true, nil},
		{"*", true, nil},
		{"https://a.example.com", false, []string{"https://a.example.com"}},
		{" https://a.example.com , https://b.example.com,", false, []string{"https://a.example.com", "https://b.example.com"}},
	}
	for _, tc := range cases {
		cfg := corsConfig(tc.origin)
		if cfg.AllowAllOrigins != tc.all {
			t.Fatalf("%q: AllowAllOrigins=%v", tc.origin, cfg.AllowAllOrigins)
		}
		if !reflect.DeepEqual(cfg.AllowOrigins, tc.origins) {
			t.Fatalf("%q: origens %v", tc.origin, cfg.AllowOrigins)
		}
	}
}
