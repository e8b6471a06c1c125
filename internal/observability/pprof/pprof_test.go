package pprof

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNormalizePrefix(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"":            DefaultPrefix,
		"dbg":         "/dbg/",
		"/dbg":        "/dbg/",
		" /x/pprof/ ": "/x/pprof/",
	}
	for in, want := range tests {
		if got := NormalizePrefix(in); got != want {
			t.Fatalf("NormalizePrefix(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:6060", true},
		{"localhost:9464", true},
		{"[::1]:9464", true},
		{":9464", false},
		{"0.0.0.0:9464", false},
		{"10.0.0.1:9464", false},
		{"garbage", false},
	}
	for _, tt := range tests {
		if got := IsLoopbackAddr(tt.addr); got != tt.want {
			t.Fatalf("IsLoopbackAddr(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestMountRequiresToken(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	prefix := Mount(mux, Options{Prefix: "/dbg", Token: "s3cret"})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tests := []struct {
		name   string
		url    string
		header string
		want   int
	}{
		{name: "no token", url: srv.URL + prefix, want: http.StatusUnauthorized},
		{name: "wrong query token", url: srv.URL + prefix + "?token=nope", want: http.StatusUnauthorized},
		{name: "query token", url: srv.URL + prefix + "?token=s3cret", want: http.StatusOK},
		{name: "bearer", url: srv.URL + prefix, header: "Bearer s3cret", want: http.StatusOK},
		{name: "cmdline", url: srv.URL + "/dbg/cmdline?token=s3cret", want: http.StatusOK},
	}
	for _, tt := range tests {
		req, err := http.NewRequest(http.MethodGet, tt.url, nil)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Fatalf("%s: status %d, want %d", tt.name, resp.StatusCode, tt.want)
		}
	}
}
