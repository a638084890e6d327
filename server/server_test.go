package server_test

import (
	"go/types"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labdisplay/gammacal/server"
)

func TestHumanPayloadEncodesSingleField(t *testing.T) {
	cases := []struct {
		hp   server.HumanPayload
		want string
	}{
		{server.HumanPayload{T: types.Float64, Float: 2.2}, `{"f64":2.2}`},
		{server.HumanPayload{T: types.Int, Int: 255}, `{"int":255}`},
		{server.HumanPayload{T: types.String, String: "OK00"}, `{"str":"OK00"}`},
		{server.HumanPayload{T: types.Bool, Bool: true}, `{"bool":true}`},
	}
	for _, c := range cases {
		w := httptest.NewRecorder()
		c.hp.EncodeAndRespond(w, httptest.NewRequest("GET", "/", nil))
		if got := strings.TrimSpace(w.Body.String()); got != c.want {
			t.Errorf("expected %s, got %s", c.want, got)
		}
	}
}

func TestReplyWithFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "summary.csv"), []byte("--- Summary ---\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	w := httptest.NewRecorder()
	server.ReplyWithFile(w, httptest.NewRequest("GET", "/report", nil), "summary.csv", dir)
	if w.Code != 200 || !strings.HasPrefix(w.Body.String(), "--- Summary") {
		t.Errorf("unexpected reply %d %q", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	server.ReplyWithFile(w, httptest.NewRequest("GET", "/report", nil), "missing.csv", dir)
	if w.Code != 404 {
		t.Errorf("expected 404 for a missing file, got %d", w.Code)
	}
}
