package generichttp_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/google/go-cmp/cmp"

	"github.com/labdisplay/gammacal/generichttp"
)

func TestSubMuxSanitize(t *testing.T) {
	for _, in := range []string{"bench/meter", "/bench/meter/", "/bench/meter/*", " bench/meter/* "} {
		if got := generichttp.SubMuxSanitize(in); got != "/bench/meter" {
			t.Errorf("SubMuxSanitize(%q) = %q", in, got)
		}
	}
}

func TestBindAndEndpoints(t *testing.T) {
	brightness := 0
	rt := generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/brightness"}:  generichttp.GetInt(func() (int, error) { return brightness, nil }),
		{Method: http.MethodPost, Path: "/brightness"}: generichttp.SetInt(func(i int) error { brightness = i; return nil }),
	}
	want := []string{"GET /brightness", "POST /brightness"}
	if diff := cmp.Diff(want, rt.Endpoints()); diff != "" {
		t.Errorf("endpoints mismatch (-want +got):\n%s", diff)
	}

	r := chi.NewRouter()
	rt.Bind(r)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/brightness", strings.NewReader(`{"int":200}`)))
	if w.Code != http.StatusOK || brightness != 200 {
		t.Fatalf("POST failed: %d, brightness=%d", w.Code, brightness)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/brightness", nil))
	if got := strings.TrimSpace(w.Body.String()); got != `{"int":200}` {
		t.Errorf("expected {\"int\":200}, got %s", got)
	}
}

func TestSetFloatRejectsBadBody(t *testing.T) {
	h := generichttp.SetFloat(func(float64) error { return nil })
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("not json")))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}
