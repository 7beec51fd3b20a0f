package errs

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenFailed_ClassifiesByMessage(t *testing.T) {
	cases := []struct {
		msg  string
		want int
	}{
		{"HTTP response code: 404", http.StatusNotFound},
		{"/tmp/missing.tif: No such file or directory", http.StatusNotFound},
		{"not recognized as a supported file format", http.StatusNotFound},
		{"HTTP response code: 403", http.StatusUnauthorized},
		{"Access Denied", http.StatusUnauthorized},
		{"I/O error on block read", http.StatusInternalServerError},
	}
	for _, c := range cases {
		e := OpenFailed("ref.tif", errors.New(c.msg))
		if e.Status != c.want {
			t.Fatalf("OpenFailed(%q) status=%d want %d", c.msg, e.Status, c.want)
		}
	}
}

func TestStatusOf_UnwrapsNestedError(t *testing.T) {
	inner := InvalidParam("bad bidx")
	wrapped := errors.Join(errors.New("context"), inner)
	if got := StatusOf(wrapped); got != http.StatusUnprocessableEntity {
		t.Fatalf("StatusOf wrapped=%d want 422", got)
	}
	if got := StatusOf(errors.New("plain")); got != http.StatusInternalServerError {
		t.Fatalf("StatusOf plain=%d want 500", got)
	}
}

func TestWrite_DetailBody(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, MosaicNotFound("mosaic.json"))
	if rec.Code != http.StatusFailedDependency {
		t.Fatalf("status=%d want 424", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["detail"] != `mosaic "mosaic.json" not found` {
		t.Fatalf("detail=%q", body["detail"])
	}
}

func TestTileOutsideBounds_Is404(t *testing.T) {
	e := TileOutsideBounds(3, 1, 2)
	if e.Status != http.StatusNotFound {
		t.Fatalf("status=%d want 404", e.Status)
	}
	if e.Detail != "tile 3/1/2 is outside dataset bounds" {
		t.Fatalf("detail=%q", e.Detail)
	}
}
