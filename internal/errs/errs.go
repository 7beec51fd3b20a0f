package errs

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error carries an HTTP status alongside the user-facing detail message.
// Every failure surfaced by a route handler goes through this type exactly
// once; handlers never retry.
type Error struct {
	Status int
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Detail, e.Err)
	}
	return e.Detail
}

func (e *Error) Unwrap() error { return e.Err }

// InvalidParam reports a query-parameter validation failure. Raised during
// dependency construction, before any raster I/O.
func InvalidParam(format string, args ...any) *Error {
	return &Error{Status: http.StatusUnprocessableEntity, Detail: fmt.Sprintf(format, args...)}
}

// BadRequest reports a malformed structured value (colormap JSON, GeoJSON body).
func BadRequest(format string, args ...any) *Error {
	return &Error{Status: http.StatusBadRequest, Detail: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Status: http.StatusNotFound, Detail: fmt.Sprintf(format, args...)}
}

func Unauthorized(format string, args ...any) *Error {
	return &Error{Status: http.StatusUnauthorized, Detail: fmt.Sprintf(format, args...)}
}

func Internal(err error, format string, args ...any) *Error {
	return &Error{Status: http.StatusInternalServerError, Detail: fmt.Sprintf(format, args...), Err: err}
}

// TileOutsideBounds reports a tile request whose extent does not intersect
// the dataset footprint.
func TileOutsideBounds(z, x, y int) *Error {
	return &Error{Status: http.StatusNotFound, Detail: fmt.Sprintf("tile %d/%d/%d is outside dataset bounds", z, x, y)}
}

func PointOutsideBounds(lon, lat float64) *Error {
	return &Error{Status: http.StatusBadRequest, Detail: fmt.Sprintf("point (%g, %g) is outside dataset bounds", lon, lat)}
}

// MosaicNotFound keeps the historical 424 status for a missing mosaic
// manifest instead of a plain 404. Documented quirk, see DESIGN.md.
func MosaicNotFound(ref string) *Error {
	return &Error{Status: http.StatusFailedDependency, Detail: fmt.Sprintf("mosaic %q not found", ref)}
}

// OpenFailed classifies a reader-open failure: unreachable or missing
// datasets map to 404, denied remote access maps to 401, anything else
// stays a 500 from the wrapped library.
func OpenFailed(ref string, err error) *Error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "access denied"), strings.Contains(msg, "403"):
		return &Error{Status: http.StatusUnauthorized, Detail: fmt.Sprintf("not authorized to read %q", ref), Err: err}
	case strings.Contains(msg, "no such file"), strings.Contains(msg, "not exist"),
		strings.Contains(msg, "404"), strings.Contains(msg, "not recognized as"):
		return &Error{Status: http.StatusNotFound, Detail: fmt.Sprintf("dataset %q not found", ref), Err: err}
	default:
		return &Error{Status: http.StatusInternalServerError, Detail: fmt.Sprintf("error reading dataset %q", ref), Err: err}
	}
}

// StatusOf resolves the HTTP status for any error, defaulting to 500.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return http.StatusInternalServerError
}

// DetailOf resolves the user-facing message for any error.
func DetailOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Detail
	}
	return err.Error()
}

// Write sends the error as a JSON body {"detail": "..."} with the mapped status.
func Write(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusOf(err))
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": DetailOf(err)})
}
