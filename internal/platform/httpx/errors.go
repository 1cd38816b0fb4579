package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors for the transport layer.
var (
	ErrNotFound    = errors.New("resource not found")
	ErrConflict    = errors.New("conflict")
	ErrValidation  = errors.New("validation failed")
	ErrUnavailable = errors.New("service unavailable")
)

// Mapping renders errors matching Err as a problem with Status and Title.
type Mapping struct {
	Err    error
	Status int
	Title  string
}

var defaultMappings = []Mapping{
	{Err: ErrNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Err: ErrConflict, Status: http.StatusConflict, Title: "Conflict"},
	{Err: ErrValidation, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Err: ErrUnavailable, Status: http.StatusServiceUnavailable, Title: "Service Unavailable"},
}

// RespondError maps err to an RFC7807 response. Domain mappings are checked
// before the transport sentinels; anything unmatched is a 500 without detail.
func RespondError(w http.ResponseWriter, err error, mappings ...Mapping) {
	for _, group := range [][]Mapping{mappings, defaultMappings} {
		for _, m := range group {
			if errors.Is(err, m.Err) {
				Problem(w, m.Status, m.Title, err.Error())
				return
			}
		}
	}
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
