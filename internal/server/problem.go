package server

import (
	"encoding/json"
	"net/http"
)

const problemBase = "https://reload.dev/problems/"

// Problem types for RFC 7807 Problem Details responses.
const (
	ProblemTypeNotFound   = problemBase + "not-found"
	ProblemTypeBadRequest = problemBase + "bad-request"
	ProblemTypeInternal   = problemBase + "internal-error"

	// ProblemTypeNotRunning reports a request that needs a started watcher,
	// such as a rescan after shutdown began.
	ProblemTypeNotRunning = problemBase + "watcher-not-running"
)

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// WriteProblem writes an RFC 7807 Problem Details JSON response.
func WriteProblem(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// writeStatus writes a problem titled with the standard text for status.
func writeStatus(w http.ResponseWriter, status int, typ, detail, instance string) {
	WriteProblem(w, Problem{
		Type:     typ,
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// NotFound writes a 404 problem response.
func NotFound(w http.ResponseWriter, detail, instance string) {
	writeStatus(w, http.StatusNotFound, ProblemTypeNotFound, detail, instance)
}

// BadRequest writes a 400 problem response.
func BadRequest(w http.ResponseWriter, detail, instance string) {
	writeStatus(w, http.StatusBadRequest, ProblemTypeBadRequest, detail, instance)
}

// InternalError writes a 500 problem response.
func InternalError(w http.ResponseWriter, detail, instance string) {
	writeStatus(w, http.StatusInternalServerError, ProblemTypeInternal, detail, instance)
}

// NotRunning writes a 409 problem response for an operation on a watcher
// that has not started or has already stopped.
func NotRunning(w http.ResponseWriter, detail, instance string) {
	WriteProblem(w, Problem{
		Type:     ProblemTypeNotRunning,
		Title:    "Watcher Not Running",
		Status:   http.StatusConflict,
		Detail:   detail,
		Instance: instance,
	})
}
