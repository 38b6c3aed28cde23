package remote

import (
	"fmt"

	fitsync "github.com/saicgr/AIFitnessCoach-sub010"
)

// Error is an HTTP-level rejection from the remote API.
type Error struct {
	Status  int
	Method  string
	Path    string
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("fitsync/remote: %s %s: status %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("fitsync/remote: %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Message)
}

// Class sorts apply errors by whether another attempt can succeed.
type Class int

const (
	// ClassTransient errors are worth retrying: the device was offline,
	// the server was overloaded, or the request timed out.
	ClassTransient Class = iota
	// ClassPermanent errors mean the remote rejected the mutation
	// itself. Retrying sends the same bytes and fails the same way.
	ClassPermanent
)

// String returns the class name for logs.
func (c Class) String() string {
	if c == ClassPermanent {
		return "permanent"
	}
	return "transient"
}

// Classify sorts an apply error into transient or permanent. Anything
// not explicitly marked permanent counts as transient, so unknown
// failure modes burn through the retry budget and dead-letter rather
// than discarding the mutation early.
func Classify(err error) Class {
	if fitsync.IsPermanent(err) {
		return ClassPermanent
	}
	return ClassTransient
}
