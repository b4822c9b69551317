package rpc

import (
	"errors"

	"go-user-directory/internal/domain"
)

// Status codes carried in replies; they follow HTTP semantics.
const (
	CodeOK           = 0
	CodeBadRequest   = 400
	CodeUnauthorized = 401
	CodeNotFound     = 404
	CodeConflict     = 409
	CodeServerError  = 500
)

// CodeOf maps an operation error onto a reply code. Errors outside the domain
// taxonomy are server errors.
func CodeOf(err error) int {
	if err == nil {
		return CodeOK
	}
	var de *domain.Error
	if !errors.As(err, &de) {
		return CodeServerError
	}
	switch de.Kind {
	case domain.KindUnauthorized:
		return CodeUnauthorized
	case domain.KindNotFound:
		return CodeNotFound
	case domain.KindConflict:
		return CodeConflict
	default:
		return CodeBadRequest
	}
}

// Message is the client-safe text for err. Unclassified causes are hidden.
func Message(err error) string {
	var de *domain.Error
	if errors.As(err, &de) {
		return de.Error()
	}
	return "internal error"
}
