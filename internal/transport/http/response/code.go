package response

import "go-user-directory/internal/transport/rpc"

// Business codes carried in the envelope; they follow HTTP semantics.
const (
	CodeOK              = rpc.CodeOK
	CodeBadRequest      = rpc.CodeBadRequest
	CodeUnauthorized    = rpc.CodeUnauthorized
	CodeNotFound        = rpc.CodeNotFound
	CodeConflict        = rpc.CodeConflict
	CodeTooManyRequests = 429
	CodeServerError     = rpc.CodeServerError
	CodeUnavailable     = 503
	CodeTimeout         = 504
)

// CodeMsgMap holds the default msg for each code.
var CodeMsgMap = map[int]string{
	CodeOK:              "OK",
	CodeBadRequest:      "Bad Request",
	CodeUnauthorized:    "Unauthorized",
	CodeNotFound:        "Not Found",
	CodeConflict:        "Conflict",
	CodeTooManyRequests: "Too Many Requests",
	CodeServerError:     "Internal Server Error",
	CodeUnavailable:     "Service Unavailable",
	CodeTimeout:         "Timeout",
}
