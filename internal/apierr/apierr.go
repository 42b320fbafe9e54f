package apierr

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

type Kind int

const (
	Internal Kind = iota
	Validation
	Authentication
	Permission
	NotFound
	Conflict
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Authentication:
		return "authentication"
	case Permission:
		return "permission"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Status is the HTTP status the kind is reported with. Conflicts share 400
// with validation failures.
func (k Kind) Status() int {
	switch k {
	case Validation, Conflict:
		return http.StatusBadRequest
	case Authentication:
		return http.StatusUnauthorized
	case Permission:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

type Error struct {
	Kind    Kind
	Message string
	Fields  map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidation reports field errors. message is usually "Validation failed".
func NewValidation(message string, fields map[string]string) *Error {
	return &Error{Kind: Validation, Message: message, Fields: fields}
}

func NewAuthentication(message string) *Error {
	return &Error{Kind: Authentication, Message: message}
}

func NewPermission(message string) *Error {
	return &Error{Kind: Permission, Message: message}
}

func NewNotFound(message string) *Error {
	return &Error{Kind: NotFound, Message: message}
}

func NewConflict(message string) *Error {
	return &Error{Kind: Conflict, Message: message}
}

func NewInternal(message string, err error) *Error {
	return &Error{Kind: Internal, Message: message, Err: err}
}

// KindOf returns the kind of err, Internal for anything that is not an *Error.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return Internal
}

// UnexpectedDetail is the only detail an internal error ever exposes.
const UnexpectedDetail = "An unexpected error occurred"

// Respond writes err as the JSON error body and aborts the chain. extra is
// merged into the body for the non-internal kinds.
func Respond(c *gin.Context, err error, extra ...gin.H) {
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Kind == Internal {
		message := "Internal server error"
		if apiErr != nil && apiErr.Message != "" {
			message = apiErr.Message
		}
		log.Printf("internal error: method=%s path=%s user=%v: %v",
			c.Request.Method, c.Request.URL.Path, actingUser(c), err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":  message,
			"detail": UnexpectedDetail,
		})
		return
	}

	body := gin.H{"error": apiErr.Message}
	if len(apiErr.Fields) > 0 {
		body["fields"] = apiErr.Fields
	}
	for _, h := range extra {
		for k, v := range h {
			body[k] = v
		}
	}
	c.AbortWithStatusJSON(apiErr.Kind.Status(), body)
}

// UserIDKey is where authentication stores the acting user's id.
const UserIDKey = "userID"

func actingUser(c *gin.Context) any {
	if id, ok := c.Get(UserIDKey); ok {
		return id
	}
	return "anonymous"
}

// Recovery turns panics into the generic internal error response.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		Respond(c, fmt.Errorf("panic: %v", recovered))
	})
}
