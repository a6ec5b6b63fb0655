package fetch

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnrecoverable – upstream odpowiedział statusem, którego nie ma sensu ponawiać
// (401/403/404). Sync danego źródła/konta jest porzucany.
var ErrUnrecoverable = errors.New("fetch: unrecoverable upstream status")

type StatusError struct {
	Status int
	URL    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch: %s -> http %d", e.URL, e.Status)
}

func (e *StatusError) Is(target error) bool { return target == ErrUnrecoverable }

// Auth: błąd uwierzytelnienia/autoryzacji (a nie np. 404).
func (e *StatusError) Auth() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}
