package cli

import (
	"errors"
	"fmt"
	"net/http"

	"flowtabs/internal/api"
	"flowtabs/internal/model"
)

type notFoundError struct {
	kind string
	id   string
}

func (e notFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.kind, e.id)
}

func errNotFound(key model.Key) error {
	return notFoundError{kind: string(key.Kind), id: string(key.ID)}
}

type unreachableError struct {
	addr string
	err  error
}

func (e unreachableError) Error() string {
	return fmt.Sprintf("no flowtabs instance at %s (is `flowtabs serve` running?): %v", e.addr, e.err)
}

func (e unreachableError) Unwrap() error { return e.err }

// apiError maps API failures onto the CLI's error types.
func apiError(addr string, key model.Key, err error) error {
	var se *api.StatusError
	switch {
	case errors.As(err, &se) && se.Code == http.StatusNotFound && key.ID != "":
		return errNotFound(key)
	case errors.As(err, &se):
		return err
	default:
		return unreachableError{addr: addr, err: err}
	}
}
