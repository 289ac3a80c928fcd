// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package threads

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoThreadID is returned when an operation needs a thread id and got none.
	ErrNoThreadID = errors.New("thread id is required")

	// ErrPlaceholderID is returned for ids the backend never assigned.
	ErrPlaceholderID = errors.New("thread has not been created yet")

	// ErrEmptyTitle is returned by Rename for a blank title.
	ErrEmptyTitle = errors.New("title must not be empty")

	// ErrMissingID is returned when a create response carries no id.
	ErrMissingID = errors.New("backend returned no thread id")
)

// APIError is a non-2xx response from the thread endpoints.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("thread api: status %d", e.Status)
	}
	return fmt.Sprintf("thread api: status %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}
