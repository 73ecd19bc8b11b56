package client

import (
	"errors"
	"fmt"
)

var ErrNilRequest = errors.New("client: nil request")

// TranslationError reports a request that could not be turned into a native
// HTTP request. It is never cached.
type TranslationError struct {
	URL string
	Err error
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("URL '%s' couldn't be parsed into a request: %v", e.URL, e.Err)
}

func (e *TranslationError) Unwrap() error {
	return e.Err
}
