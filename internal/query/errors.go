package query

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransport is matched by every *TransportError
	ErrTransport = errors.New("query transport failed")
	// ErrMalformedResponse is returned when the response body is not a GraphQL response
	ErrMalformedResponse = errors.New("malformed query response")
	// ErrGraphQL is matched by every *GraphQLError
	ErrGraphQL = errors.New("graphql query failed")
	// ErrCanceled is returned when the caller's context ends before the response arrives
	ErrCanceled = errors.New("query canceled")
)

// TransportError is a network failure or a non-2xx answer from the endpoint
type TransportError struct {
	// StatusCode is zero when no response was received
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", ErrTransport, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", ErrTransport, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// GraphQLErrorLocation is a position in the query document
type GraphQLErrorLocation struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// GraphQLErrorItem is one entry of the response "errors" array
type GraphQLErrorItem struct {
	Message    string                 `json:"message"`
	Path       []interface{}          `json:"path,omitempty"`
	Locations  []GraphQLErrorLocation `json:"locations,omitempty"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// GraphQLError is returned when the response carries a non-empty "errors" array
type GraphQLError struct {
	Errors []GraphQLErrorItem
}

func (e *GraphQLError) Error() string {
	messages := make([]string, 0, len(e.Errors))
	for _, item := range e.Errors {
		messages = append(messages, item.Message)
	}
	return fmt.Sprintf("%s: %s", ErrGraphQL, strings.Join(messages, "; "))
}

func (e *GraphQLError) Is(target error) bool {
	return target == ErrGraphQL
}
