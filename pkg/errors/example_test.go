// Package errors provides examples of structured error handling in podsync.
package errors_test

import (
	"fmt"
	"io"

	"github.com/ajitpratap0/podsync/pkg/errors"
)

// Example demonstrates basic error creation and details.
func Example() {
	err := errors.New(errors.ErrorTypeConfig, "app id must be set").
		WithDetail("setting", "app_id")

	fmt.Println(err.Error())

	// Output:
	// config: app id must be set
}

// ExampleWrap shows how transport failures keep the request payload.
func ExampleWrap() {
	err := errors.Wrap(io.ErrUnexpectedEOF, errors.ErrorTypeConnection, "create item").
		WithDetail(errors.DetailPayload, `{"fields":{}}`)

	if errors.IsType(err, errors.ErrorTypeConnection) {
		fmt.Println("connection error")
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		fmt.Println("cause preserved")
	}
	payload, _ := errors.GetDetail(err, errors.DetailPayload)
	fmt.Println(payload)

	// Output:
	// connection error
	// cause preserved
	// {"fields":{}}
}

// ExampleValidation demonstrates column-scoped validation errors.
func ExampleValidation() {
	err := errors.Validation("status|text", "cannot lookup id for text value '%s'", "Archived")
	column, _ := err.Detail(errors.DetailColumn)

	fmt.Println(err)
	fmt.Println(column)

	// Output:
	// validation: cannot lookup id for text value 'Archived'
	// status|text
}

// ExampleIsRetryable shows which error types are retryable.
func ExampleIsRetryable() {
	fmt.Println(errors.IsRetryable(errors.New(errors.ErrorTypeConnection, "reset by peer")))
	fmt.Println(errors.IsRetryable(errors.New(errors.ErrorTypeValidation, "bad column")))

	// Output:
	// true
	// false
}
