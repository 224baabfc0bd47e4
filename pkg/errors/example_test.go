// Package errors provides examples of structured error handling in dataprep.
package errors_test

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ajitpratap0/dataprep/pkg/errors"
)

// Example demonstrates basic error creation and wrapping.
func Example() {
	// Create a new error with type
	err := errors.New(errors.ErrorTypeConfig, "snapshot name is required")

	// Add context details
	err = err.WithDetail("field", "ssName")

	fmt.Println(err.Error())

	// Output:
	// config: snapshot name is required
}

// ExampleWrap shows how to wrap existing errors with context.
func ExampleWrap() {
	// Simulate an underlying error
	originalErr := io.ErrUnexpectedEOF

	// Wrap the error with context
	err := errors.Wrap(originalErr, errors.ErrorTypeSource, "failed to read CSV file").
		WithDetail("file", "crime.csv").
		WithDetail("line", 42)

	if errors.IsType(err, errors.ErrorTypeSource) {
		fmt.Println("This is a source error")
	}

	fmt.Println(err)

	// Output:
	// This is a source error
	// source: failed to read CSV file: unexpected EOF
}

// ExampleNewParseError shows the structured fields carried by a parse error.
func ExampleNewParseError() {
	err := errors.NewParseError(2, "header", "missing required clause rownum")

	fmt.Println(err)
	fmt.Println(err.Type.Kind())
	index, _ := err.Detail("rule_index")
	fmt.Println(index)

	// Output:
	// parse: rule 2 (header): missing required clause rownum
	// ParseError
	// 2
}

// ExampleTypeOf demonstrates classifying arbitrary errors.
func ExampleTypeOf() {
	fmt.Println(errors.TypeOf(errors.NewTimeoutError(time.Second, nil)).Kind())
	fmt.Println(errors.TypeOf(fmt.Errorf("stage: %w", context.DeadlineExceeded)).Kind())
	fmt.Println(errors.TypeOf(context.Canceled).Kind())
	fmt.Println(errors.TypeOf(io.EOF).Kind())

	// Output:
	// TimeoutError
	// TimeoutError
	// CancelledError
	// InternalError
}

// ExampleIsRetryable shows how to check if an error is retryable.
func ExampleIsRetryable() {
	deliveryErr := errors.NewCallbackDeliveryError(1, io.EOF)
	parseErr := errors.NewParseError(0, "keep", "missing required clause row")

	if errors.IsRetryable(deliveryErr) {
		fmt.Println("Delivery error is retryable")
	}

	if !errors.IsRetryable(parseErr) {
		fmt.Println("Parse error is not retryable")
	}

	// Output:
	// Delivery error is retryable
	// Parse error is not retryable
}

// ExampleIsType demonstrates checking error types.
func ExampleIsType() {
	planErr := errors.NewPlanError("ds-1", fmt.Errorf("column %q not found", "Location"))
	wrappedErr := errors.Wrap(planErr, errors.ErrorTypeInternal, "stage failed")

	fmt.Printf("Is plan error: %v\n", errors.IsType(planErr, errors.ErrorTypePlan))
	fmt.Printf("Wrapped error is internal type: %v\n", errors.IsType(wrappedErr, errors.ErrorTypeInternal))
	fmt.Printf("Wrapped error reports plan type: %v\n", errors.IsType(wrappedErr, errors.ErrorTypePlan))

	// Output:
	// Is plan error: true
	// Wrapped error is internal type: true
	// Wrapped error reports plan type: false
}
