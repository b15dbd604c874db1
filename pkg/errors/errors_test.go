package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "transport failure", err: NewFetchError("org/a", 0, fmt.Errorf("connection reset")), want: true},
		{name: "rate limited", err: NewRateLimited("org/a", time.Second), want: true},
		{name: "server error", err: NewFetchError("org/a", http.StatusBadGateway, nil), want: true},
		{name: "not found", err: NewFetchError("org/a", http.StatusNotFound, nil), want: false},
		{name: "unauthorized", err: NewFetchError("org/a", http.StatusUnauthorized, nil), want: false},
		{name: "cancelled fetch", err: NewFetchError("org/a", 0, context.Canceled), want: false},
		{name: "wrapped deadline", err: fmt.Errorf("run: %w", context.DeadlineExceeded), want: false},
		{name: "invariant violation", err: NewAggregationInvariantViolation("org/a", "folded twice"), want: false},
		{name: "graph connection", err: NewGraphConnectionFailed("bolt://localhost:7687", nil), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestIsErrorType_Wrapped(t *testing.T) {
	err := fmt.Errorf("aggregate: %w", NewAggregationInvariantViolation("org/a", "bad edge"))

	assert.True(t, IsErrorType(err, ErrorTypeAggregation))
	assert.False(t, IsErrorType(err, ErrorTypeHub))

	var violation *AggregationInvariantViolation
	require.True(t, stderrors.As(err, &violation))
	assert.Equal(t, "org/a", violation.Repository)
}

func TestRetryAfter(t *testing.T) {
	err := fmt.Errorf("page 2: %w", NewRateLimited("org/a", 30*time.Second))
	assert.Equal(t, 30*time.Second, RetryAfter(err))
	assert.Zero(t, RetryAfter(stderrors.New("plain")))
}

func TestFetchError_Message(t *testing.T) {
	err := NewFetchError("org/a", http.StatusNotFound, stderrors.New("repository not found"))
	assert.Equal(t, "[hub] fetch failed for org/a (status 404): repository not found", err.Error())
}
