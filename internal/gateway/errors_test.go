package gateway

import (
	"context"
	"errors"
	"testing"

	ccxt "github.com/ccxt/ccxt/go/v4"
)

func TestClassifyError_ContextErrorsPassThrough(t *testing.T) {
	if got := classifyError(context.Canceled); !errors.Is(got, context.Canceled) {
		t.Errorf("expected context.Canceled to pass through, got %v", got)
	}
	if got := classifyError(context.DeadlineExceeded); IsTransient(got) || IsRejected(got) {
		t.Errorf("expected deadline error to stay unclassified, got %v", got)
	}
}

func TestClassifyError_CcxtTypes(t *testing.T) {
	cases := []struct {
		errType   ccxt.ErrorType
		transient bool
		notFound  bool
	}{
		{ccxt.NetworkErrorErrType, true, false},
		{ccxt.RequestTimeoutErrType, true, false},
		{ccxt.RateLimitExceededErrType, true, false},
		{ccxt.DDoSProtectionErrType, true, false},
		{ccxt.OrderNotFoundErrType, false, true},
		{ccxt.InsufficientFundsErrType, false, false},
		{ccxt.InvalidOrderErrType, false, false},
	}

	for _, tc := range cases {
		got := classifyError(&ccxt.Error{Type: tc.errType, Message: "x"})
		if IsTransient(got) != tc.transient {
			t.Errorf("%v: transient classification mismatch, got %v", tc.errType, got)
		}
		if errors.Is(got, ErrOrderNotFound) != tc.notFound {
			t.Errorf("%v: order-not-found classification mismatch, got %v", tc.errType, got)
		}
		if !tc.transient && !tc.notFound && !IsRejected(got) {
			t.Errorf("%v: expected rejected fallback, got %v", tc.errType, got)
		}
	}
}

func TestClassifyError_UnknownDefaultsToRejected(t *testing.T) {
	got := classifyError(errors.New("boom"))
	if !IsRejected(got) {
		t.Errorf("expected unknown error to classify as rejected, got %v", got)
	}
}
