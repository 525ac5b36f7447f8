package circulation

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIsMatchesKindAndCode(t *testing.T) {
	err := fmt.Errorf("checkout: %w", policyViolation(CodeOverdueBlock, nil, "blocked"))

	if !errors.Is(err, ErrPolicyViolation) {
		t.Error("expected wrapped error to match ErrPolicyViolation")
	}
	if errors.Is(err, ErrConflict) {
		t.Error("expected policy violation not to match ErrConflict")
	}
	if !errors.Is(err, &Error{Kind: KindPolicyViolation, Code: CodeOverdueBlock}) {
		t.Error("expected match on kind and code")
	}
	if errors.Is(err, &Error{Kind: KindPolicyViolation, Code: CodeMaxLoansExceeded}) {
		t.Error("expected mismatch on a different code")
	}
	if KindOf(err) != KindPolicyViolation {
		t.Errorf("KindOf = %q", KindOf(err))
	}
	if KindOf(errors.New("plain")) != "" {
		t.Error("expected empty kind for a plain error")
	}
}

func TestClassifyLeavesTypedErrors(t *testing.T) {
	typed := notFound("x")
	if got := classify(typed); got != typed {
		t.Errorf("expected typed error to pass through, got %v", got)
	}
	if classify(nil) != nil {
		t.Error("expected nil to stay nil")
	}
	plain := errors.New("disk full")
	if got := classify(plain); got != plain {
		t.Errorf("expected plain error to pass through, got %v", got)
	}
}
