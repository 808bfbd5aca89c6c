package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifiedError(t *testing.T) {
	t.Run("Basic error creation", func(t *testing.T) {
		err := NotFound("document not found").
			WithContext("document", "thesis").
			Build()

		if err.Category() != CategoryNotFound {
			t.Errorf("expected category %s, got %s", CategoryNotFound, err.Category())
		}
		if err.Code() != CodeNotFound {
			t.Errorf("expected code %s, got %s", CodeNotFound, err.Code())
		}
		if err.Severity() != SeverityError {
			t.Errorf("expected severity %s, got %s", SeverityError, err.Severity())
		}

		doc, exists := err.Context().GetString("document")
		if !exists || doc != "thesis" {
			t.Errorf("expected context document=thesis, got %v", doc)
		}
	})

	t.Run("Busy is retryable by the caller", func(t *testing.T) {
		err := Busy("compile in progress").Build()
		if !err.CanRetry() {
			t.Error("expected busy error to be retryable")
		}
		if err.IsFatal() {
			t.Error("expected busy error to not be fatal")
		}
	})

	t.Run("Pass failures are not retryable", func(t *testing.T) {
		if PassFailed("x").Build().CanRetry() {
			t.Error("expected pass failure to not be retryable")
		}
		if TimedOut("x").Build().CanRetry() {
			t.Error("expected timeout to not be retryable")
		}
	})
}

func TestCodeOf_WalksWrappedChain(t *testing.T) {
	base := UnknownEngine("engine not supported").Build()
	wrapped := fmt.Errorf("resolve: %w", base)

	if got := CodeOf(wrapped); got != CodeUnknownEngine {
		t.Fatalf("expected %s, got %s", CodeUnknownEngine, got)
	}
	if !IsCode(wrapped, CodeUnknownEngine) {
		t.Fatal("expected IsCode to match through wrapping")
	}
	if IsCode(wrapped, CodeEngineUnavailable) {
		t.Fatal("unknown and unavailable engines must stay distinct")
	}
	if CodeOf(errors.New("plain")) != CodeNone {
		t.Fatal("plain errors carry no code")
	}
}

func TestIs_ComparesCodes(t *testing.T) {
	a := TimedOut("pass 1 timed out").WithContext("pass", 1).Build()
	b := TimedOut("other message").Build()
	if !errors.Is(a, b) {
		t.Error("expected errors with the same code to match")
	}
	if errors.Is(a, PassFailed("pass 1 timed out").Build()) {
		t.Error("expected different codes to not match")
	}
}

func TestErrorBuilder(t *testing.T) {
	original := errors.New("permission denied")
	err := WrapError(original, CategoryFileSystem, "write source").
		WithContext("path", "/tmp/x.tex").
		WithContextMap(ErrorContext{"mode": "0640"}).
		Build()

	if !errors.Is(err, original) {
		t.Error("expected error to wrap original error")
	}
	if got, _ := err.Context().GetString("mode"); got != "0640" {
		t.Errorf("expected merged context, got %q", got)
	}

	derived := err.WithContext("attempt", 2)
	if _, ok := err.Context().Get("attempt"); ok {
		t.Error("WithContext must not mutate the receiver")
	}
	if v, _ := derived.Context().Get("attempt"); v != 2 {
		t.Errorf("expected derived context, got %v", v)
	}
}

func TestErrorContext_Merge(t *testing.T) {
	var empty ErrorContext
	other := ErrorContext{"a": 1}
	if got := empty.Merge(other); got["a"] != 1 {
		t.Fatalf("merge into nil should return other, got %v", got)
	}
	merged := ErrorContext{"a": 1, "b": 2}.Merge(ErrorContext{"b": 3})
	if merged["b"] != 3 || merged["a"] != 1 {
		t.Fatalf("unexpected merge result %v", merged)
	}
}
