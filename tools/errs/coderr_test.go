package errs

import "testing"

func TestClassificationSurvivesWrapping(t *testing.T) {
	err := ErrNotFound.WrapMsg("user not found", "user", "u1")
	if !IsNotFound(err) {
		t.Fatalf("wrapped not-found lost its class: %v", err)
	}
	if IsTransient(err) {
		t.Fatal("misclassified as transient")
	}

	err = WrapMsg(err, "loading sender")
	if !IsNotFound(err) {
		t.Fatalf("double wrap lost the class: %v", err)
	}
	if CodeOf(err) != CodeNotFound {
		t.Fatalf("code = %d", CodeOf(err))
	}
}

func TestWithDetailDoesNotMutateTemplate(t *testing.T) {
	_ = ErrValidationFailed.WithDetail("field x")
	if ErrValidationFailed.Detail != "" {
		t.Fatalf("shared template mutated: %q", ErrValidationFailed.Detail)
	}
}

func TestCodeOfPlainError(t *testing.T) {
	if CodeOf(Wrap(assertErr{})) != 0 {
		t.Fatal("plain error reported a taxonomy code")
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
