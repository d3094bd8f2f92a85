package mdkerr

import (
	"errors"
	"testing"
)

func TestErrorIs(t *testing.T) {
	a := GroupNotFound()
	b := GroupNotFound()
	if !errors.Is(a, b) {
		t.Error("two GroupNotFound errors should match under errors.Is")
	}

	c := MessageFromNonMember()
	if errors.Is(a, c) {
		t.Error("errors of different kinds should not match")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	wrapped := Wrap(KindDecryptionFailed, "gcm open", cause)
	if !errors.Is(wrapped, cause) {
		t.Error("Wrap should preserve the underlying cause for errors.Is")
	}
}

func TestErrorMessages(t *testing.T) {
	cases := []struct {
		name string
		err  *Error
		want string
	}{
		{"unexpected-event", UnexpectedEvent("443", "444"), "unexpected event: expected kind 443, received 444"},
		{"group-not-found", GroupNotFound(), "group not found"},
		{"no-exporter-secret", NoExporterSecretForEpoch(7), "no exporter secret for epoch 7"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.err.Error(); got != tc.want {
				t.Errorf("Error() = %q, want %q", got, tc.want)
			}
		})
	}
}
