package logger

import "testing"

func TestRedactEmail(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"reader@acme.test", "re***@acme.test"},
		{"ab@acme.test", "***@acme.test"},
		{"not-an-address", "***@***"},
		{"two@ats@acme.test", "***@***"},
	}
	for _, tt := range tests {
		if got := RedactEmail(tt.in); got != tt.want {
			t.Errorf("RedactEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRedactValueMasksRecipientFields(t *testing.T) {
	if got := redactValue("to", "reader@acme.test"); got != "re***@acme.test" {
		t.Errorf("to field = %q", got)
	}
	if got := redactValue("bcc", "reader@acme.test"); got != "re***@acme.test" {
		t.Errorf("bcc field = %q", got)
	}

	// Identifier fields pass through untouched.
	id := "123e4567-e89b-12d3-a456-426614174000"
	if got := redactValue("email_id", id); got != id {
		t.Errorf("email_id = %q, want unchanged", got)
	}

	// Provider errors that quote an address get scrubbed.
	got := redactValue("error", "550 mailbox reader@acme.test unavailable")
	if want := "550 mailbox re***@acme.test unavailable"; got != want {
		t.Errorf("error field = %q, want %q", got, want)
	}
}
