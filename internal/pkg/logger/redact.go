package logger

import "strings"

// RedactEmail masks the local part of an address, keeping the domain so
// deliverability problems stay traceable to a sending or receiving
// domain: "reader@acme.test" becomes "re***@acme.test". Local parts of
// two characters or fewer are masked entirely, and anything that is not
// a single user@domain form collapses to "***@***".
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	local := parts[0]
	if len(local) > 2 {
		return local[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}
