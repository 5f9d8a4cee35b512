// Package gate decides where a request may go based on whether a session is present.
//
// Two evaluators share one Table: Edge runs as HTTP middleware before any handler and can
// refresh an expired access token; Client runs against an Auth Context state on page render
// and on every live channel update.
package gate

import "strings"

// Table is the routing decision table.
//
//	session | path            | outcome
//	yes     | Entry           | redirect to Home
//	no      | under Protected | redirect to Entry
//	yes     | under Protected | pass
//	no      | Entry           | pass
type Table struct {
	Entry     string
	Home      string
	Protected string
}

// DefaultTable returns the HealthyDB routes: "/" entry, "/dashboard" protected tree.
func DefaultTable() Table {
	return Table{Entry: "/", Home: "/dashboard", Protected: "/dashboard"}
}

// Matches reports whether path is evaluated by the gates at all.
func (t Table) Matches(path string) bool {
	return path == t.Entry || t.IsProtected(path)
}

// IsProtected reports whether path is the protected root or below it.
func (t Table) IsProtected(path string) bool {
	return path == t.Protected || strings.HasPrefix(path, t.Protected+"/")
}

// Decide applies the table. It returns the redirect location, or "" to pass.
// Unmatched paths always pass.
func (t Table) Decide(path string, hasSession bool) string {
	switch {
	case path == t.Entry && hasSession:
		return t.Home
	case t.IsProtected(path) && !hasSession:
		return t.Entry
	default:
		return ""
	}
}
