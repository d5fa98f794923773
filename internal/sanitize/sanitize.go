// Package sanitize hardens user-supplied text before it is stored or
// fanned out: message bodies and profile text both pass through here.
package sanitize

import "github.com/microcosm-cc/bluemonday"

var policy = bluemonday.UGCPolicy()

// Text strips unsafe HTML from s, leaving plain text and a conservative
// set of formatting tags intact.
func Text(s string) string {
	return policy.Sanitize(s)
}
