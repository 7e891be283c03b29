package sqlref

import "regexp"

// Procedure-invocation idioms, scanned in fixed priority order. The first
// pattern that matches wins.
var callPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bCALL\s+(?:(\w+)\.)?(\w+)\s*\(`),
	regexp.MustCompile(`(?i)\bEXECUTE\s+(?:(\w+)\.)?(\w+)`),
	regexp.MustCompile(`(?i)\bBEGIN\s+(?:(\w+)\.)?(\w+)\s*\(`),
	regexp.MustCompile(`(?i)\{\s*call\s+(?:(\w+)\.)?(\w+)\s*\(`),
}

// DetectCall reports whether the text invokes a stored procedure, returning
// the schema (may be empty) and procedure name. Recognized idioms:
// CALL x.y(...), EXECUTE x.y, BEGIN x.y(...); END;, and ODBC {call x.y(...)}.
func DetectCall(text string) (schema, name string, ok bool) {
	for _, p := range callPatterns {
		if m := p.FindStringSubmatch(text); m != nil {
			return m[1], m[2], true
		}
	}
	return "", "", false
}
