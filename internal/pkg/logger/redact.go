package logger

import "strings"

// RedactEmail masks the local part of an address, keeping the first two
// characters and the domain: "jane.doe@example.com" becomes
// "ja***@example.com". Local parts of two characters or fewer are masked
// entirely. Values without exactly one "@" become "***@***".
func RedactEmail(addr string) string {
	local, domain, ok := strings.Cut(addr, "@")
	if !ok || local == "" || domain == "" || strings.Contains(domain, "@") {
		return "***@***"
	}
	if len(local) <= 2 {
		return "***@" + domain
	}
	return local[:2] + "***@" + domain
}
