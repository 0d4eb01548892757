package logger

import (
	"regexp"
	"strings"
)

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// piiKeys maps investor contact fields to their redactor. Keys are matched
// against the lowercased field name.
var piiKeys = map[string]func(string) string{
	"email":        RedactEmail,
	"reply_to":     RedactEmail,
	"first_name":   RedactName,
	"last_name":    RedactName,
	"full_name":    RedactName,
	"linkedin_url": func(string) string { return "***" },
	"phone":        func(string) string { return "***" },
}

// RedactEmail masks the local part of an investor address.
// "ada.lovelace@fund.vc" becomes "ad***@fund.vc"; a local part of two
// characters or fewer is masked entirely.
func RedactEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return "***@***"
	}
	if len(local) > 2 {
		return local[:2] + "***@" + domain
	}
	return "***@" + domain
}

// RedactName keeps the initial of each word: "Ada Lovelace" becomes
// "A*** L***".
func RedactName(name string) string {
	words := strings.Fields(name)
	for i, w := range words {
		r := []rune(w)
		words[i] = string(r[0]) + "***"
	}
	return strings.Join(words, " ")
}

func redactPIIValue(key, val string) string {
	key = strings.ToLower(key)
	if fn, ok := piiKeys[key]; ok {
		return fn(val)
	}
	if strings.HasSuffix(key, "_email") {
		return RedactEmail(val)
	}
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}
