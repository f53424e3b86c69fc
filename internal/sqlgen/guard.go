package sqlgen

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheck is the outcome of screening user text for SQL injection.
type InjectionCheck struct {
	Suspicious  bool
	Fingerprint string
}

// ScreenQuestion runs libinjection over a natural-language question.
// Questions are never executed directly, so a hit is reported, not blocked.
func ScreenQuestion(question string) InjectionCheck {
	isSQLi, fingerprint := libinjection.IsSQLi(question)
	if !isSQLi {
		return InjectionCheck{}
	}
	return InjectionCheck{Suspicious: true, Fingerprint: string(fingerprint)}
}
