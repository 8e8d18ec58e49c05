package decision

import "strings"

// Verdict is the parsed reading of a free-text completion.
//
// The model is asked to answer with LIKE or PASS. Text containing both
// tokens, or neither, is Ambiguous; the engine resolves Ambiguous to a
// pass (the tie-break favors the negative).
type Verdict int

const (
	VerdictLike Verdict = iota
	VerdictPass
	VerdictAmbiguous
)

func (v Verdict) String() string {
	switch v {
	case VerdictLike:
		return "like"
	case VerdictPass:
		return "pass"
	default:
		return "ambiguous"
	}
}

// ParseVerdict scans completion text for a binary decision, case-insensitively.
func ParseVerdict(text string) Verdict {
	up := strings.ToUpper(text)
	hasLike := strings.Contains(up, "LIKE")
	hasPass := strings.Contains(up, "PASS")
	switch {
	case hasLike && !hasPass:
		return VerdictLike
	case hasPass && !hasLike:
		return VerdictPass
	default:
		return VerdictAmbiguous
	}
}
