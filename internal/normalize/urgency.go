package normalize

import "strings"

// Canonical urgency values stored and served everywhere.
const (
	UrgencyUrgent = "urgent"
	UrgencyNormal = "normal"
)

// Urgency maps the many spellings extraction backends produce onto the
// two canonical values. All writes go through here; reads only need it
// for rows persisted before canonicalization existed.
func Urgency(raw any) string {
	switch v := raw.(type) {
	case bool:
		if v {
			return UrgencyUrgent
		}
		return UrgencyNormal
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "urgent", "high", "medium", "yes", "true", "1":
			return UrgencyUrgent
		default:
			return UrgencyNormal
		}
	case float64:
		if v > 0 {
			return UrgencyUrgent
		}
		return UrgencyNormal
	default:
		return UrgencyNormal
	}
}
