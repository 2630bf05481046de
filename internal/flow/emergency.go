package flow

// EmergencyDetector matches crisis-indicating phrases. A match overrides
// every other transition rule.
type EmergencyDetector struct {
	phrases []string
}

// NewEmergencyDetector creates a detector over a fixed phrase set.
func NewEmergencyDetector(phrases []string) *EmergencyDetector {
	return &EmergencyDetector{phrases: append([]string(nil), phrases...)}
}

// Matches reports whether text contains any crisis phrase.
func (d *EmergencyDetector) Matches(text string) bool {
	if text == "" {
		return false
	}
	return normalize(text).has(d.phrases)
}
