package risk

import "strings"

// Level is the canonical four-step risk scale.
type Level string

const (
	Low      Level = "low"
	Medium   Level = "medium"
	High     Level = "high"
	Critical Level = "critical"
)

var rank = map[Level]int{Low: 0, Medium: 1, High: 2, Critical: 3}

func (l Level) Rank() int { return rank[l] }

func (l Level) AtLeast(other Level) bool { return rank[l] >= rank[other] }

func (l Level) Valid() bool {
	_, ok := rank[l]
	return ok
}

// Alertable reports whether patients at this level get a risk notification.
func (l Level) Alertable() bool { return l.AtLeast(High) }

var aliases = map[string]Level{
	"low":      Low,
	"minimal":  Low,
	"normal":   Low,
	"medium":   Medium,
	"mid":      Medium,
	"moderate": Medium,
	"high":     High,
	"elevated": High,
	"critical": Critical,
	"severe":   Critical,
}

// ParseLevel maps free-form labels such as "Mid Risk" or "HIGH_RISK" onto
// the canonical scale.
func ParseLevel(s string) (Level, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	s = strings.TrimSpace(strings.TrimSuffix(s, "risk"))
	l, ok := aliases[s]
	return l, ok
}

// LevelFor maps a score onto the fixed bands.
func LevelFor(score int) Level {
	switch {
	case score >= 60:
		return Critical
	case score >= 40:
		return High
	case score >= 20:
		return Medium
	default:
		return Low
	}
}

// Of returns the stored level of a persisted label, defaulting to Low.
func Of(label string) Level {
	if l, ok := ParseLevel(label); ok {
		return l
	}
	return Low
}
