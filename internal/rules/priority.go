package rules

import "strings"

// Level is a position in the alert priority ordering.
type Level int

const (
	LevelInfo Level = iota
	LevelNotice
	LevelWarning
	LevelError
	LevelCritical
)

var levelNames = map[string]Level{
	"INFO":     LevelInfo,
	"NOTICE":   LevelNotice,
	"WARNING":  LevelWarning,
	"ERROR":    LevelError,
	"CRITICAL": LevelCritical,
}

// ParseLevel maps a priority string to its level, ignoring case.
// ok is false for strings outside the level set.
func ParseLevel(priority string) (level Level, ok bool) {
	level, ok = levelNames[strings.ToUpper(strings.TrimSpace(priority))]
	return level, ok
}

// LevelOf returns the level of priority. Unknown strings are LevelInfo so
// that garbage never escalates into an action.
func LevelOf(priority string) Level {
	level, _ := ParseLevel(priority)
	return level
}

// Satisfies reports whether priority is at or above threshold.
func Satisfies(priority, threshold string) bool {
	return LevelOf(priority) >= LevelOf(threshold)
}

var levelStrings = [...]string{"INFO", "NOTICE", "WARNING", "ERROR", "CRITICAL"}

func (l Level) String() string {
	if l < LevelInfo || l > LevelCritical {
		return levelStrings[LevelInfo]
	}
	return levelStrings[l]
}
