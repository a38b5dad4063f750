package valueobject

import (
	"fmt"
	"strings"
)

// Level представляет уровень серьезности события (Value Object)
// Порядок фиксирован и полный: debug < trace < info < warning < error
type Level int

const (
	LevelDebug Level = iota
	LevelTrace
	LevelInfo
	LevelWarning
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug:   "debug",
	LevelTrace:   "trace",
	LevelInfo:    "info",
	LevelWarning: "warning",
	LevelError:   "error",
}

// ParseLevel разбирает имя уровня (без учета регистра, "warn" допускается как синоним)
func ParseLevel(raw string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return LevelDebug, nil
	case "trace":
		return LevelTrace, nil
	case "info":
		return LevelInfo, nil
	case "warning", "warn":
		return LevelWarning, nil
	case "error":
		return LevelError, nil
	default:
		return LevelDebug, fmt.Errorf("unknown level %q", raw)
	}
}

// Validate проверяет, что уровень входит в допустимый диапазон
func (l Level) Validate() error {
	if _, ok := levelNames[l]; !ok {
		return fmt.Errorf("invalid level: %d", int(l))
	}
	return nil
}

// String возвращает имя уровня
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// AtLeast сообщает, что ранг уровня не ниже min
func (l Level) AtLeast(min Level) bool {
	return l >= min
}

// ShouldLog true, если событие уровня level проходит порог min.
func ShouldLog(level, min Level) bool {
	return level.AtLeast(min)
}

// AllLevels возвращает все уровни в порядке возрастания серьезности
func AllLevels() []Level {
	return []Level{LevelDebug, LevelTrace, LevelInfo, LevelWarning, LevelError}
}
