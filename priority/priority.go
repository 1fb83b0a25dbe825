package priority

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
)

// ErrInvalidPriority is returned when a group, level, or ordinal is outside of its valid range.
var ErrInvalidPriority = errors.New("invalid priority")

const (
	// MaxGroup is the largest valid Group.
	MaxGroup = 4

	// MaxLevel is the largest valid level within a Group.
	MaxLevel = 99

	// MaxOrdinal is the largest valid ordinal, which belongs to the least important work.
	MaxOrdinal = (MaxGroup+1)*(MaxLevel+1) - 1

	levelsPerGroup = MaxLevel + 1
)

// Group is a coarse priority. Lower groups are more important, so Critical work is the last to be shed.
type Group int

const (
	Critical Group = iota
	High
	Medium
	Low
	BestEffort
)

func (g Group) String() string {
	switch g {
	case Critical:
		return "critical"
	case High:
		return "high"
	case Medium:
		return "medium"
	case Low:
		return "low"
	case BestEffort:
		return "best_effort"
	default:
		return "group(" + strconv.Itoa(int(g)) + ")"
	}
}

// Valid returns whether the group is between Critical and BestEffort.
func (g Group) Valid() bool {
	return g >= 0 && g <= MaxGroup
}

// MinOrdinal returns the smallest ordinal within the group.
func (g Group) MinOrdinal() int {
	return int(g) * levelsPerGroup
}

// MaxOrdinal returns the largest ordinal within the group.
func (g Group) MaxOrdinal() int {
	return g.MinOrdinal() + MaxLevel
}

// Random returns a Value within the group with a uniformly random level.
func (g Group) Random() Value {
	return Value(g.MinOrdinal() + rand.IntN(levelsPerGroup))
}

// Value is an immutable two level priority, made of a coarse Group and a fine level within the group, encoded as a
// single bounded ordinal. Ordinals increase as (group, level) increase lexicographically, and a lower ordinal
// represents more important work.
type Value int

// Encode returns the Value for the group and level, else ErrInvalidPriority if either is out of range.
func Encode(group Group, level int) (Value, error) {
	if !group.Valid() {
		return 0, fmt.Errorf("%w: group %d not in [0, %d]", ErrInvalidPriority, group, MaxGroup)
	}
	if level < 0 || level > MaxLevel {
		return 0, fmt.Errorf("%w: level %d not in [0, %d]", ErrInvalidPriority, level, MaxLevel)
	}
	return Value(int(group)*levelsPerGroup + level), nil
}

// MustEncode is like Encode but panics if the group or level are invalid.
func MustEncode(group Group, level int) Value {
	v, err := Encode(group, level)
	if err != nil {
		panic(err)
	}
	return v
}

// Decode returns the Value for the ordinal, else ErrInvalidPriority if the ordinal is not in [0, MaxOrdinal].
func Decode(ordinal int) (Value, error) {
	if ordinal < 0 || ordinal > MaxOrdinal {
		return 0, fmt.Errorf("%w: ordinal %d not in [0, %d]", ErrInvalidPriority, ordinal, MaxOrdinal)
	}
	return Value(ordinal), nil
}

// ParseOrdinal parses a Value from its decimal ordinal representation, as carried in request headers or RPC metadata.
func ParseOrdinal(s string) (Value, error) {
	ordinal, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidPriority, err)
	}
	return Decode(ordinal)
}

// Random returns a Value by drawing a uniformly random group and then a uniformly random level within it, so that no
// single level dominates a generated sample.
func Random() Value {
	return Group(rand.IntN(MaxGroup + 1)).Random()
}

// Ordinal returns the value's ordinal, from 0 to MaxOrdinal.
func (v Value) Ordinal() int {
	return int(v)
}

// Group returns the value's coarse priority.
func (v Value) Group() Group {
	return Group(int(v) / levelsPerGroup)
}

// Level returns the value's fine priority within its group.
func (v Value) Level() int {
	return int(v) % levelsPerGroup
}

// Valid returns whether the value's ordinal is in [0, MaxOrdinal].
func (v Value) Valid() bool {
	return v >= 0 && int(v) <= MaxOrdinal
}

func (v Value) String() string {
	return v.Group().String() + "/" + strconv.Itoa(v.Level())
}

// Compare returns -1 if a is more important than b, 1 if a is less important than b, else 0.
func Compare(a, b Value) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
