// models/choice.go
package models

import (
	"database/sql/driver"
	"fmt"
)

// Choice is a rock-paper-scissors hand. The zero value is Rock; optional
// choices are carried as *Choice.
type Choice uint8

const (
	Rock Choice = iota
	Paper
	Scissors

	numChoices = 3
)

// Choices lists every valid hand in table order.
var Choices = [numChoices]Choice{Rock, Paper, Scissors}

var choiceNames = [numChoices]string{
	Rock:     "rock",
	Paper:    "paper",
	Scissors: "scissors",
}

func (c Choice) Valid() bool { return c < numChoices }

func (c Choice) String() string {
	if !c.Valid() {
		return fmt.Sprintf("choice(%d)", uint8(c))
	}
	return choiceNames[c]
}

// ParseChoice accepts the lowercase wire names only.
func ParseChoice(s string) (Choice, error) {
	for _, c := range Choices {
		if choiceNames[c] == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("invalid choice %q (use: rock, paper, scissors)", s)
}

func (c Choice) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid choice %d", uint8(c))
	}
	return []byte(c.String()), nil
}

func (c *Choice) UnmarshalText(b []byte) error {
	parsed, err := ParseChoice(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Value stores the wire name so the column stays readable.
func (c Choice) Value() (driver.Value, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid choice %d", uint8(c))
	}
	return c.String(), nil
}

func (c *Choice) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return c.UnmarshalText([]byte(v))
	case []byte:
		return c.UnmarshalText(v)
	default:
		return fmt.Errorf("cannot scan %T into Choice", src)
	}
}

// ChoicePtr is a small helper for building optional reveals.
func ChoicePtr(c Choice) *Choice { return &c }
