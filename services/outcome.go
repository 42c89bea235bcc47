// services/outcome.go
package services

import "rps-match-service/models"

// Outcome is the result of comparing two revealed hands.
type Outcome uint8

const (
	Draw Outcome = iota
	WinnerA
	WinnerB
)

func (o Outcome) String() string {
	switch o {
	case WinnerA:
		return "winner_a"
	case WinnerB:
		return "winner_b"
	default:
		return "draw"
	}
}

// outcomes is indexed [choiceA][choiceB]. The array type fixes all nine
// cells at compile time.
var outcomes = [3][3]Outcome{
	models.Rock: {
		models.Rock:     Draw,
		models.Paper:    WinnerB,
		models.Scissors: WinnerA,
	},
	models.Paper: {
		models.Rock:     WinnerA,
		models.Paper:    Draw,
		models.Scissors: WinnerB,
	},
	models.Scissors: {
		models.Rock:     WinnerB,
		models.Paper:    WinnerA,
		models.Scissors: Draw,
	},
}

// Resolve maps two valid choices to an outcome. Rock beats scissors,
// scissors beats paper, paper beats rock.
func Resolve(a, b models.Choice) Outcome {
	return outcomes[a][b]
}
