package domain

// Difficulty grades a catalog problem.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "Easy"
	DifficultyMedium Difficulty = "Medium"
	DifficultyHard   Difficulty = "Hard"
)

// Valid reports whether d is a known difficulty.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// Problem is a read-only catalog entry.
type Problem struct {
	ID            string     `json:"id" yaml:"id"`
	Title         string     `json:"title" yaml:"title"`
	Difficulty    Difficulty `json:"difficulty" yaml:"difficulty"`
	Description   string     `json:"description" yaml:"description"`
	InitialPrompt string     `json:"initial_prompt" yaml:"initial_prompt"`
	Tags          []string   `json:"tags" yaml:"tags"`
}
