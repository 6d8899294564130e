package domain

import "time"

// Signal is a strategy instruction for one symbol. The engine interprets
// it against the current position: open when flat, flip when opposed.
type Signal struct {
	Symbol    string
	Direction Direction
	Source    string // Name of the evaluator that produced it, for audit
	At        time.Time
}
