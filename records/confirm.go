package records

import "sync"

// Confirmable is a document that requires typed confirmation to delete.
type Confirmable interface {
	ConfirmationText() string
}

// Confirmation gates a destructive action behind typing an exact text.
type Confirmation struct {
	expected string

	mu    sync.Mutex
	typed string
}

// NewConfirmation expects the confirmation text of doc.
func NewConfirmation(doc Confirmable) *Confirmation {
	return &Confirmation{expected: doc.ConfirmationText()}
}

// Expected returns the text the user has to type.
func (c *Confirmation) Expected() string { return c.expected }

// Type records the current input.
func (c *Confirmation) Type(text string) {
	c.mu.Lock()
	c.typed = text
	c.mu.Unlock()
}

// Enabled reports whether the input matches exactly, case included.
func (c *Confirmation) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expected != "" && c.typed == c.expected
}
