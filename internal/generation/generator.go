// Package generation provides the text generation capability and clients.
package generation

import "context"

// Generator produces text from an instruction and a user prompt. The deadline
// on ctx bounds the call; implementations must return a generation_timeout
// error kind when it expires rather than hanging.
type Generator interface {
	Generate(ctx context.Context, instruction, prompt string) (string, error)
}
