package generation

import (
	"context"
	"sync"
)

// MockGenerator is a scriptable generator for tests. It counts calls so tests
// can assert that abstention paths never invoke generation.
type MockGenerator struct {
	mu       sync.Mutex
	response string
	err      error
	calls    int

	// LastInstruction and LastPrompt capture what the most recent call received.
	LastInstruction string
	LastPrompt      string
}

// NewMockGenerator returns a generator that always answers with response.
func NewMockGenerator(response string) *MockGenerator {
	return &MockGenerator{response: response}
}

// Fail makes every subsequent call return err.
func (g *MockGenerator) Fail(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

// Generate returns the scripted response or error and records the call.
func (g *MockGenerator) Generate(ctx context.Context, instruction, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.LastInstruction = instruction
	g.LastPrompt = prompt
	if g.err != nil {
		return "", g.err
	}
	return g.response, nil
}

// Calls returns how many times Generate has been invoked.
func (g *MockGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}
