package testutil

import (
	"context"
	"testing"

	"github.com/firebase/genkit/go/genkit"
)

// NewGenkit returns a plugin-free Genkit instance for tests. Models are
// registered on it explicitly, typically via MockLLM.RegisterModel.
func NewGenkit(t *testing.T) *genkit.Genkit {
	t.Helper()
	return genkit.Init(context.Background())
}
