package rag

import (
	"context"
	"errors"
)

// GenerationErrorPrefix precedes the error text shown in place of an answer.
const GenerationErrorPrefix = "Error al generar respuesta: "

type Embedder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
	EncodeSingle(ctx context.Context, text string) ([]float32, error)
}

type Generator interface {
	Generate(ctx context.Context, prompt string) Generation
}

// Generation is the outcome of one LLM call. A failed call keeps its error
// instead of surfacing it to the caller.
type Generation struct {
	Text string
	Err  error
}

func Generated(text string) Generation {
	return Generation{Text: text}
}

func GenerationFailed(err error) Generation {
	if err == nil {
		err = errors.New("unknown generation failure")
	}
	return Generation{Err: err}
}

func (g Generation) Failed() bool {
	return g.Err != nil
}

// Display returns the answer text, or the error message that replaces it.
func (g Generation) Display() string {
	if g.Err != nil {
		return GenerationErrorPrefix + g.Err.Error()
	}
	return g.Text
}
