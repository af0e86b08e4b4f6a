package rag

import (
	"context"
	"strings"

	"ragstore/internal/document"
	"ragstore/internal/vectorstore"
)

const defaultPromptTemplate = "Answer based on context:\n{{.Context}}\n\nQ: {{.Question}}\nA:"

// Pipeline ties ingestion and retrieval together and builds the prompt
// handed to a language model.
type Pipeline struct {
	ingester       *Ingester
	retriever      *Retriever
	promptTemplate string
}

// NewPipeline creates a new RAG pipeline
func NewPipeline(ingester *Ingester, retriever *Retriever) *Pipeline {
	return &Pipeline{
		ingester:       ingester,
		retriever:      retriever,
		promptTemplate: defaultPromptTemplate,
	}
}

// SetPromptTemplate sets a custom prompt template. {{.Context}} and
// {{.Question}} are substituted.
func (p *Pipeline) SetPromptTemplate(template string) {
	p.promptTemplate = template
}

// Ingest stores a loaded document
func (p *Pipeline) Ingest(ctx context.Context, doc *document.Document, metadata map[string]any) ([]vectorstore.WriteResult, error) {
	return p.ingester.Ingest(ctx, doc, metadata)
}

// Prompt retrieves context for question and returns the prompt together
// with the documents it was built from.
func (p *Pipeline) Prompt(ctx context.Context, question string, filters vectorstore.Filters) (string, []vectorstore.Document, error) {
	sources, err := p.retriever.Search(ctx, question, filters)
	if err != nil {
		return "", nil, err
	}

	texts := make([]string, len(sources))
	for i, doc := range sources {
		texts[i] = doc.Text
	}
	return p.buildPrompt(question, strings.Join(texts, "\n")), sources, nil
}

func (p *Pipeline) buildPrompt(question, context string) string {
	prompt := p.promptTemplate
	prompt = strings.ReplaceAll(prompt, "{{.Context}}", context)
	prompt = strings.ReplaceAll(prompt, "{{.Question}}", question)
	return prompt
}
