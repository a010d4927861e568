// Package enrich rephrases catalog questions through the LLM so the
// form reads conversationally instead of like a database schema. The
// oracle is an optional nicety here: any failure falls back to the
// catalog's own question text, and successful phrasings are cached so
// the same question is not paid for twice.
package enrich

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/solterra/agroform/internal/llm"
	"github.com/solterra/agroform/internal/logger"
)

const (
	questionTemperature = 0.1
	questionMaxTokens   = 50

	cacheTTL     = 24 * time.Hour
	cacheCleanup = 1 * time.Hour
)

const systemPrompt = "Eres un asistente virtual que ayuda a recopilar datos específicos " +
	"sobre proyectos agrícolas. Tu tarea es formular preguntas breves, " +
	"claras y directas para obtener información concreta del usuario. " +
	"No des explicaciones ni formules preguntas largas o complejas. " +
	"Limítate a pedir directamente el dato específico indicado por el usuario."

// Enricher turns a raw data-point description into a short question.
type Enricher struct {
	provider llm.Provider
	cache    *cache.Cache
	log      *logger.Logger
}

// New creates an enricher over the given provider. A nil provider is
// allowed; every call then returns the fallback text.
func New(provider llm.Provider, log *logger.Logger) *Enricher {
	if log == nil {
		log = logger.NewNop()
	}
	return &Enricher{
		provider: provider,
		cache:    cache.New(cacheTTL, cacheCleanup),
		log:      log,
	}
}

// Question returns a short, direct question asking for the given data
// point. On any oracle failure it returns fallback, so callers always
// have something to show the user.
func (e *Enricher) Question(ctx context.Context, dataPoint, fallback string) string {
	if e.provider == nil {
		return fallback
	}
	if cached, ok := e.cache.Get(dataPoint); ok {
		return cached.(string)
	}

	prompt := "Formula una pregunta breve y directa para pedir este dato: '" + dataPoint + "'"
	question, err := e.provider.Complete(ctx, prompt, llm.CompletionOpts{
		System:      systemPrompt,
		Temperature: questionTemperature,
		MaxTokens:   questionMaxTokens,
	})
	if err != nil || question == "" {
		e.log.Warn("enrich: question generation failed, using fallback",
			"data_point", dataPoint, "error", err)
		return fallback
	}

	e.cache.Set(dataPoint, question, cache.DefaultExpiration)
	return question
}
