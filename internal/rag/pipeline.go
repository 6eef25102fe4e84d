package rag

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"eco-counselor/internal/models"
)

type Outcome string

const (
	OutcomeEmergency Outcome = "emergency"
	OutcomeFallback  Outcome = "fallback"
	OutcomeAnswer    Outcome = "answer"
)

// Response is the pipeline's reply to one query.
type Response struct {
	Text        string
	Outcome     Outcome
	TopDistance *float64
	Sources     []string
}

// Answerer is the conversational answering engine.
type Answerer interface {
	Answer(ctx context.Context, query string, history []models.Turn, chunks []string) (string, error)
	Condense(ctx context.Context, query string, history []models.Turn) (string, error)
}

// InteractionLog persists query/response pairs.
type InteractionLog interface {
	RecordInteraction(ctx context.Context, query, response string) error
}

// Recorder receives pipeline telemetry.
type Recorder interface {
	ObserveOutcome(outcome string)
	ObserveFailure(stage string)
	ObserveTopDistance(d float64)
	ObserveLogFailure()
}

type noopRecorder struct{}

func (noopRecorder) ObserveOutcome(string)      {}
func (noopRecorder) ObserveFailure(string)      {}
func (noopRecorder) ObserveTopDistance(float64) {}
func (noopRecorder) ObserveLogFailure()         {}

type Options struct {
	Safety    *SafetyInterceptor
	Retriever Retriever
	Engine    Answerer
	Log       InteractionLog // optional
	Recorder  Recorder       // optional

	Threshold        float64
	AnswerK          int
	CondenseQuestion bool
	LogEmergencies   bool
}

// Pipeline runs one request through safety check, retrieval, relevance gate,
// answering and logging. It holds no per-conversation state.
type Pipeline struct {
	opts Options
}

func NewPipeline(opts Options) *Pipeline {
	if opts.Safety == nil {
		opts.Safety = NewSafetyInterceptor()
	}
	if opts.Recorder == nil {
		opts.Recorder = noopRecorder{}
	}
	if opts.AnswerK <= 0 {
		opts.AnswerK = 2
	}
	return &Pipeline{opts: opts}
}

// Respond answers query given the caller's prior turns. Errors are
// ErrInvalidQuery or wrap ErrRetrieval or ErrGeneration.
func (p *Pipeline) Respond(ctx context.Context, query string, history []models.Turn) (*Response, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrInvalidQuery
	}
	if p.opts.Safety.Check(query) {
		log.Warn().Msg("Crisis language detected, returning emergency resources")
		p.opts.Recorder.ObserveOutcome(string(OutcomeEmergency))
		if p.opts.LogEmergencies {
			p.record(ctx, query, models.EmergencyResponse)
		}
		return &Response{Text: models.EmergencyResponse, Outcome: OutcomeEmergency}, nil
	}

	// One retrieval serves both the gate, which reads the first result, and
	// the engine, which reads up to AnswerK.
	results, err := p.opts.Retriever.Retrieve(ctx, query, max(1, p.opts.AnswerK))
	if err != nil {
		log.Error().Err(err).Msg("Retrieval failed")
		p.opts.Recorder.ObserveFailure("retrieval")
		return nil, err
	}

	var top *models.SearchResult
	if len(results) > 0 {
		top = &results[0]
		p.opts.Recorder.ObserveTopDistance(top.Distance)
		log.Debug().Float64("distance", top.Distance).Str("source", top.Source).Msg("Top document score")
	}

	if Gate(top, p.opts.Threshold) == DecisionFallback {
		log.Info().Float64("threshold", p.opts.Threshold).Msg("Fallback triggered: score is above threshold")
		p.opts.Recorder.ObserveOutcome(string(OutcomeFallback))
		p.record(ctx, query, models.FallbackResponse)
		return &Response{Text: models.FallbackResponse, Outcome: OutcomeFallback, TopDistance: distanceOf(top)}, nil
	}
	log.Info().Float64("distance", top.Distance).Msg("Fallback not triggered: proceeding with LLM")

	contextResults := results[:min(p.opts.AnswerK, len(results))]
	if p.opts.CondenseQuestion && len(history) > 0 {
		standalone, err := p.opts.Engine.Condense(ctx, query, history)
		if err != nil {
			return nil, p.generationFailed(err)
		}
		if standalone != query {
			log.Debug().Str("standalone", standalone).Msg("Condensed follow-up question")
			contextResults, err = p.opts.Retriever.Retrieve(ctx, standalone, p.opts.AnswerK)
			if err != nil {
				log.Error().Err(err).Msg("Retrieval failed")
				p.opts.Recorder.ObserveFailure("retrieval")
				return nil, err
			}
		}
	}

	chunks := make([]string, len(contextResults))
	sources := make([]string, 0, len(contextResults))
	for i, r := range contextResults {
		chunks[i] = r.Content
		if r.Source != "" {
			sources = append(sources, r.Source)
		}
	}

	answer, err := p.opts.Engine.Answer(ctx, query, history, chunks)
	if err != nil {
		return nil, p.generationFailed(err)
	}

	p.opts.Recorder.ObserveOutcome(string(OutcomeAnswer))
	p.record(ctx, query, answer)
	return &Response{Text: answer, Outcome: OutcomeAnswer, TopDistance: distanceOf(top), Sources: sources}, nil
}

func (p *Pipeline) generationFailed(err error) error {
	log.Error().Err(err).Msg("Answer generation failed")
	p.opts.Recorder.ObserveFailure("generation")
	if !errors.Is(err, ErrGeneration) {
		return errors.Join(ErrGeneration, err)
	}
	return err
}

// record writes the interaction. A failed write is logged and counted but
// never replaces a computed response.
func (p *Pipeline) record(ctx context.Context, query, response string) {
	if p.opts.Log == nil {
		return
	}
	if err := p.opts.Log.RecordInteraction(context.WithoutCancel(ctx), query, response); err != nil {
		log.Error().Err(err).Msg("Failed to record interaction")
		p.opts.Recorder.ObserveLogFailure()
	}
}

func distanceOf(r *models.SearchResult) *float64 {
	if r == nil {
		return nil
	}
	d := r.Distance
	return &d
}
