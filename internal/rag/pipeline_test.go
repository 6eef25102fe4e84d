package rag

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eco-counselor/internal/models"
)

type fakeRetriever struct {
	results map[string][]models.SearchResult
	err     error
	queries []string
	ks      []int
}

func (f *fakeRetriever) Retrieve(_ context.Context, query string, k int) ([]models.SearchResult, error) {
	f.queries = append(f.queries, query)
	f.ks = append(f.ks, k)
	if f.err != nil {
		return nil, f.err
	}
	res := f.results[query]
	if len(res) > k {
		res = res[:k]
	}
	return res, nil
}

type fakeAnswerer struct {
	answer      string
	answerErr   error
	standalone  string
	condenseErr error

	answerCalls   int
	condenseCalls int
	gotChunks     []string
	gotHistory    []models.Turn
}

func (f *fakeAnswerer) Answer(_ context.Context, _ string, history []models.Turn, chunks []string) (string, error) {
	f.answerCalls++
	f.gotChunks = chunks
	f.gotHistory = history
	return f.answer, f.answerErr
}

func (f *fakeAnswerer) Condense(_ context.Context, query string, _ []models.Turn) (string, error) {
	f.condenseCalls++
	if f.condenseErr != nil {
		return "", f.condenseErr
	}
	if f.standalone == "" {
		return query, nil
	}
	return f.standalone, nil
}

type interaction struct{ query, response string }

type fakeLog struct {
	mu      sync.Mutex
	err     error
	entries []interaction
	ctxErrs []error
}

func (f *fakeLog) RecordInteraction(ctx context.Context, query, response string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, interaction{query, response})
	return nil
}

type countingRecorder struct {
	outcomes    []string
	failures    []string
	distances   []float64
	logFailures int
}

func (c *countingRecorder) ObserveOutcome(o string)      { c.outcomes = append(c.outcomes, o) }
func (c *countingRecorder) ObserveFailure(s string)      { c.failures = append(c.failures, s) }
func (c *countingRecorder) ObserveTopDistance(d float64) { c.distances = append(c.distances, d) }
func (c *countingRecorder) ObserveLogFailure()           { c.logFailures++ }

const (
	guiltQuery    = "I've been feeling a lot of guilt about climate change."
	mongoliaQuery = "What is the capital of Mongolia?"
)

func knowledgeBase() map[string][]models.SearchResult {
	return map[string][]models.SearchResult{
		guiltQuery: {
			{Content: "Climate guilt is common.", Source: "guilt.md", Distance: 0.6},
			{Content: "Small actions help.", Source: "action.md", Distance: 0.9},
			{Content: "Grief is natural.", Source: "grief.md", Distance: 1.1},
		},
		mongoliaQuery: {
			{Content: "Climate guilt is common.", Source: "guilt.md", Distance: 1.95},
		},
	}
}

type fixture struct {
	retriever *fakeRetriever
	engine    *fakeAnswerer
	log       *fakeLog
	recorder  *countingRecorder
}

func newFixture() *fixture {
	return &fixture{
		retriever: &fakeRetriever{results: knowledgeBase()},
		engine:    &fakeAnswerer{answer: "Feeling guilt shows you care."},
		log:       &fakeLog{},
		recorder:  &countingRecorder{},
	}
}

func (f *fixture) pipeline(mutate ...func(*Options)) *Pipeline {
	opts := Options{
		Safety:           NewSafetyInterceptor(),
		Retriever:        f.retriever,
		Engine:           f.engine,
		Log:              f.log,
		Recorder:         f.recorder,
		Threshold:        1.7,
		AnswerK:          2,
		CondenseQuestion: true,
	}
	for _, m := range mutate {
		m(&opts)
	}
	return NewPipeline(opts)
}

func TestPipelineRespond(t *testing.T) {
	ctx := context.Background()

	t.Run("ShouldShortCircuitOnCrisisLanguage", func(t *testing.T) {
		f := newFixture()
		resp, err := f.pipeline().Respond(ctx, "I feel hopeless about everything", nil)
		require.NoError(t, err)
		assert.Equal(t, models.EmergencyResponse, resp.Text)
		assert.Equal(t, OutcomeEmergency, resp.Outcome)
		assert.Nil(t, resp.TopDistance)
		assert.Empty(t, f.retriever.queries)
		assert.Zero(t, f.engine.answerCalls)
		assert.Zero(t, f.engine.condenseCalls)
		assert.Empty(t, f.log.entries)
		assert.Equal(t, []string{"emergency"}, f.recorder.outcomes)
	})

	t.Run("ShouldLogEmergenciesWhenEnabled", func(t *testing.T) {
		f := newFixture()
		_, err := f.pipeline(func(o *Options) { o.LogEmergencies = true }).Respond(ctx, "I want to KILL MYSELF", nil)
		require.NoError(t, err)
		assert.Equal(t, []interaction{{"I want to KILL MYSELF", models.EmergencyResponse}}, f.log.entries)
	})

	t.Run("ShouldFallBackForOffTopicQueries", func(t *testing.T) {
		f := newFixture()
		resp, err := f.pipeline().Respond(ctx, mongoliaQuery, nil)
		require.NoError(t, err)
		assert.Equal(t, models.FallbackResponse, resp.Text)
		assert.Equal(t, OutcomeFallback, resp.Outcome)
		require.NotNil(t, resp.TopDistance)
		assert.InDelta(t, 1.95, *resp.TopDistance, 1e-9)
		assert.Zero(t, f.engine.answerCalls)
		assert.Equal(t, []interaction{{mongoliaQuery, models.FallbackResponse}}, f.log.entries)
		assert.Equal(t, []float64{1.95}, f.recorder.distances)
	})

	t.Run("ShouldFallBackWhenStoreIsEmpty", func(t *testing.T) {
		f := newFixture()
		f.retriever.results = nil
		resp, err := f.pipeline().Respond(ctx, guiltQuery, nil)
		require.NoError(t, err)
		assert.Equal(t, OutcomeFallback, resp.Outcome)
		assert.Nil(t, resp.TopDistance)
		assert.Zero(t, f.engine.answerCalls)
	})

	t.Run("ShouldAnswerOnTopicQueries", func(t *testing.T) {
		f := newFixture()
		resp, err := f.pipeline().Respond(ctx, guiltQuery, nil)
		require.NoError(t, err)
		assert.Equal(t, "Feeling guilt shows you care.", resp.Text)
		assert.Equal(t, OutcomeAnswer, resp.Outcome)
		assert.Equal(t, []string{"guilt.md", "action.md"}, resp.Sources)
		assert.Equal(t, []string{"Climate guilt is common.", "Small actions help."}, f.engine.gotChunks)
		assert.Equal(t, 1, f.engine.answerCalls)
		assert.Equal(t, []interaction{{guiltQuery, "Feeling guilt shows you care."}}, f.log.entries)
		assert.Equal(t, []string{guiltQuery}, f.retriever.queries)
		assert.Equal(t, []int{2}, f.retriever.ks)
	})

	t.Run("ShouldAnswerAtExactlyTheThreshold", func(t *testing.T) {
		f := newFixture()
		f.retriever.results[guiltQuery][0].Distance = 1.7
		resp, err := f.pipeline().Respond(ctx, guiltQuery, nil)
		require.NoError(t, err)
		assert.Equal(t, OutcomeAnswer, resp.Outcome)
	})

	t.Run("ShouldPassHistoryThrough", func(t *testing.T) {
		f := newFixture()
		history := []models.Turn{{UserQuery: "hi", AIResponse: "hello"}}
		_, err := f.pipeline().Respond(ctx, guiltQuery, history)
		require.NoError(t, err)
		assert.Equal(t, history, f.engine.gotHistory)
		assert.Equal(t, 1, f.engine.condenseCalls)
		// unchanged standalone question means no second retrieval
		assert.Len(t, f.retriever.queries, 1)
	})

	t.Run("ShouldRetrieveAgainForCondensedQuestion", func(t *testing.T) {
		f := newFixture()
		f.engine.standalone = "How do I cope with climate grief?"
		f.retriever.results[f.engine.standalone] = []models.SearchResult{
			{Content: "Grief is natural.", Source: "grief.md", Distance: 0.4},
		}
		history := []models.Turn{{UserQuery: "I feel grief", AIResponse: "I hear you."}}
		resp, err := f.pipeline().Respond(ctx, guiltQuery, history)
		require.NoError(t, err)
		assert.Equal(t, []string{guiltQuery, f.engine.standalone}, f.retriever.queries)
		assert.Equal(t, []string{"Grief is natural."}, f.engine.gotChunks)
		assert.Equal(t, []string{"grief.md"}, resp.Sources)
		// the gate still judged the original query
		require.NotNil(t, resp.TopDistance)
		assert.InDelta(t, 0.6, *resp.TopDistance, 1e-9)
	})

	t.Run("ShouldSkipCondensingWhenDisabled", func(t *testing.T) {
		f := newFixture()
		f.engine.standalone = "something else"
		_, err := f.pipeline(func(o *Options) { o.CondenseQuestion = false }).
			Respond(ctx, guiltQuery, []models.Turn{{UserQuery: "a", AIResponse: "b"}})
		require.NoError(t, err)
		assert.Zero(t, f.engine.condenseCalls)
		assert.Len(t, f.retriever.queries, 1)
	})

	t.Run("ShouldReportRetrievalFailure", func(t *testing.T) {
		f := newFixture()
		f.retriever.err = errors.Join(ErrRetrieval, errors.New("embedding service down"))
		resp, err := f.pipeline().Respond(ctx, guiltQuery, nil)
		assert.Nil(t, resp)
		assert.ErrorIs(t, err, ErrRetrieval)
		assert.Empty(t, f.log.entries)
		assert.Zero(t, f.engine.answerCalls)
		assert.Equal(t, []string{"retrieval"}, f.recorder.failures)
	})

	t.Run("ShouldReportGenerationFailure", func(t *testing.T) {
		f := newFixture()
		f.engine.answerErr = errors.New("groq timeout")
		resp, err := f.pipeline().Respond(ctx, guiltQuery, nil)
		assert.Nil(t, resp)
		assert.ErrorIs(t, err, ErrGeneration)
		assert.Empty(t, f.log.entries)
		assert.Equal(t, []string{"generation"}, f.recorder.failures)
	})

	t.Run("ShouldReportCondenseFailureAsGeneration", func(t *testing.T) {
		f := newFixture()
		f.engine.condenseErr = errors.New("groq 500")
		_, err := f.pipeline().Respond(ctx, guiltQuery, []models.Turn{{UserQuery: "a", AIResponse: "b"}})
		assert.ErrorIs(t, err, ErrGeneration)
		assert.Zero(t, f.engine.answerCalls)
	})

	t.Run("ShouldReturnAnswerWhenLoggingFails", func(t *testing.T) {
		f := newFixture()
		f.log.err = errors.New("disk full")
		resp, err := f.pipeline().Respond(ctx, guiltQuery, nil)
		require.NoError(t, err)
		assert.Equal(t, "Feeling guilt shows you care.", resp.Text)
		assert.Equal(t, 1, f.recorder.logFailures)
	})

	t.Run("ShouldLogEvenAfterCallerCancels", func(t *testing.T) {
		f := newFixture()
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := f.pipeline().Respond(cctx, mongoliaQuery, nil)
		require.NoError(t, err)
		require.Len(t, f.log.ctxErrs, 1)
		assert.NoError(t, f.log.ctxErrs[0])
	})

	t.Run("ShouldRejectBlankQueryWithoutCallingServices", func(t *testing.T) {
		f := newFixture()
		resp, err := f.pipeline().Respond(ctx, " \t\n", nil)
		assert.Nil(t, resp)
		assert.ErrorIs(t, err, ErrInvalidQuery)
		assert.NotErrorIs(t, err, ErrRetrieval)
		assert.Empty(t, f.retriever.queries)
		assert.Empty(t, f.log.entries)
		assert.Empty(t, f.recorder.failures)
	})

	t.Run("ShouldWorkWithoutLog", func(t *testing.T) {
		f := newFixture()
		resp, err := f.pipeline(func(o *Options) { o.Log = nil; o.Recorder = nil }).Respond(ctx, guiltQuery, nil)
		require.NoError(t, err)
		assert.Equal(t, OutcomeAnswer, resp.Outcome)
	})
}
