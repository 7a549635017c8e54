package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	apperrors "github.com/rcliao/story-engine/internal/errors"
	"github.com/rcliao/story-engine/internal/generate"
	"github.com/rcliao/story-engine/internal/memory"
	"github.com/rcliao/story-engine/internal/model"
	"github.com/rcliao/story-engine/internal/store"
	"github.com/rcliao/story-engine/internal/transcript"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubGenerator wraps the mock generator and fails selected purposes.
type stubGenerator struct {
	mock *generate.MockGenerator
	fail map[model.Purpose]bool
}

func newStub(fail ...model.Purpose) *stubGenerator {
	g := &stubGenerator{mock: generate.NewMockGenerator(), fail: map[model.Purpose]bool{}}
	for _, p := range fail {
		g.fail[p] = true
	}
	return g
}

func (g *stubGenerator) Name() string { return "stub" }

func (g *stubGenerator) Generate(ctx context.Context, req generate.Request) (string, error) {
	if g.fail[req.Purpose] {
		return "", errors.New("provider unavailable")
	}
	return g.mock.Generate(ctx, req)
}

type fixture struct {
	engine *Engine
	store  *store.SQLiteStore
}

func newFixture(t *testing.T, gen generate.Generator, sum memory.Summarizer, mutate ...func(*Config)) *fixture {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := DefaultConfig()
	cfg.SummaryEveryPrompts = 0
	for _, m := range mutate {
		m(&cfg)
	}
	return &fixture{engine: New(st, gen, sum, cfg, nil), store: st}
}

func twoAgents() model.Config {
	return model.Config{
		WorldText:               "A drowned city.",
		ChapterText:             "The bells ring at low tide.",
		SelectedAgentSlots:      []int{1, 2},
		AgentNames:              map[int]string{1: "A", 2: "B"},
		AgentIdentityTextBySlot: map[int]string{1: "Diver", 2: "Bell-keeper"},
	}
}

// locked returns an ACTIVE session with two agents.
func (f *fixture) locked(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	d, err := f.engine.Create(ctx)
	require.NoError(t, err)
	id := d.Session.ID
	_, err = f.engine.Configure(ctx, id, twoAgents())
	require.NoError(t, err)
	_, err = f.engine.Lock(ctx, id)
	require.NoError(t, err)
	return id
}

func assertCode(t *testing.T, err error, want *apperrors.Error) {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, want, "error: %v", err)
}

func TestCreateStartsInDraft(t *testing.T) {
	f := newFixture(t, newStub(), nil)
	d, err := f.engine.Create(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.StateDraftTab1, d.Session.State)
	assert.False(t, d.Session.Tab1Locked)
	assert.Equal(t, 0, d.Session.PromptIndex)
	assert.Len(t, d.Session.ID, 36)
	assert.Empty(t, d.Events)
	assert.Nil(t, d.CurrentDraft)
}

func TestGetUnknownSession(t *testing.T) {
	f := newFixture(t, newStub(), nil)
	_, err := f.engine.Get(context.Background(), "nope")
	assertCode(t, err, apperrors.ErrNotFound)
}

func TestSubmitPromptKeepsFullText(t *testing.T) {
	f := newFixture(t, newStub(), nil, func(c *Config) { c.Limits.TextMaxChars = 10 })
	id := f.locked(t)

	long := strings.Repeat("p", 50)
	d, err := f.engine.SubmitPrompt(context.Background(), id, 1, long)
	require.NoError(t, err)
	assert.Equal(t, long, d.Events[0].Text)
}

func TestConfigureNormalizes(t *testing.T) {
	f := newFixture(t, newStub(), nil, func(c *Config) { c.Limits.TextMaxChars = 10 })
	ctx := context.Background()
	d, _ := f.engine.Create(ctx)

	got, err := f.engine.Configure(ctx, d.Session.ID, model.Config{
		WorldText:          strings.Repeat("w", 50),
		SelectedAgentSlots: []int{2, 1, 3},
		AgentNames:         map[int]string{1: "  Ada  ", 7: "Ghost"},
	})
	require.NoError(t, err)

	cfg := got.Session.Config
	assert.Equal(t, strings.Repeat("w", 10), cfg.WorldText)
	assert.Equal(t, []int{1, 2, 3}, cfg.SelectedAgentSlots)
	assert.Equal(t, map[int]string{1: "Ada", 2: "Agent Orange", 3: "Agent Yellow"}, cfg.AgentNames)
	assert.Equal(t, model.StateDraftTab1, got.Session.State)
}

func TestConfigureRejectsBadSlots(t *testing.T) {
	f := newFixture(t, newStub(), nil)
	ctx := context.Background()
	d, _ := f.engine.Create(ctx)

	for _, slots := range [][]int{{}, {1, 3}, {0, 1}, {1, 2, 3, 4, 5, 6, 7, 8}} {
		_, err := f.engine.Configure(ctx, d.Session.ID, model.Config{SelectedAgentSlots: slots})
		assertCode(t, err, apperrors.ErrValidation)
	}
}

// Scenario A.
func TestLockCreatesSingleLockBlock(t *testing.T) {
	f := newFixture(t, newStub(), nil)
	id := f.locked(t)

	d, err := f.engine.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StateActive, d.Session.State)
	assert.True(t, d.Session.Tab1Locked)
	require.Len(t, d.MemoryBlocks, 1)
	b := d.MemoryBlocks[0]
	assert.Equal(t, model.BlockWorldChapterLock, b.Type)
	assert.Equal(t, 0, b.FromPromptIndex)
	assert.Equal(t, 0, b.ToPromptIndex)
	assert.Equal(t, "A drowned city.", b.Payload["world_text"])
}

func TestLockedSessionRejectsConfigureAndRelock(t *testing.T) {
	f := newFixture(t, newStub(), nil)
	id := f.locked(t)
	ctx := context.Background()

	_, err := f.engine.Configure(ctx, id, twoAgents())
	assertCode(t, err, apperrors.ErrInvalidState)

	_, err = f.engine.Lock(ctx, id)
	assertCode(t, err, apperrors.ErrInvalidState)

	d, _ := f.engine.Get(ctx, id)
	assert.Len(t, d.MemoryBlocks, 1)
}

func TestLockSummaryFailureRollsBack(t *testing.T) {
	gen := newStub(model.PurposeLockSummary)
	sum, err := memory.NewSummarizer(memory.ModeGenerated, gen, generate.Models{})
	require.NoError(t, err)
	f := newFixture(t, gen, sum)
	ctx := context.Background()

	d, _ := f.engine.Create(ctx)
	_, err = f.engine.Lock(ctx, d.Session.ID)
	assertCode(t, err, apperrors.ErrUpstream)

	d, _ = f.engine.Get(ctx, d.Session.ID)
	assert.Equal(t, model.StateDraftTab1, d.Session.State)
	assert.False(t, d.Session.Tab1Locked)
	assert.Empty(t, d.MemoryBlocks)
}

func TestLockWithGeneratedSummary(t *testing.T) {
	gen := newStub()
	sum, _ := memory.NewSummarizer(memory.ModeGenerated, gen, generate.Models{Summary: "m"})
	f := newFixture(t, gen, sum)
	id := f.locked(t)
	ctx := context.Background()

	d, _ := f.engine.Get(ctx, id)
	assert.Equal(t, "World/Chapter lock created. Agents: 1:A, 2:B.", d.MemoryBlocks[0].Payload["summary"])

	arts, err := f.store.Artifacts(ctx, store.ArtifactParams{SessionID: id})
	require.NoError(t, err)
	require.Len(t, arts, 1)
	assert.Equal(t, model.PurposeLockSummary, arts[0].Purpose)
	assert.Equal(t, "stub", arts[0].Provider)
}

// Scenario B.
func TestSubmitPromptAppendsUserAndAgent(t *testing.T) {
	f := newFixture(t, newStub(), nil)
	id := f.locked(t)

	d, err := f.engine.SubmitPrompt(context.Background(), id, 1, "hello")
	require.NoError(t, err)

	assert.Equal(t, 1, d.Session.PromptIndex)
	assert.Equal(t, model.StateActive, d.Session.State)
	require.Len(t, d.Events, 2)
	assert.Equal(t, model.RoleUser, d.Events[0].Role)
	assert.Equal(t, "hello", d.Events[0].Text)
	assert.Equal(t, model.RoleAgent, d.Events[1].Role)
	require.NotNil(t, d.Events[1].AgentSlot)
	assert.Equal(t, 1, *d.Events[1].AgentSlot)
	for _, ev := range d.Events {
		assert.Equal(t, 1, ev.PromptIndex)
	}

	lines := d.Transcript.Lines
	require.Len(t, lines, 2)
	assert.Equal(t, "1) hello", lines[0].Text)
	assert.True(t, strings.HasPrefix(lines[1].Text, "A: "))
	assert.Equal(t, "agent-1", lines[1].ColorClass)
}

func TestSubmitPromptValidation(t *testing.T) {
	f := newFixture(t, newStub(), nil)
	id := f.locked(t)
	ctx := context.Background()

	_, err := f.engine.SubmitPrompt(ctx, id, 3, "hi")
	assertCode(t, err, apperrors.ErrValidation)

	_, err = f.engine.SubmitPrompt(ctx, id, 1, "   ")
	assertCode(t, err, apperrors.ErrValidation)

	d, _ := f.engine.Get(ctx, id)
	assert.Equal(t, 0, d.Session.PromptIndex, "rejected prompts commit nothing")
	assert.Empty(t, d.Events)
}

func TestSubmitPromptBeforeLock(t *testing.T) {
	f := newFixture(t, newStub(), nil)
	ctx := context.Background()
	d, _ := f.engine.Create(ctx)

	_, err := f.engine.SubmitPrompt(ctx, d.Session.ID, 1, "hi")
	assertCode(t, err, apperrors.ErrInvalidState)
}

func TestSubmitPromptUpstreamKeepsUserTurn(t *testing.T) {
	f := newFixture(t, newStub(model.PurposeCharacter), nil)
	id := f.locked(t)
	ctx := context.Background()

	_, err := f.engine.SubmitPrompt(ctx, id, 2, "anyone there?")
	assertCode(t, err, apperrors.ErrUpstream)

	d, _ := f.engine.Get(ctx, id)
	assert.Equal(t, 1, d.Session.PromptIndex)
	assert.Equal(t, model.StateActive, d.Session.State)
	require.Len(t, d.Events, 1)
	assert.Equal(t, model.RoleUser, d.Events[0].Role)
}

func TestSubmitPromptPassesContextToGenerator(t *testing.T) {
	rec := &recordingGenerator{}
	f := newFixture(t, rec, nil, func(c *Config) {
		c.Models = generate.Models{Character: "char-model", Narrative: "narr-model"}
	})
	id := f.locked(t)
	ctx := context.Background()

	_, err := f.engine.SubmitPrompt(ctx, id, 1, "first")
	require.NoError(t, err)
	_, err = f.engine.SubmitPrompt(ctx, id, 2, "second")
	require.NoError(t, err)

	last := rec.last()
	assert.Equal(t, model.PurposeCharacter, last.Purpose)
	assert.Equal(t, "char-model", last.Model)
	assert.Equal(t, "second", last.Input["user_prompt"])
	assert.Equal(t, []string{"1) first", "A: reply"}, last.Input["recent_context"])
	identity := last.Input["agent_identity"].(map[string]any)
	assert.Equal(t, "B", identity["name"])
	assert.Equal(t, "Bell-keeper", identity["identity_text"])
	assert.Len(t, last.Input["structured_memory"], 1)
}

type recordingGenerator struct {
	mu   sync.Mutex
	reqs []generate.Request
}

func (g *recordingGenerator) Name() string { return "recording" }

func (g *recordingGenerator) Generate(_ context.Context, req generate.Request) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reqs = append(g.reqs, req)
	return "reply", nil
}

func (g *recordingGenerator) last() generate.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reqs[len(g.reqs)-1]
}

// Scenario C.
func TestEndChapterSummarizesOpenRange(t *testing.T) {
	f := newFixture(t, newStub(), nil)
	id := f.locked(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.engine.SubmitPrompt(ctx, id, 1, "turn")
		require.NoError(t, err)
	}

	d, err := f.engine.EndChapter(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StateEnded, d.Session.State)
	assert.Equal(t, 3, d.Session.LastSummarizedPromptIndex)

	require.Len(t, d.MemoryBlocks, 2)
	delta := d.MemoryBlocks[1]
	assert.Equal(t, model.BlockTurnDelta, delta.Type)
	assert.Equal(t, 1, delta.FromPromptIndex)
	assert.Equal(t, 3, delta.ToPromptIndex)

	last := d.Events[len(d.Events)-1]
	assert.Equal(t, model.RoleSystem, last.Role)

	seps := 0
	for i, l := range d.Transcript.Lines {
		if l.Role == transcript.RoleSeparator {
			seps++
			assert.Equal(t, "agent", d.Transcript.Lines[i-1].Role)
		}
	}
	assert.Equal(t, 1, seps)
}

func TestEndChapterEmptyRange(t *testing.T) {
	f := newFixture(t, newStub(), nil)
	id := f.locked(t)

	d, err := f.engine.EndChapter(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StateEnded, d.Session.State)
	assert.Len(t, d.MemoryBlocks, 1, "no turn_delta for an empty range")
}

func TestEndChapterSummaryFailureReturnsToActive(t *testing.T) {
	gen := newStub(model.PurposeTurnSummary)
	sum, _ := memory.NewSummarizer(memory.ModeGenerated, gen, generate.Models{})
	f := newFixture(t, gen, sum)
	id := f.locked(t)
	ctx := context.Background()

	_, err := f.engine.SubmitPrompt(ctx, id, 1, "turn")
	require.NoError(t, err)

	_, err = f.engine.EndChapter(ctx, id)
	assertCode(t, err, apperrors.ErrUpstream)

	d, _ := f.engine.Get(ctx, id)
	assert.Equal(t, model.StateActive, d.Session.State)
	assert.Equal(t, 0, d.Session.LastSummarizedPromptIndex)
	assert.Len(t, d.MemoryBlocks, 1)
}

func TestRollingSummary(t *testing.T) {
	f := newFixture(t, newStub(), nil, func(c *Config) { c.SummaryEveryPrompts = 2 })
	id := f.locked(t)
	ctx := context.Background()

	var d *model.Detail
	var err error
	for i := 0; i < 3; i++ {
		d, err = f.engine.SubmitPrompt(ctx, id, 1, "turn")
		require.NoError(t, err)
	}

	assert.Equal(t, model.StateActive, d.Session.State)
	assert.Equal(t, 2, d.Session.LastSummarizedPromptIndex)
	require.Len(t, d.MemoryBlocks, 2)
	assert.Equal(t, 1, d.MemoryBlocks[1].FromPromptIndex)
	assert.Equal(t, 2, d.MemoryBlocks[1].ToPromptIndex)

	d, err = f.engine.EndChapter(ctx, id)
	require.NoError(t, err)
	require.Len(t, d.MemoryBlocks, 3)
	assert.Equal(t, 3, d.MemoryBlocks[2].FromPromptIndex)
	assert.Equal(t, 3, d.MemoryBlocks[2].ToPromptIndex)
}

func TestRollingSummaryFailureDoesNotFailPrompt(t *testing.T) {
	gen := newStub(model.PurposeTurnSummary)
	sum, _ := memory.NewSummarizer(memory.ModeGenerated, gen, generate.Models{})
	f := newFixture(t, gen, sum, func(c *Config) { c.SummaryEveryPrompts = 1 })
	id := f.locked(t)

	d, err := f.engine.SubmitPrompt(context.Background(), id, 1, "turn")
	require.NoError(t, err)
	assert.Equal(t, model.StateActive, d.Session.State)
	assert.Equal(t, 0, d.Session.LastSummarizedPromptIndex)
	assert.Len(t, d.Events, 2)
}

// blockRejectingStore fails any commit that carries a turn_delta block.
type blockRejectingStore struct {
	*store.SQLiteStore
}

func (s blockRejectingStore) Apply(ctx context.Context, c *store.Change) error {
	for _, b := range c.Blocks {
		if b.Type == model.BlockTurnDelta {
			return errors.New("disk full")
		}
	}
	return s.SQLiteStore.Apply(ctx, c)
}

func TestRollingSummaryCommitFailureReturnsToActive(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := DefaultConfig()
	cfg.SummaryEveryPrompts = 1
	eng := New(blockRejectingStore{st}, newStub(), nil, cfg, nil)
	ctx := context.Background()

	d, err := eng.Create(ctx)
	require.NoError(t, err)
	id := d.Session.ID
	_, err = eng.Configure(ctx, id, twoAgents())
	require.NoError(t, err)
	_, err = eng.Lock(ctx, id)
	require.NoError(t, err)

	d, err = eng.SubmitPrompt(ctx, id, 1, "turn")
	require.NoError(t, err)
	assert.Equal(t, model.StateActive, d.Session.State)
	assert.Equal(t, 0, d.Session.LastSummarizedPromptIndex)

	stored, err := st.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StateActive, stored.State)

	_, err = eng.SubmitPrompt(ctx, id, 2, "next")
	require.NoError(t, err, "session must stay usable after a failed summary commit")
}

// Scenario D.
func TestBuildNarrativeRequiresEnded(t *testing.T) {
	f := newFixture(t, newStub(), nil)
	ctx := context.Background()
	d, _ := f.engine.Create(ctx)

	_, err := f.engine.BuildNarrative(ctx, d.Session.ID)
	assertCode(t, err, apperrors.ErrInvalidState)

	d, _ = f.engine.Get(ctx, d.Session.ID)
	assert.Empty(t, d.NarrativeDrafts)
}

func TestBuildNarrativeAppendsDrafts(t *testing.T) {
	f := newFixture(t, newStub(), nil)
	id := f.locked(t)
	ctx := context.Background()

	f.engine.SubmitPrompt(ctx, id, 1, "turn")
	_, err := f.engine.SaveNarrativeAgent(ctx, id, "Omniscient, past tense.")
	require.NoError(t, err)
	_, err = f.engine.EndChapter(ctx, id)
	require.NoError(t, err)

	d, err := f.engine.BuildNarrative(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StateEnded, d.Session.State)
	require.Len(t, d.NarrativeDrafts, 1)
	require.NotNil(t, d.CurrentDraft)
	assert.Equal(t, "Omniscient, past tense.", d.CurrentDraft.NarrativeAgentDefinition)
	assert.Equal(t, 1, d.CurrentDraft.SourceSnapshot.MaxPromptIndexUsed)
	assert.Len(t, d.CurrentDraft.SourceSnapshot.MemoryBlockIDsUsed, 2)

	d, err = f.engine.BuildNarrative(ctx, id)
	require.NoError(t, err)
	require.Len(t, d.NarrativeDrafts, 2)
	assert.Equal(t, d.NarrativeDrafts[1].ID, d.CurrentDraft.ID)
}

func TestBuildNarrativeFailure(t *testing.T) {
	f := newFixture(t, newStub(model.PurposeNarrative), nil)
	id := f.locked(t)
	ctx := context.Background()
	f.engine.EndChapter(ctx, id)

	_, err := f.engine.BuildNarrative(ctx, id)
	assertCode(t, err, apperrors.ErrUpstream)

	d, _ := f.engine.Get(ctx, id)
	assert.Equal(t, model.StateEnded, d.Session.State)
	assert.Empty(t, d.NarrativeDrafts)
}

func TestSaveNarrativeAgent(t *testing.T) {
	f := newFixture(t, newStub(), nil, func(c *Config) { c.Limits.TextMaxChars = 5 })
	ctx := context.Background()
	d, _ := f.engine.Create(ctx)

	_, err := f.engine.SaveNarrativeAgent(ctx, d.Session.ID, "early")
	assertCode(t, err, apperrors.ErrInvalidState)

	f.engine.Lock(ctx, d.Session.ID)
	d, err = f.engine.SaveNarrativeAgent(ctx, d.Session.ID, "truncated text")
	require.NoError(t, err)
	assert.Equal(t, "trunc", d.Session.NarrativeAgentDefinition)
	assert.Equal(t, model.StateActive, d.Session.State)
}

// Scenario E.
func TestResetFromAnyState(t *testing.T) {
	f := newFixture(t, newStub(), nil)
	ctx := context.Background()

	id := f.locked(t)
	f.engine.SubmitPrompt(ctx, id, 1, "turn")
	f.engine.SaveNarrativeAgent(ctx, id, "def")
	f.engine.EndChapter(ctx, id)
	f.engine.BuildNarrative(ctx, id)

	d, err := f.engine.Reset(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StateDraftTab1, d.Session.State)
	assert.Equal(t, 0, d.Session.PromptIndex)
	assert.Equal(t, 0, d.Session.LastSummarizedPromptIndex)
	assert.False(t, d.Session.Tab1Locked)
	assert.Empty(t, d.Session.NarrativeAgentDefinition)
	assert.Equal(t, model.EmptyConfig(), d.Session.Config)
	assert.Empty(t, d.Events)
	assert.Empty(t, d.MemoryBlocks)
	assert.Empty(t, d.NarrativeDrafts)
	assert.Nil(t, d.CurrentDraft)

	arts, _ := f.store.Artifacts(ctx, store.ArtifactParams{SessionID: id})
	assert.NotEmpty(t, arts, "artifacts are an audit trail and survive reset")

	// A reset session is reusable.
	_, err = f.engine.Configure(ctx, id, twoAgents())
	require.NoError(t, err)

	d, _ = f.engine.Create(ctx)
	d, err = f.engine.Reset(ctx, d.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateDraftTab1, d.Session.State)
}

func TestConcurrentPromptsSerialize(t *testing.T) {
	f := newFixture(t, newStub(), nil)
	id := f.locked(t)
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, err := f.engine.SubmitPrompt(ctx, id, slot, "go")
			errs <- err
		}(i%2 + 1)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	d, _ := f.engine.Get(ctx, id)
	assert.Equal(t, n, d.Session.PromptIndex)
	require.Len(t, d.Events, 2*n)
	for i := 0; i < n; i++ {
		user, agent := d.Events[2*i], d.Events[2*i+1]
		assert.Equal(t, i+1, user.PromptIndex)
		assert.Equal(t, model.RoleUser, user.Role)
		assert.Equal(t, i+1, agent.PromptIndex)
		assert.Equal(t, model.RoleAgent, agent.Role)
	}
	assert.Equal(t, 0, f.engine.locks.size())
}

func TestCallerCancellationDoesNotAbortOperation(t *testing.T) {
	f := newFixture(t, newStub(), nil)
	id := f.locked(t)

	ctx, cancel := context.WithCancel(context.Background())
	gen := &cancellingGenerator{cancel: cancel}
	f.engine.gen = gen

	_, err := f.engine.SubmitPrompt(ctx, id, 1, "hello")
	require.NoError(t, err)

	d, _ := f.engine.Get(context.Background(), id)
	assert.Len(t, d.Events, 2)
}

// cancellingGenerator cancels the caller mid-flight and then answers.
type cancellingGenerator struct {
	cancel context.CancelFunc
}

func (g *cancellingGenerator) Name() string { return "cancelling" }

func (g *cancellingGenerator) Generate(ctx context.Context, _ generate.Request) (string, error) {
	g.cancel()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "still here", nil
}

func TestRecoverTransientStates(t *testing.T) {
	f := newFixture(t, newStub(), nil)
	ctx := context.Background()

	stuck := map[model.State]model.State{
		model.StateLocking:     model.StateDraftTab1,
		model.StateSummarizing: model.StateActive,
		model.StateNarrating:   model.StateEnded,
		model.StateResetting:   model.StateDraftTab1,
	}
	ids := map[string]model.State{}
	for from, to := range stuck {
		var id string
		if from == model.StateLocking {
			d, err := f.engine.Create(ctx)
			require.NoError(t, err)
			id = d.Session.ID
		} else {
			id = f.locked(t)
		}
		sess, err := f.store.GetSession(ctx, id)
		require.NoError(t, err)
		sess.State = from
		require.NoError(t, f.store.Apply(ctx, &store.Change{Session: sess}))
		ids[id] = to
	}

	n, err := f.engine.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(stuck), n)

	for id, want := range ids {
		d, err := f.engine.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, d.Session.State)
		if want == model.StateDraftTab1 && d.Session.Tab1Locked {
			t.Errorf("session %s recovered to draft while locked", id)
		}
	}

	n, err = f.engine.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
