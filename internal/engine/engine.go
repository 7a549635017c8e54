// Package engine implements the session state machine. It is the only writer
// of session lifecycle transitions and of the three append-only logs.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/rcliao/story-engine/internal/errors"
	"github.com/rcliao/story-engine/internal/generate"
	"github.com/rcliao/story-engine/internal/logging"
	"github.com/rcliao/story-engine/internal/memory"
	"github.com/rcliao/story-engine/internal/model"
	"github.com/rcliao/story-engine/internal/store"
	"github.com/rcliao/story-engine/internal/transcript"
)

const defaultGenerationTimeout = 120 * time.Second

// Config tunes the engine.
type Config struct {
	Limits              model.Limits
	TranscriptBudget    int
	SummaryEveryPrompts int // <= 0 disables rolling summaries
	GenerationTimeout   time.Duration
	Models              generate.Models
}

// DefaultConfig returns the standard engine settings.
func DefaultConfig() Config {
	return Config{
		Limits:              model.DefaultLimits(),
		TranscriptBudget:    transcript.DefaultBudget,
		SummaryEveryPrompts: 7,
		GenerationTimeout:   defaultGenerationTimeout,
	}
}

// Engine drives session lifecycles.
type Engine struct {
	store      store.Store
	gen        generate.Generator
	summarizer memory.Summarizer
	cfg        Config
	logger     *zap.Logger
	locks      *keyedLocks
	now        func() time.Time
}

// New creates an engine. A nil summarizer selects deterministic summaries.
func New(st store.Store, gen generate.Generator, sum memory.Summarizer, cfg Config, logger *zap.Logger) *Engine {
	if sum == nil {
		sum = memory.Deterministic{}
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = defaultGenerationTimeout
	}
	if cfg.TranscriptBudget <= 0 {
		cfg.TranscriptBudget = transcript.DefaultBudget
	}
	return &Engine{
		store:      st,
		gen:        gen,
		summarizer: sum,
		cfg:        cfg,
		logger:     logging.OrNop(logger),
		locks:      newKeyedLocks(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Create starts a new session in DRAFT_TAB1.
func (e *Engine) Create(ctx context.Context) (*model.Detail, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("new session id: %w", err)
	}
	sess := &model.Session{
		ID:     id.String(),
		State:  model.StateDraftTab1,
		Config: model.EmptyConfig(),
	}
	if err := e.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	e.logger.Info("session created", zap.String("session_id", sess.ID))
	return e.detail(ctx, sess.ID)
}

// Get returns the full session view. Reads never wait on in-flight mutations.
func (e *Engine) Get(ctx context.Context, id string) (*model.Detail, error) {
	return e.detail(ctx, id)
}

// Configure replaces the Tab1 configuration of an unlocked session.
func (e *Engine) Configure(ctx context.Context, id string, cfg model.Config) (*model.Detail, error) {
	return e.mutate(ctx, id, func(ctx context.Context, sess *model.Session) error {
		if sess.Tab1Locked || sess.State != model.StateDraftTab1 {
			return invalidState(sess, "configure")
		}
		norm, err := model.NormalizeConfig(cfg, e.cfg.Limits)
		if err != nil {
			return err
		}
		sess.Config = norm
		return e.apply(ctx, sess, sess.State, &store.Change{})
	})
}

// Lock freezes the configuration and opens the chapter.
func (e *Engine) Lock(ctx context.Context, id string) (*model.Detail, error) {
	return e.mutate(ctx, id, func(ctx context.Context, sess *model.Session) error {
		if sess.Tab1Locked || sess.State != model.StateDraftTab1 {
			return invalidState(sess, "lock")
		}
		if err := e.transition(ctx, sess, model.StateLocking); err != nil {
			return err
		}

		gctx, cancel := e.generationContext(ctx)
		summary, art, err := e.summarizer.SummarizeLock(gctx, sess.ID, sess.Config)
		cancel()
		if err != nil {
			return e.rollback(ctx, sess, model.StateDraftTab1, "lock summary failed", err)
		}

		block := memory.LockBlock(sess.ID, sess.Config, summary, e.now())
		sess.Tab1Locked = true
		sess.PromptIndex = 0
		sess.LastSummarizedPromptIndex = 0
		sess.State = model.StateActive
		return e.apply(ctx, sess, model.StateLocking, &store.Change{
			Blocks:    []model.MemoryBlock{block},
			Artifacts: artifacts(art),
		})
	})
}

// SubmitPrompt records a user turn for slot and the agent's reply.
func (e *Engine) SubmitPrompt(ctx context.Context, id string, slot int, text string) (*model.Detail, error) {
	return e.mutate(ctx, id, func(ctx context.Context, sess *model.Session) error {
		if sess.State != model.StateActive {
			return invalidState(sess, "submitPrompt")
		}
		if !sess.Config.HasSlot(slot) {
			return apperrors.WithMetadata(apperrors.CodeValidation,
				fmt.Sprintf("agent slot %d is not selected", slot),
				map[string]string{"session_id": sess.ID})
		}
		if isBlank(text) {
			return apperrors.New(apperrors.CodeValidation, "user_text must not be empty")
		}

		history, err := e.store.Events(ctx, sess.ID)
		if err != nil {
			return err
		}
		blocks, err := e.store.MemoryBlocks(ctx, sess.ID)
		if err != nil {
			return err
		}

		sess.PromptIndex++
		user := model.Event{PromptIndex: sess.PromptIndex, Role: model.RoleUser, Text: text, CreatedAt: e.now()}
		if err := e.apply(ctx, sess, sess.State, &store.Change{Events: []model.Event{user}}); err != nil {
			return err
		}

		input := e.characterInput(sess, slot, text, history, blocks)
		gctx, cancel := e.generationContext(ctx)
		reply, art, err := generate.Call(gctx, e.gen, generate.Request{
			SessionID: sess.ID,
			Purpose:   model.PurposeCharacter,
			Model:     e.cfg.Models.For(model.PurposeCharacter),
			Input:     input,
		})
		cancel()
		if err != nil {
			e.logger.Warn("agent reply failed",
				zap.String("session_id", sess.ID),
				zap.Int("prompt_index", sess.PromptIndex),
				zap.Int("agent_slot", slot),
				zap.Error(err))
			return apperrors.Wrap(apperrors.CodeUpstream, "agent reply failed", err)
		}

		agentSlot := slot
		agent := model.Event{
			PromptIndex: sess.PromptIndex,
			Role:        model.RoleAgent,
			AgentSlot:   &agentSlot,
			Text:        reply,
			CreatedAt:   e.now(),
		}
		if err := e.apply(ctx, sess, sess.State, &store.Change{
			Events:    []model.Event{agent},
			Artifacts: artifacts(art),
		}); err != nil {
			return err
		}

		if every := e.cfg.SummaryEveryPrompts; every > 0 && sess.PromptIndex%every == 0 {
			events := append(history, user, agent)
			e.rollingSummary(ctx, sess, events)
		}
		return nil
	})
}

// rollingSummary condenses the open range while the chapter stays active.
// Failure is logged and leaves the pointer in place for the next attempt.
func (e *Engine) rollingSummary(ctx context.Context, sess *model.Session, events []model.Event) {
	from, to := sess.LastSummarizedPromptIndex+1, sess.PromptIndex
	if from > to {
		return
	}
	if err := e.transition(ctx, sess, model.StateSummarizing); err != nil {
		e.logger.Warn("rolling summary skipped", zap.String("session_id", sess.ID), zap.Error(err))
		return
	}

	gctx, cancel := e.generationContext(ctx)
	summary, art, err := e.summarizer.SummarizeTurns(gctx, sess.ID, from, to, events)
	cancel()
	if err != nil {
		e.rollback(ctx, sess, model.StateActive, "rolling summary failed", err)
		return
	}

	block, _ := memory.DeltaBlock(sess.ID, from, to, events, summary, e.now())
	prev := sess.LastSummarizedPromptIndex
	sess.LastSummarizedPromptIndex = to
	sess.State = model.StateActive
	if err := e.apply(ctx, sess, model.StateSummarizing, &store.Change{
		Blocks:    []model.MemoryBlock{block},
		Artifacts: artifacts(art),
	}); err != nil {
		// The row still reads SUMMARIZING at the old pointer.
		sess.LastSummarizedPromptIndex = prev
		sess.State = model.StateSummarizing
		e.rollback(ctx, sess, model.StateActive, "rolling summary commit failed", err)
	}
}

// EndChapter closes the open range into a turn_delta block and ends the chapter.
func (e *Engine) EndChapter(ctx context.Context, id string) (*model.Detail, error) {
	return e.mutate(ctx, id, func(ctx context.Context, sess *model.Session) error {
		if sess.State != model.StateActive {
			return invalidState(sess, "endChapter")
		}
		events, err := e.store.Events(ctx, sess.ID)
		if err != nil {
			return err
		}
		if err := e.transition(ctx, sess, model.StateSummarizing); err != nil {
			return err
		}

		change := &store.Change{}
		from, to := sess.LastSummarizedPromptIndex+1, sess.PromptIndex
		if from <= to {
			gctx, cancel := e.generationContext(ctx)
			summary, art, err := e.summarizer.SummarizeTurns(gctx, sess.ID, from, to, events)
			cancel()
			if err != nil {
				return e.rollback(ctx, sess, model.StateActive, "chapter summary failed", err)
			}
			block, _ := memory.DeltaBlock(sess.ID, from, to, events, summary, e.now())
			change.Blocks = []model.MemoryBlock{block}
			change.Artifacts = artifacts(art)
		}

		change.Events = []model.Event{{
			PromptIndex: sess.PromptIndex,
			Role:        model.RoleSystem,
			Text:        fmt.Sprintf("Chapter ended after prompt %d.", sess.PromptIndex),
			CreatedAt:   e.now(),
		}}
		sess.LastSummarizedPromptIndex = sess.PromptIndex
		sess.State = model.StateEnded
		return e.apply(ctx, sess, model.StateSummarizing, change)
	})
}

// SaveNarrativeAgent stores the narrative agent definition.
func (e *Engine) SaveNarrativeAgent(ctx context.Context, id, text string) (*model.Detail, error) {
	return e.mutate(ctx, id, func(ctx context.Context, sess *model.Session) error {
		if !sess.Tab1Locked {
			return invalidState(sess, "saveNarrativeAgent")
		}
		sess.NarrativeAgentDefinition = model.Truncate(text, e.cfg.Limits.TextMaxChars)
		return e.apply(ctx, sess, sess.State, &store.Change{})
	})
}

// BuildNarrative renders the chapter into a new narrative draft.
func (e *Engine) BuildNarrative(ctx context.Context, id string) (*model.Detail, error) {
	return e.mutate(ctx, id, func(ctx context.Context, sess *model.Session) error {
		if sess.State != model.StateEnded {
			return invalidState(sess, "buildNarrative")
		}
		events, err := e.store.Events(ctx, sess.ID)
		if err != nil {
			return err
		}
		blocks, err := e.store.MemoryBlocks(ctx, sess.ID)
		if err != nil {
			return err
		}
		if err := e.transition(ctx, sess, model.StateNarrating); err != nil {
			return err
		}

		gctx, cancel := e.generationContext(ctx)
		text, art, err := generate.Call(gctx, e.gen, generate.Request{
			SessionID: sess.ID,
			Purpose:   model.PurposeNarrative,
			Model:     e.cfg.Models.For(model.PurposeNarrative),
			Input:     narrativeInput(sess, events, blocks),
		})
		cancel()
		if err != nil {
			return e.rollback(ctx, sess, model.StateEnded, "narrative build failed", err)
		}

		ids := make([]string, len(blocks))
		for i, b := range blocks {
			ids[i] = b.ID
		}
		draft := model.NarrativeDraft{
			ChapterText:              text,
			NarrativeAgentDefinition: sess.NarrativeAgentDefinition,
			SourceSnapshot: model.SourceSnapshot{
				MaxPromptIndexUsed: sess.PromptIndex,
				MemoryBlockIDsUsed: ids,
			},
			CreatedAt: e.now(),
		}
		sess.State = model.StateEnded
		return e.apply(ctx, sess, model.StateNarrating, &store.Change{
			Drafts:    []model.NarrativeDraft{draft},
			Artifacts: artifacts(art),
		})
	})
}

// Reset discards the session's logs and configuration. Callers confirm first.
func (e *Engine) Reset(ctx context.Context, id string) (*model.Detail, error) {
	return e.mutate(ctx, id, func(ctx context.Context, sess *model.Session) error {
		if err := e.transition(ctx, sess, model.StateResetting); err != nil {
			return err
		}
		return e.completeReset(ctx, sess)
	})
}

func (e *Engine) completeReset(ctx context.Context, sess *model.Session) error {
	sess.State = model.StateDraftTab1
	sess.PromptIndex = 0
	sess.LastSummarizedPromptIndex = 0
	sess.Tab1Locked = false
	sess.NarrativeAgentDefinition = ""
	sess.Config = model.EmptyConfig()
	return e.apply(ctx, sess, model.StateResetting, &store.Change{Purge: true})
}

// mutate runs fn under the session's exclusive section. Acquisition honours
// ctx; once acquired, fn runs to completion even if the caller goes away.
func (e *Engine) mutate(ctx context.Context, id string, fn func(context.Context, *model.Session) error) (*model.Detail, error) {
	release, err := e.locks.acquire(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("wait for session %s: %w", id, err)
	}
	defer release()

	opCtx := context.WithoutCancel(ctx)
	sess, err := e.store.GetSession(opCtx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(opCtx, sess); err != nil {
		return nil, err
	}
	return e.detail(opCtx, id)
}

// transition persists a transient state before any external call.
func (e *Engine) transition(ctx context.Context, sess *model.Session, to model.State) error {
	from := sess.State
	sess.State = to
	return e.apply(ctx, sess, from, &store.Change{})
}

// rollback returns sess to a stable state after an upstream failure and
// reports the failure as UPSTREAM_ERROR.
func (e *Engine) rollback(ctx context.Context, sess *model.Session, to model.State, msg string, cause error) error {
	e.logger.Warn(msg,
		zap.String("session_id", sess.ID),
		zap.String("state", string(sess.State)),
		zap.Error(cause))
	from := sess.State
	sess.State = to
	if err := e.apply(ctx, sess, from, &store.Change{}); err != nil {
		e.logger.Error("rollback failed; session left for recovery",
			zap.String("session_id", sess.ID),
			zap.String("state", string(from)),
			zap.Error(err))
	}
	return apperrors.Wrap(apperrors.CodeUpstream, msg, cause)
}

func (e *Engine) apply(ctx context.Context, sess *model.Session, from model.State, c *store.Change) error {
	c.Session = sess
	if err := e.store.Apply(ctx, c); err != nil {
		return err
	}
	if from != sess.State {
		e.logger.Info("session transition",
			zap.String("session_id", sess.ID),
			zap.String("from", string(from)),
			zap.String("to", string(sess.State)),
			zap.Int("prompt_index", sess.PromptIndex))
	}
	return nil
}

func (e *Engine) generationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.GenerationTimeout)
}

func (e *Engine) detail(ctx context.Context, id string) (*model.Detail, error) {
	sess, err := e.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	events, err := e.store.Events(ctx, id)
	if err != nil {
		return nil, err
	}
	blocks, err := e.store.MemoryBlocks(ctx, id)
	if err != nil {
		return nil, err
	}
	drafts, err := e.store.NarrativeDrafts(ctx, id)
	if err != nil {
		return nil, err
	}

	d := &model.Detail{
		Session:         *sess,
		Events:          events,
		MemoryBlocks:    blocks,
		NarrativeDrafts: drafts,
		Transcript:      e.transcript(sess, events),
	}
	if n := len(drafts); n > 0 {
		current := drafts[n-1]
		d.CurrentDraft = &current
	}
	return d, nil
}

func (e *Engine) transcript(sess *model.Session, events []model.Event) model.Transcript {
	return transcript.Assemble(events, transcript.Options{
		LastSummarizedPromptIndex: sess.LastSummarizedPromptIndex,
		AgentNames:                sess.Config.AgentNames,
		Budget:                    e.cfg.TranscriptBudget,
	})
}

func invalidState(sess *model.Session, op string) error {
	return apperrors.WithMetadata(apperrors.CodeInvalidState,
		fmt.Sprintf("%s is not allowed in state %s", op, sess.State),
		map[string]string{"session_id": sess.ID, "state": string(sess.State)})
}

func artifacts(a *model.Artifact) []model.Artifact {
	if a == nil {
		return nil
	}
	return []model.Artifact{*a}
}
