// Package expertkb wires the knowledge store, the chaining engine, the
// explainer and the chat front door into one System.
package expertkb

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/cognicore/expertkb/pkg/expertkb/chat"
	"github.com/cognicore/expertkb/pkg/expertkb/config"
	"github.com/cognicore/expertkb/pkg/expertkb/explain"
	"github.com/cognicore/expertkb/pkg/expertkb/inference"
	"github.com/cognicore/expertkb/pkg/expertkb/inference/chaining"
	"github.com/cognicore/expertkb/pkg/expertkb/internalerr"
	"github.com/cognicore/expertkb/pkg/expertkb/match"
	"github.com/cognicore/expertkb/pkg/expertkb/store"
	"github.com/cognicore/expertkb/pkg/expertkb/store/memstore"
)

// System is the main reasoning facade
type System struct {
	store     store.Store
	engine    *chaining.Engine
	explainer *explain.Explainer
	chat      *chat.Interface
	archive   store.Archive
	log       *zap.Logger

	mu      sync.Mutex
	session Session
}

// Options configures a System. Zero values select the defaults.
type Options struct {
	Config  *config.Config // nil means config.Default()
	Store   store.Store    // nil means a fresh in-memory store
	Archive store.Archive  // optional; snapshot calls fail without one
	Logger  *zap.Logger
	Clock   func() time.Time
}

// Session describes the running session in an exported State.
type Session struct {
	ID         string    `json:"id"`
	StartTime  time.Time `json:"startTime"`
	Operations int       `json:"operations"`
}

// State is the full exported form of a System: the store snapshot plus the
// chat history and session. A plain store snapshot decodes into a State.
type State struct {
	Rules       []store.Rule   `json:"rules"`
	Facts       []store.Fact   `json:"facts"`
	ChatHistory []chat.Message `json:"chatHistory"`
	Session     Session        `json:"currentSession"`
}

// Counts summarises the knowledge held by a System
type Counts struct {
	Rules       int
	ActiveRules int
	Facts       int
	Messages    int
}

// New creates a System with the given dependencies
func New(opts Options) (*System, error) {
	cfg := config.Default()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mode, err := cfg.MatchMode()
	if err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	m := match.New(mode)

	st := opts.Store
	if st == nil {
		st = memstore.New(memstore.WithMatcher(m), memstore.WithLogger(log.Named("store")), memstore.WithClock(now))
	}

	engine := chaining.New(st, chaining.Options{
		MaxIterations: cfg.Engine.MaxIterations,
		HistoryLimit:  cfg.Engine.HistoryLimit,
		Matcher:       m,
		Logger:        log.Named("engine"),
	})
	explainer := explain.New(st, explain.Options{
		MaxDepth: cfg.Explain.MaxDepth,
		Matcher:  m,
		Logger:   log.Named("explain"),
	})

	s := &System{
		store:     st,
		engine:    engine,
		explainer: explainer,
		chat: chat.New(st, engine, explainer, chat.Options{
			Logger:       log.Named("chat"),
			HistoryLimit: cfg.Chat.HistoryLimit,
			Clock:        now,
		}),
		archive: opts.Archive,
		log:     log,
	}
	start := now()
	s.session = Session{
		ID:        ulid.MustNew(ulid.Timestamp(start), ulid.Monotonic(rand.Reader, 0)).String(),
		StartTime: start,
	}
	return s, nil
}

// Close releases the archive, if any.
func (s *System) Close() error {
	if s.archive == nil {
		return nil
	}
	return s.archive.Close()
}

// Store returns the knowledge store.
func (s *System) Store() store.Store { return s.store }

// Engine returns the chaining engine.
func (s *System) Engine() *chaining.Engine { return s.engine }

func (s *System) Explainer() *explain.Explainer { return s.explainer }

func (s *System) Chat() *chat.Interface { return s.chat }

// Session returns the current session.
func (s *System) Session() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func (s *System) operation() {
	s.mu.Lock()
	s.session.Operations++
	s.mu.Unlock()
}

// AddRule adds a rule to the store.
func (s *System) AddRule(condition, conclusion string, opts store.RuleOptions) (string, error) {
	s.operation()
	return s.store.AddRule(condition, conclusion, opts)
}

// AddFact adds or updates a fact in the store.
func (s *System) AddFact(name string, value store.Value, opts store.FactOptions) (string, error) {
	s.operation()
	return s.store.AddFact(name, value, opts)
}

// Seed applies a knowledge seed file to the store.
func (s *System) Seed(k *config.Knowledge) (rules, facts int, err error) {
	s.operation()
	rules, facts, err = k.Apply(s.store)
	s.log.Debug("knowledge seeded", zap.Int("rules", rules), zap.Int("facts", facts), zap.Error(err))
	return rules, facts, err
}

// Forward runs forward chaining over the store and persists derived facts.
func (s *System) Forward() inference.ForwardResult {
	s.operation()
	return s.engine.Forward(nil)
}

// Prove runs backward chaining for goal over the store's facts.
func (s *System) Prove(goal string) inference.BackwardResult {
	s.operation()
	return s.engine.Backward(goal, nil)
}

// Query answers a yes/no question.
func (s *System) Query(question string) inference.QueryResult {
	s.operation()
	return s.engine.Query(question)
}

// Why explains why target holds or does not hold.
func (s *System) Why(target string) explain.WhyExplanation {
	s.operation()
	return s.explainer.Why(target)
}

// How lists the strategies for reaching goal.
func (s *System) How(goal string) explain.HowExplanation {
	s.operation()
	return s.explainer.How(goal)
}

// Ask passes a chat message to the natural-language front door.
func (s *System) Ask(message string) chat.Message {
	s.operation()
	return s.chat.Process(message)
}

// Counts returns the current rule, fact and message totals.
func (s *System) Counts() Counts {
	return Counts{
		Rules:       len(s.store.GetAllRules()),
		ActiveRules: len(s.store.GetActiveRules()),
		Facts:       len(s.store.GetAllFacts()),
		Messages:    len(s.chat.History()),
	}
}

// === State ===

// ExportState returns the full state of the system.
func (s *System) ExportState() State {
	snap := s.store.Export()
	return State{
		Rules:       snap.Rules,
		Facts:       snap.Facts,
		ChatHistory: s.chat.History(),
		Session:     s.Session(),
	}
}

// ImportState replaces rules, facts and chat history. When the store
// rejects the snapshot nothing changes. The session id and operation count
// are adopted when present.
func (s *System) ImportState(st State) error {
	if err := s.store.Import(store.Snapshot{Rules: st.Rules, Facts: st.Facts}); err != nil {
		s.log.Warn("state import rejected", zap.Error(err))
		return err
	}
	s.chat.SetHistory(st.ChatHistory)
	s.engine.ClearHistory()

	s.mu.Lock()
	if st.Session.ID != "" {
		s.session = st.Session
	}
	s.mu.Unlock()
	return nil
}

// Clear removes all rules, facts, chat messages and engine history.
func (s *System) Clear() {
	s.store.Clear()
	s.chat.ClearHistory()
	s.engine.ClearHistory()
}

// WriteState encodes the state as indented JSON.
func (s *System) WriteState(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s.ExportState())
}

// ReadState decodes a JSON state and imports it.
func (s *System) ReadState(r io.Reader) error {
	var st State
	if err := json.NewDecoder(r).Decode(&st); err != nil {
		return fmt.Errorf("%w: decode state: %v", internalerr.ErrInvalidInput, err)
	}
	return s.ImportState(st)
}

// === Snapshots ===

func (s *System) requireArchive() error {
	if s.archive == nil {
		return fmt.Errorf("%w: no snapshot archive configured", internalerr.ErrStoreUnavailable)
	}
	return nil
}

// SaveSnapshot stores the current state in the archive under name.
func (s *System) SaveSnapshot(ctx context.Context, name string) error {
	if err := s.requireArchive(); err != nil {
		return err
	}
	data, err := json.Marshal(s.ExportState())
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := s.archive.SaveSnapshot(ctx, name, data); err != nil {
		return err
	}
	s.log.Debug("snapshot saved", zap.String("name", name), zap.Int("bytes", len(data)))
	return nil
}

// LoadSnapshot replaces the current state with the named snapshot. It
// returns false when no such snapshot exists.
func (s *System) LoadSnapshot(ctx context.Context, name string) (bool, error) {
	if err := s.requireArchive(); err != nil {
		return false, err
	}
	data, ok, err := s.archive.LoadSnapshot(ctx, name)
	if err != nil || !ok {
		return false, err
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return false, fmt.Errorf("%w: snapshot %q: %v", internalerr.ErrInvalidInput, name, err)
	}
	if err := s.ImportState(st); err != nil {
		return false, fmt.Errorf("snapshot %q: %w", name, err)
	}
	return true, nil
}

// ListSnapshots lists archived snapshots, most recent first.
func (s *System) ListSnapshots(ctx context.Context) ([]store.SnapshotInfo, error) {
	if err := s.requireArchive(); err != nil {
		return nil, err
	}
	return s.archive.ListSnapshots(ctx)
}

// DeleteSnapshot removes a snapshot from the archive.
func (s *System) DeleteSnapshot(ctx context.Context, name string) (bool, error) {
	if err := s.requireArchive(); err != nil {
		return false, err
	}
	return s.archive.DeleteSnapshot(ctx, name)
}
