package expertkb

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/expertkb/pkg/expertkb/config"
	"github.com/cognicore/expertkb/pkg/expertkb/internalerr"
	"github.com/cognicore/expertkb/pkg/expertkb/store"
	"github.com/cognicore/expertkb/pkg/expertkb/store/sqlite"
)

func fixedClock() time.Time {
	return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
}

func newSystem(t *testing.T, archive store.Archive) *System {
	t.Helper()
	s, err := New(Options{Archive: archive, Clock: fixedClock})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// seed loads the driving scenario: an adult with a licence may drive.
func seed(t *testing.T, s *System) {
	t.Helper()
	_, err := s.AddRule("idade >= 18", "maior_de_idade", store.RuleOptions{Name: "Maioridade"})
	require.NoError(t, err)
	_, err = s.AddRule("maior_de_idade e possui cnh", "pode dirigir", store.RuleOptions{})
	require.NoError(t, err)
	_, err = s.AddFact("idade", store.Number(25), store.FactOptions{})
	require.NoError(t, err)
	_, err = s.AddFact("possui cnh", store.Bool(true), store.FactOptions{})
	require.NoError(t, err)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.MaxIterations = 0
	_, err := New(Options{Config: &cfg})
	assert.ErrorIs(t, err, internalerr.ErrInvalidConfig)

	cfg = config.Default()
	cfg.Match.Mode = "fuzzy"
	_, err = New(Options{Config: &cfg})
	assert.ErrorIs(t, err, internalerr.ErrInvalidConfig)
}

func TestSessionID(t *testing.T) {
	s := newSystem(t, nil)
	sess := s.Session()
	id, err := ulid.ParseStrict(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, ulid.Timestamp(fixedClock()), id.Time())
	assert.True(t, sess.StartTime.Equal(fixedClock()))
	assert.Zero(t, sess.Operations)
}

func TestReasoningThroughFacade(t *testing.T) {
	s := newSystem(t, nil)
	seed(t, s)

	fwd := s.Forward()
	require.True(t, fwd.Success)
	assert.Equal(t, []string{"maior_de_idade", "pode dirigir"}, fwd.DerivedFacts)

	bwd := s.Prove("pode dirigir")
	assert.True(t, bwd.Success)

	why := s.Why("pode dirigir")
	assert.True(t, why.Found)

	how := s.How("pode dirigir")
	require.NotEmpty(t, how.Strategies)
	assert.True(t, how.Strategies[0].Feasible)

	q := s.Query("pode dirigir?")
	assert.True(t, q.Answer)

	assert.Equal(t, Counts{Rules: 2, ActiveRules: 2, Facts: 4}, s.Counts())
	assert.Equal(t, 9, s.Session().Operations)
	assert.NotEmpty(t, s.Engine().History())
}

func TestAskUsesSharedStore(t *testing.T) {
	s := newSystem(t, nil)

	reply := s.Ask("SE chove ENTÃO leve guarda-chuva")
	require.Empty(t, reply.Error)
	reply = s.Ask("chove = sim")
	require.Empty(t, reply.Error)

	fwd := s.Forward()
	assert.Equal(t, []string{"leve guarda-chuva"}, fwd.DerivedFacts)
	assert.Equal(t, 4, s.Counts().Messages)
}

func TestSeedFromKnowledge(t *testing.T) {
	k, err := config.ParseKnowledge([]byte(`
rules:
  - condition: penas
    conclusion: ave
facts:
  - name: penas
`))
	require.NoError(t, err)

	s := newSystem(t, nil)
	rules, facts, err := s.Seed(k)
	require.NoError(t, err)
	assert.Equal(t, 1, rules)
	assert.Equal(t, 1, facts)
	assert.True(t, s.Prove("ave").Success)
}

func TestStateRoundTrip(t *testing.T) {
	src := newSystem(t, nil)
	seed(t, src)
	src.Forward()
	src.Ask("listar fatos")

	var buf bytes.Buffer
	require.NoError(t, src.WriteState(&buf))

	dst := newSystem(t, nil)
	require.NoError(t, dst.ReadState(&buf))

	if diff := cmp.Diff(src.ExportState(), dst.ExportState()); diff != "" {
		t.Errorf("state mismatch (-src +dst):\n%s", diff)
	}

	id, err := dst.AddRule("x", "y", store.RuleOptions{})
	require.NoError(t, err)
	assert.Equal(t, "rule_3", id)
}

func TestReadStateAcceptsPlainSnapshot(t *testing.T) {
	doc := `{
	  "rules": [{"id": "rule_7", "condition": "chove", "conclusion": "chao molhado"}],
	  "facts": [{"id": "fact_2", "name": "Chove", "value": true}]
	}`
	s := newSystem(t, nil)
	before := s.Session()
	require.NoError(t, s.ReadState(strings.NewReader(doc)))

	r, ok := s.Store().GetRuleByID("rule_7")
	require.True(t, ok)
	assert.Equal(t, 1.0, r.Confidence)
	assert.True(t, r.Active)
	assert.Equal(t, before.ID, s.Session().ID)

	id, err := s.AddRule("granizo", "gelo", store.RuleOptions{})
	require.NoError(t, err)
	assert.Equal(t, "rule_8", id)
	assert.Equal(t, []string{"chao molhado"}, s.Forward().DerivedFacts)
}

func TestImportStateRejectsInvalid(t *testing.T) {
	s := newSystem(t, nil)
	seed(t, s)
	s.Ask("ajuda")

	err := s.ImportState(State{Facts: []store.Fact{
		{ID: "fact_1", Name: "a", Value: store.Bool(true), Confidence: 1},
		{ID: "fact_1", Name: "b", Value: store.Bool(true), Confidence: 1},
	}})
	assert.ErrorIs(t, err, internalerr.ErrDuplicate)
	assert.Equal(t, Counts{Rules: 2, ActiveRules: 2, Facts: 2, Messages: 2}, s.Counts())

	err = s.ReadState(strings.NewReader("{not json"))
	assert.ErrorIs(t, err, internalerr.ErrInvalidInput)
}

func TestClear(t *testing.T) {
	s := newSystem(t, nil)
	seed(t, s)
	s.Forward()
	s.Ask("ajuda")

	s.Clear()
	assert.Equal(t, Counts{}, s.Counts())
	assert.Empty(t, s.Engine().History())
}

func TestSnapshotsRequireArchive(t *testing.T) {
	s := newSystem(t, nil)
	ctx := context.Background()

	assert.ErrorIs(t, s.SaveSnapshot(ctx, "x"), internalerr.ErrStoreUnavailable)
	_, err := s.LoadSnapshot(ctx, "x")
	assert.ErrorIs(t, err, internalerr.ErrStoreUnavailable)
	_, err = s.ListSnapshots(ctx)
	assert.ErrorIs(t, err, internalerr.ErrStoreUnavailable)
	_, err = s.DeleteSnapshot(ctx, "x")
	assert.ErrorIs(t, err, internalerr.ErrStoreUnavailable)
}

func TestSnapshotArchiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	archive, err := sqlite.OpenSQLite(ctx, filepath.Join(t.TempDir(), "kb.db"))
	require.NoError(t, err)

	s := newSystem(t, archive)
	seed(t, s)
	want := s.ExportState()
	require.NoError(t, s.SaveSnapshot(ctx, "base"))

	s.Clear()
	require.Equal(t, Counts{}, s.Counts())

	ok, err := s.LoadSnapshot(ctx, "base")
	require.NoError(t, err)
	require.True(t, ok)
	if diff := cmp.Diff(want, s.ExportState()); diff != "" {
		t.Errorf("restored state mismatch (-want +got):\n%s", diff)
	}

	ok, err = s.LoadSnapshot(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	infos, err := s.ListSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "base", infos[0].Name)
	assert.Positive(t, infos[0].Size)

	deleted, err := s.DeleteSnapshot(ctx, "base")
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestLoadSnapshotRejectsCorruptBlob(t *testing.T) {
	ctx := context.Background()
	archive, err := sqlite.OpenSQLite(ctx, filepath.Join(t.TempDir(), "kb.db"))
	require.NoError(t, err)
	require.NoError(t, archive.SaveSnapshot(ctx, "bad", []byte("not json")))

	s := newSystem(t, archive)
	seed(t, s)

	ok, err := s.LoadSnapshot(ctx, "bad")
	assert.ErrorIs(t, err, internalerr.ErrInvalidInput)
	assert.False(t, ok)
	assert.Equal(t, 2, s.Counts().Rules)
}
