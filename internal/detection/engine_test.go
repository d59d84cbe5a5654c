package detection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/good-yellow-bee/toolwatch/internal/models"
	"github.com/good-yellow-bee/toolwatch/internal/storage"
)

func newTestEngine(t *testing.T, store *storage.SQLiteStorage, rules []*Rule, mutate func(*EngineOptions)) (*Engine, *clock) {
	t.Helper()
	reg, err := NewRegistry(rules)
	require.NoError(t, err)
	c := &clock{now: testNow}
	opts := DefaultEngineOptions()
	opts.Now = c.Now
	if mutate != nil {
		mutate(opts)
	}
	tracker := NewCooldownTracker(&CooldownOptions{Store: store.Cooldowns(), Now: c.Now})
	return NewEngine(reg, store.Executions(), store.Improvements(), tracker, opts), c
}

// alwaysRule fires on every execution and has no cooldown.
func alwaysRule(id string) *Rule {
	return &Rule{
		ID:        id,
		Name:      "Always",
		Type:      models.ImprovementFeature,
		Severity:  models.SeverityLow,
		Scope:     models.ScopeTool,
		Enabled:   true,
		Condition: func(in *Input) Result { return Result{Triggered: true} },
	}
}

func leakyExecution(project string, ago time.Duration) *models.Execution {
	e := execAt(models.ToolDeploy, project, models.StatusFailure, ago)
	e.ErrorMessage = "login failed: password=SuperSecret12345"
	return e
}

func insertAll(t *testing.T, store *storage.SQLiteStorage, execs ...*models.Execution) {
	t.Helper()
	for _, e := range execs {
		require.NoError(t, store.Executions().Insert(context.Background(), e))
	}
}

func ruleIDs(triggers []*Triggered) []string {
	ids := make([]string, 0, len(triggers))
	for _, tr := range triggers {
		ids = append(ids, tr.RuleID)
	}
	return ids
}

func TestEvaluate_SecretWithCooldown(t *testing.T) {
	store := newTestStore(t)
	engine, c := newTestEngine(t, store, BuiltinRules(), nil)
	ctx := context.Background()

	first := leakyExecution("api", 0)
	triggers, err := engine.Evaluate(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, []string{"SEC-001"}, ruleIDs(triggers), "only SEC-001 needs no history")

	tr := triggers[0]
	assert.Equal(t, models.SeverityUrgent, tr.Severity)
	assert.Equal(t, models.DetectionRule, tr.Method)
	assert.Equal(t, 0.9, tr.Confidence)
	assert.Equal(t, []models.Tool{models.ToolDeploy}, tr.Tools)
	assert.Equal(t, first.ID, tr.ExecutionID)
	assert.Contains(t, tr.DetectionContext(), "[rule:SEC-001]")

	c.now = testNow.Add(10 * time.Minute)
	triggers, err = engine.Evaluate(ctx, leakyExecution("api", -10*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, triggers, "cooldown holds for the same tool and project")

	triggers, err = engine.Evaluate(ctx, leakyExecution("web", -10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"SEC-001"}, ruleIDs(triggers), "other projects are not in cooldown")
}

func TestEvaluate_UsesPriorHistoryOnly(t *testing.T) {
	store := newTestStore(t)
	engine, _ := newTestEngine(t, store, BuiltinRules(), nil)
	ctx := context.Background()

	var history []*models.Execution
	for i := 1; i <= 5; i++ {
		history = append(history, execAt(models.ToolTest, "api", models.StatusSuccess, time.Duration(i)*time.Hour))
	}
	later := execAt(models.ToolTest, "api", models.StatusSuccess, -time.Hour)
	later.DurationMs = 100000
	insertAll(t, store, append(history, later)...)

	cur := execAt(models.ToolTest, "api", models.StatusSuccess, 0)
	cur.DurationMs = 5000
	insertAll(t, store, cur)

	triggers, err := engine.Evaluate(ctx, cur)
	require.NoError(t, err)
	assert.Contains(t, ruleIDs(triggers), "PERF-002", "the later slow run is not part of the baseline")
}

func TestEvaluate_MinHistory(t *testing.T) {
	store := newTestStore(t)
	engine, _ := newTestEngine(t, store, BuiltinRules(), nil)
	ctx := context.Background()

	prior := execAt(models.ToolTest, "api", models.StatusFailure, time.Minute)
	prior.ErrorCategory = models.ErrorNetwork
	insertAll(t, store, prior)

	cur := execAt(models.ToolTest, "api", models.StatusFailure, 0)
	cur.ErrorCategory = models.ErrorNetwork
	cur.Command = "flaky"
	triggers, err := engine.Evaluate(ctx, cur)
	require.NoError(t, err)
	assert.NotContains(t, ruleIDs(triggers), "REL-002", "needs three prior runs")
}

func TestEvaluate_RuleFaultIsIsolated(t *testing.T) {
	store := newTestStore(t)
	broken := alwaysRule("BROKEN-001")
	broken.Condition = func(in *Input) Result { panic("nil map") }
	engine, _ := newTestEngine(t, store, append([]*Rule{broken}, BuiltinRules()...), nil)

	triggers, err := engine.Evaluate(context.Background(), leakyExecution("api", 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"SEC-001"}, ruleIDs(triggers))
}

func TestRunBatch_DeduplicatesAcrossRuns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	engine, _ := newTestEngine(t, store, BuiltinRules(), nil)
	res, err := engine.RunBatch(ctx, []*models.Execution{leakyExecution("api", 0)}, BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	require.Len(t, res.Improvements, 1)
	assert.Equal(t, testNow, res.Improvements[0].DetectedAt)

	// A fresh engine without durable cooldowns still finds the open improvement.
	reg, err := NewRegistry(BuiltinRules())
	require.NoError(t, err)
	c := &clock{now: testNow.Add(2 * time.Hour)}
	opts := DefaultEngineOptions()
	opts.Now = c.Now
	fresh := NewEngine(reg, store.Executions(), store.Improvements(), nil, opts)

	res, err = fresh.RunBatch(ctx, []*models.Execution{leakyExecution("api", -2*time.Hour)}, BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Triggered)
	assert.Zero(t, res.Created)
	assert.Equal(t, 1, res.Deduplicated)

	// Resolved improvements no longer deduplicate.
	stored, err := store.Improvements().Query(ctx, storage.ImprovementFilter{})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	_, err = store.Improvements().UpdateStatus(ctx, stored[0].ID, models.ImprovementResolved)
	require.NoError(t, err)

	fresh = NewEngine(reg, store.Executions(), store.Improvements(), nil, opts)
	res, err = fresh.RunBatch(ctx, []*models.Execution{leakyExecution("api", -2*time.Hour)}, BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
}

func TestRunBatch_DeduplicatesWithinBatch(t *testing.T) {
	store := newTestStore(t)
	engine, _ := newTestEngine(t, store, []*Rule{alwaysRule("FEAT-900")}, nil)

	execs := []*models.Execution{
		execAt(models.ToolLint, "api", models.StatusSuccess, 3*time.Minute),
		execAt(models.ToolLint, "api", models.StatusSuccess, 2*time.Minute),
		execAt(models.ToolLint, "web", models.StatusSuccess, time.Minute),
		execAt(models.ToolTest, "web", models.StatusSuccess, 0),
	}
	res, err := engine.RunBatch(context.Background(), execs, BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 4, res.ExecutionsAnalyzed)
	assert.Equal(t, 4, res.RulesEvaluated)
	assert.Equal(t, 4, res.Triggered)
	assert.Equal(t, 3, res.Created, "tool and project must both match to deduplicate")
	assert.Equal(t, 1, res.Deduplicated)
}

func TestRunBatch_DryRun(t *testing.T) {
	store := newTestStore(t)
	engine, _ := newTestEngine(t, store, BuiltinRules(), nil)
	ctx := context.Background()

	res, err := engine.RunBatch(ctx, []*models.Execution{leakyExecution("api", 0)}, BatchOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	stored, err := store.Improvements().Query(ctx, storage.ImprovementFilter{})
	require.NoError(t, err)
	assert.Empty(t, stored)

	_, found, err := store.Cooldowns().LastTriggered(ctx, "SEC-001", models.ToolDeploy, "api")
	require.NoError(t, err)
	assert.False(t, found, "dry runs do not persist cooldowns")
}

func TestRunBatch_DryRunLeavesCooldownsUntouched(t *testing.T) {
	store := newTestStore(t)
	rule := alwaysRule("COOL-001")
	rule.Cooldown = time.Hour
	engine, _ := newTestEngine(t, store, []*Rule{rule}, nil)
	ctx := context.Background()
	execs := []*models.Execution{execAt(models.ToolBuild, "api", models.StatusSuccess, 0)}

	res, err := engine.RunBatch(ctx, execs, BatchOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Triggered)
	assert.Zero(t, engine.cooldowns.Len())

	res, err = engine.RunBatch(ctx, execs, BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Triggered, "a preview must not put the rule into cooldown")
	assert.Equal(t, 1, res.Created)

	res, err = engine.RunBatch(ctx, execs, BatchOptions{})
	require.NoError(t, err)
	assert.Zero(t, res.Triggered, "the real run starts the cooldown")
}

type fakeAnalyzer struct {
	findings []Finding
	err      error
	calls    int
}

func (a *fakeAnalyzer) Name() string { return "fake" }

func (a *fakeAnalyzer) Analyze(ctx context.Context, in *Input) ([]Finding, error) {
	a.calls++
	return a.findings, a.err
}

func TestRunBatch_Analyzer(t *testing.T) {
	store := newTestStore(t)
	analyzer := &fakeAnalyzer{findings: []Finding{
		{Key: "cache-deps", Type: models.ImprovementPerformance, Severity: models.SeverityMedium,
			Scope: models.ScopeTool, Title: "Cache dependencies", Confidence: 1.7},
		{Key: "", Type: models.ImprovementFeature, Title: "no key"},
		{Key: "bad-type", Type: "nope", Title: "bad type"},
	}}
	engine, _ := newTestEngine(t, store, []*Rule{}, func(o *EngineOptions) { o.Analyzer = analyzer })

	res, err := engine.RunBatch(context.Background(), []*models.Execution{execAt(models.ToolBuild, "api", models.StatusSuccess, 0)}, BatchOptions{})
	require.NoError(t, err)
	require.Len(t, res.Improvements, 1)

	imp := res.Improvements[0]
	assert.Equal(t, models.DetectionAI, imp.DetectionMethod)
	assert.Equal(t, 1.0, imp.Confidence, "confidence is clamped")
	assert.Contains(t, imp.DetectionContext, "[rule:AI-CACHE-DEPS]")

	analyzer.err = errors.New("overloaded")
	res, err = engine.RunBatch(context.Background(), []*models.Execution{execAt(models.ToolBuild, "api", models.StatusSuccess, 0)}, BatchOptions{})
	require.NoError(t, err, "analyzer failures are not fatal")
	assert.Zero(t, res.Created)
	assert.Equal(t, 2, analyzer.calls)
}

// failingImprovements fails every insert.
type failingImprovements struct {
	storage.ImprovementRepository
}

func (failingImprovements) Query(ctx context.Context, f storage.ImprovementFilter) ([]*models.Improvement, error) {
	return nil, nil
}

func (failingImprovements) Insert(ctx context.Context, imp *models.Improvement) error {
	return errors.New("disk I/O error")
}

func TestRunBatch_StorageFaultAborts(t *testing.T) {
	store := newTestStore(t)
	reg, err := NewRegistry([]*Rule{alwaysRule("FEAT-900")})
	require.NoError(t, err)
	engine := NewEngine(reg, store.Executions(), failingImprovements{}, nil, nil)

	execs := []*models.Execution{
		execAt(models.ToolLint, "api", models.StatusSuccess, time.Minute),
		execAt(models.ToolLint, "web", models.StatusSuccess, 0),
	}
	res, err := engine.RunBatch(context.Background(), execs, BatchOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.Equal(t, 1, res.ExecutionsAnalyzed)
	assert.Zero(t, res.Created)
}

func TestTriggeredIsDuplicateOf(t *testing.T) {
	since := testNow.Add(-DefaultDedupWindow)
	tr := &Triggered{RuleID: "REL-001", Tools: []models.Tool{models.ToolTest}, Projects: []string{"api"}}
	base := func() *models.Improvement {
		return &models.Improvement{
			DetectionContext: "[rule:REL-001] success rate 50%",
			AffectedTools:    []models.Tool{models.ToolTest, models.ToolLint},
			AffectedProjects: []string{"api"},
			Status:           models.ImprovementOpen,
			DetectedAt:       testNow.Add(-time.Hour),
		}
	}

	tests := []struct {
		name   string
		mutate func(*models.Improvement)
		want   bool
	}{
		{"match", func(*models.Improvement) {}, true},
		{"in progress", func(i *models.Improvement) { i.Status = models.ImprovementInProgress }, true},
		{"dismissed", func(i *models.Improvement) { i.Status = models.ImprovementDismissed }, false},
		{"too old", func(i *models.Improvement) { i.DetectedAt = testNow.Add(-8 * 24 * time.Hour) }, false},
		{"other rule", func(i *models.Improvement) { i.DetectionContext = "[rule:REL-002]" }, false},
		{"other tool", func(i *models.Improvement) { i.AffectedTools = []models.Tool{models.ToolBuild} }, false},
		{"other project", func(i *models.Improvement) { i.AffectedProjects = []string{"web"} }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			imp := base()
			tt.mutate(imp)
			assert.Equal(t, tt.want, tr.isDuplicateOf(imp, since))
		})
	}
}
