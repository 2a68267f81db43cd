package memory

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelauto/kestrel/pkg/custom"
	"github.com/kestrelauto/kestrel/pkg/detail"
	"github.com/kestrelauto/kestrel/pkg/job"
	"github.com/kestrelauto/kestrel/pkg/notify"
	"github.com/kestrelauto/kestrel/pkg/pipeline"
)

// quick strips the default delays so tests run fast.
const quick = `"pre_delay": 0, "post_delay": 0, "rate_limit": 10, "timeout": 50`

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e := New(opts...)
	t.Cleanup(e.Close)
	return e
}

func hydrateTask(t *testing.T, e *Engine, id int64) *detail.TaskDetail {
	t.Helper()
	got, err := detail.NewHydrator(e).Task(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, got)
	return got
}

func TestTaskDirectHitClick(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.OverridePipeline([]byte(`{
		"Entry": {
			"recognition": {"type": "DirectHit", "param": {"roi": [10, 10, 5, 5]}},
			"action": "Click",
			`+quick+`
		}
	}`)))

	id, err := e.PostTask("Entry", nil)
	require.NoError(t, err)
	assert.Equal(t, job.StatusSucceeded, e.Wait(id))

	td := hydrateTask(t, e, id)
	assert.Equal(t, "Entry", td.Entry)
	assert.Equal(t, job.StatusSucceeded, td.Status)
	require.Len(t, td.Nodes, 1)

	node := td.Nodes[0]
	require.NotNil(t, node)
	assert.True(t, node.Completed)
	require.NotNil(t, node.Recognition)
	assert.True(t, node.Recognition.Hit)
	assert.Equal(t, pipeline.Rect{X: 10, Y: 10, W: 5, H: 5}, node.Recognition.Box)
	require.NotNil(t, node.Action)
	assert.Equal(t, pipeline.ActionClick, node.Action.Action)
	assert.True(t, node.Action.Success)
	assert.Equal(t, pipeline.Rect{X: 10, Y: 10, W: 5, H: 5}, node.Action.Box)
}

func TestTaskFollowsNextChain(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.OverridePipeline([]byte(`{
		"A": {"next": ["B"], `+quick+`},
		"B": {"next": ["C"], `+quick+`},
		"C": {`+quick+`}
	}`)))

	id, err := e.PostTask("A", nil)
	require.NoError(t, err)
	require.Equal(t, job.StatusSucceeded, e.Wait(id))

	td := hydrateTask(t, e, id)
	require.Len(t, td.Nodes, 3)
	assert.Equal(t, "A", td.Nodes[0].NodeName)
	assert.Equal(t, "B", td.Nodes[1].NodeName)
	assert.Equal(t, "C", td.Nodes[2].NodeName)
}

func TestTaskMissTimesOut(t *testing.T) {
	e := newTestEngine(t)
	// TemplateMatch misses without a matcher hook.
	require.NoError(t, e.OverridePipeline([]byte(`{
		"Entry": {
			"recognition": {"type": "TemplateMatch", "param": {"template": "x.png"}},
			`+quick+`
		}
	}`)))

	id, err := e.PostTask("Entry", nil)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, e.Wait(id))
}

func TestTaskOnErrorFallback(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.OverridePipeline([]byte(`{
		"Entry": {"next": ["Miss"], "on_error": ["Rescue"], `+quick+`},
		"Miss": {
			"recognition": {"type": "TemplateMatch", "param": {"template": "x.png"}},
			`+quick+`
		},
		"Rescue": {`+quick+`}
	}`)))

	id, err := e.PostTask("Entry", nil)
	require.NoError(t, err)
	require.Equal(t, job.StatusSucceeded, e.Wait(id))

	td := hydrateTask(t, e, id)
	require.Len(t, td.Nodes, 2)
	assert.Equal(t, "Entry", td.Nodes[0].NodeName)
	assert.Equal(t, "Rescue", td.Nodes[1].NodeName)
}

func TestTaskStopTaskActionEndsCleanly(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.OverridePipeline([]byte(`{
		"Entry": {"action": "StopTask", "next": ["Entry"], `+quick+`}
	}`)))

	id, err := e.PostTask("Entry", nil)
	require.NoError(t, err)
	assert.Equal(t, job.StatusSucceeded, e.Wait(id))

	td := hydrateTask(t, e, id)
	assert.Len(t, td.Nodes, 1)
}

func TestTaskInverseRecognition(t *testing.T) {
	e := newTestEngine(t)
	// An always-missing recognition, inverted, hits.
	require.NoError(t, e.OverridePipeline([]byte(`{
		"Entry": {
			"recognition": {"type": "TemplateMatch", "param": {"template": "x.png"}},
			"inverse": true,
			`+quick+`
		}
	}`)))

	id, err := e.PostTask("Entry", nil)
	require.NoError(t, err)
	assert.Equal(t, job.StatusSucceeded, e.Wait(id))
}

func TestTaskMaxHitBoundsLoops(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.OverridePipeline([]byte(`{
		"Entry": {"next": ["Entry"], "max_hit": 3, `+quick+`}
	}`)))

	id, err := e.PostTask("Entry", nil)
	require.NoError(t, err)
	// After three hits the node is exhausted and the next list times out.
	assert.Equal(t, job.StatusFailed, e.Wait(id))

	td := hydrateTask(t, e, id)
	assert.Len(t, td.Nodes, 3)
}

func TestTaskOrCompositeNodeReference(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.OverridePipeline([]byte(`{
		"Never": {
			"recognition": {"type": "TemplateMatch", "param": {"template": "x.png"}},
			`+quick+`
		},
		"Entry": {
			"recognition": {"type": "Or", "param": {"any_of": [
				"Never",
				{"type": "DirectHit", "param": {"roi": [5, 5, 2, 2]}}
			]}},
			`+quick+`
		}
	}`)))

	id, err := e.PostTask("Entry", nil)
	require.NoError(t, err)
	require.Equal(t, job.StatusSucceeded, e.Wait(id))

	td := hydrateTask(t, e, id)
	reco := td.Nodes[0].Recognition
	require.NotNil(t, reco)
	assert.True(t, reco.Hit)
	assert.Equal(t, pipeline.Rect{X: 5, Y: 5, W: 2, H: 2}, reco.Box)
	require.Len(t, reco.SubDetails, 2)
	assert.False(t, reco.SubDetails[0].Hit)
	assert.True(t, reco.SubDetails[1].Hit)
}

func TestTaskAndShortCircuits(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.OverridePipeline([]byte(`{
		"Entry": {
			"recognition": {"type": "And", "param": {"all_of": [
				{"type": "TemplateMatch", "param": {"template": "x.png"}},
				{"type": "DirectHit", "param": {}}
			]}},
			`+quick+`
		}
	}`)))

	id, err := e.PostTask("Entry", nil)
	require.NoError(t, err)
	require.Equal(t, job.StatusFailed, e.Wait(id))

	// Only the first constituent was evaluated.
	recoID := latestReco(t, e, "Entry")
	reco, err := detail.NewHydrator(e).Recognition(context.Background(), recoID)
	require.NoError(t, err)
	require.Len(t, reco.SubDetails, 1)
}

func latestReco(t *testing.T, e *Engine, name string) int64 {
	t.Helper()
	nodeID, ok := e.LatestNode(name)
	if !ok {
		// The node never executed; its recognitions were still recorded.
		e.mu.Lock()
		defer e.mu.Unlock()
		var last int64
		for id, q := range e.recos {
			if q.NodeName == name && q.Algorithm.Composite() && id > last {
				last = id
			}
		}
		require.NotZero(t, last)
		return last
	}
	q, ok := e.QueryNodeDetail(nodeID)
	require.True(t, ok)
	return q.RecoID
}

func TestTaskCustomRecognitionAndAction(t *testing.T) {
	reg := custom.NewRegistry(nil)
	reg.RegisterRecognizer("find", custom.RecognizerFunc(func(_ context.Context, arg custom.RecognitionArg) (custom.RecognitionResult, bool) {
		return custom.RecognitionResult{Box: pipeline.Rect{X: 7, Y: 7, W: 1, H: 1}}, true
	}))
	var acted bool
	reg.RegisterActor("tap", custom.ActorFunc(func(_ context.Context, arg custom.ActionArg) bool {
		acted = true
		return arg.Box == pipeline.Rect{X: 7, Y: 7, W: 1, H: 1}
	}))

	e := newTestEngine(t, WithRegistry(reg))
	require.NoError(t, e.OverridePipeline([]byte(`{
		"Entry": {
			"recognition": {"type": "Custom", "param": {"custom_recognition": "find"}},
			"action": {"type": "Custom", "param": {"custom_action": "tap"}},
			`+quick+`
		}
	}`)))

	id, err := e.PostTask("Entry", nil)
	require.NoError(t, err)
	assert.Equal(t, job.StatusSucceeded, e.Wait(id))
	assert.True(t, acted)
}

func TestTaskMatcherHook(t *testing.T) {
	e := newTestEngine(t, WithMatcher(func(arg MatchArg) (MatchResult, bool) {
		if arg.Type == pipeline.RecognitionTemplateMatch {
			return MatchResult{Box: pipeline.Rect{X: 3, Y: 3, W: 9, H: 9}}, true
		}
		return MatchResult{}, false
	}))
	require.NoError(t, e.OverridePipeline([]byte(`{
		"Entry": {
			"recognition": {"type": "TemplateMatch", "param": {"template": "x.png"}},
			`+quick+`
		}
	}`)))

	id, err := e.PostTask("Entry", nil)
	require.NoError(t, err)
	require.Equal(t, job.StatusSucceeded, e.Wait(id))

	td := hydrateTask(t, e, id)
	assert.Equal(t, pipeline.Rect{X: 3, Y: 3, W: 9, H: 9}, td.Nodes[0].Recognition.Box)
}

func TestPostTaskWithOverride(t *testing.T) {
	e := newTestEngine(t)
	id, err := e.PostTask("Entry", []byte(`{"Entry": {`+quick+`}}`))
	require.NoError(t, err)
	assert.Equal(t, job.StatusSucceeded, e.Wait(id))
}

func TestPostTaskUnknownEntryFails(t *testing.T) {
	e := newTestEngine(t)
	id, err := e.PostTask("Ghost", nil)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, e.Wait(id))
}

func TestPostRecognitionOnly(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.OverridePipeline([]byte(`{
		"Entry": {"action": "StopTask", `+quick+`}
	}`)))

	id, err := e.PostRecognition("Entry", nil)
	require.NoError(t, err)
	require.Equal(t, job.StatusSucceeded, e.Wait(id))

	td := hydrateTask(t, e, id)
	require.Len(t, td.Nodes, 1)
	assert.NotNil(t, td.Nodes[0].Recognition)
	assert.Nil(t, td.Nodes[0].Action)
}

func TestPostActionOnly(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.OverridePipeline([]byte(`{
		"Entry": {"action": {"type": "Click", "param": {"target": [50, 60]}}, `+quick+`}
	}`)))

	id, err := e.PostAction("Entry", nil)
	require.NoError(t, err)
	require.Equal(t, job.StatusSucceeded, e.Wait(id))

	td := hydrateTask(t, e, id)
	require.Len(t, td.Nodes, 1)
	assert.Nil(t, td.Nodes[0].Recognition)
	require.NotNil(t, td.Nodes[0].Action)
	assert.Equal(t, pipeline.Rect{X: 50, Y: 60}, td.Nodes[0].Action.Box)
}

func TestPostStopDrainsQueue(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.OverridePipeline([]byte(`{
		"Slow": {"pre_delay": 300, "post_delay": 0, "rate_limit": 10, "timeout": 50}
	}`)))

	running, err := e.PostTask("Slow", nil)
	require.NoError(t, err)
	queued, err := e.PostTask("Slow", nil)
	require.NoError(t, err)

	stop, err := e.PostStop()
	require.NoError(t, err)
	assert.True(t, e.Stopping())

	assert.Equal(t, job.StatusSucceeded, e.Wait(stop))
	assert.Equal(t, job.StatusFailed, e.Status(running))
	assert.Equal(t, job.StatusFailed, e.Status(queued))
	assert.False(t, e.Stopping())
}

func TestLatestNodeAndClearCache(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.OverridePipeline([]byte(`{"Entry": {`+quick+`}}`)))

	id, err := e.PostTask("Entry", nil)
	require.NoError(t, err)
	require.Equal(t, job.StatusSucceeded, e.Wait(id))

	nodeID, ok := e.LatestNode("Entry")
	require.True(t, ok)
	q, ok := e.QueryNodeDetail(nodeID)
	require.True(t, ok)
	assert.Equal(t, "Entry", q.NodeName)

	e.ClearCache()
	_, ok = e.LatestNode("Entry")
	assert.False(t, ok)
	_, _, _, ok = e.QueryTaskDetail(id, nil)
	assert.False(t, ok)
	// Job handles stay valid.
	assert.Equal(t, job.StatusSucceeded, e.Status(id))
}

func TestNotificationsObserveTaskLifecycle(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.OverridePipeline([]byte(`{"Entry": {`+quick+`}}`)))

	var mu sync.Mutex
	var msgs []string
	e.AddSink(func(message string, _ []byte) {
		mu.Lock()
		msgs = append(msgs, message)
		mu.Unlock()
	})

	id, err := e.PostTask("Entry", nil)
	require.NoError(t, err)
	require.Equal(t, job.StatusSucceeded, e.Wait(id))

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, msgs, "Tasker.Task.Starting")
	assert.Contains(t, msgs, "Tasker.Task.Succeeded")
	assert.Contains(t, msgs, "Node.NextList.Starting")
	assert.Contains(t, msgs, "Node.RecognitionNode.Succeeded")
	assert.Contains(t, msgs, "Node.ActionNode.Succeeded")
	assert.Contains(t, msgs, "Node.PipelineNode.Succeeded")
}

func TestSinkPanicIsContained(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.OverridePipeline([]byte(`{"Entry": {`+quick+`}}`)))

	e.AddSink(func(string, []byte) { panic("sink boom") })

	id, err := e.PostTask("Entry", nil)
	require.NoError(t, err)
	assert.Equal(t, job.StatusSucceeded, e.Wait(id))
}

func TestSinkRemoveAndClear(t *testing.T) {
	e := newTestEngine(t)
	var mu sync.Mutex
	count := 0
	id1 := e.AddSink(func(string, []byte) { mu.Lock(); count++; mu.Unlock() })
	e.RemoveSink(id1)
	e.AddSink(func(string, []byte) { mu.Lock(); count++; mu.Unlock() })
	e.ClearSinks()

	require.NoError(t, e.OverridePipeline([]byte(`{"Entry": {`+quick+`}}`)))
	tid, err := e.PostTask("Entry", nil)
	require.NoError(t, err)
	e.Wait(tid)

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, count)
}

func TestBundleLoadJSONAndYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"),
		[]byte(`{"A": {"pre_delay": 0, "post_delay": 0}}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"),
		[]byte("B:\n  next: [\"A\"]\n  pre_delay: 0\n  post_delay: 0\n"), 0o644))

	e := newTestEngine(t)
	var loaded []string
	e.AddSink(func(message string, _ []byte) {
		loaded = append(loaded, message)
	})

	id, err := e.PostBundle(dir)
	require.NoError(t, err)
	require.Equal(t, job.StatusSucceeded, e.Wait(id))

	assert.Equal(t, 2, e.Table().Len())
	b, ok := e.Table().Get("B")
	require.True(t, ok)
	assert.Equal(t, []pipeline.NodeAttr{{Name: "A"}}, b.Next)

	assert.Contains(t, loaded, "Resource.Loading.Starting")
	assert.Contains(t, loaded, "Resource.Loading.Succeeded")
}

func TestBundleLoadMissingDirFails(t *testing.T) {
	e := newTestEngine(t)
	id, err := e.PostBundle(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, e.Wait(id))
}

func TestCloseRejectsFurtherPosts(t *testing.T) {
	e := New()
	e.Close()
	_, err := e.PostTask("X", nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseConcurrentWithPosts(t *testing.T) {
	e := New()
	require.NoError(t, e.OverridePipeline([]byte(`{"Entry": {`+quick+`}}`)))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if _, err := e.PostTask("Entry", nil); err != nil {
					assert.ErrorIs(t, err, ErrClosed)
					return
				}
			}
		}()
	}
	e.Close()
	wg.Wait()

	// Close again is a no-op, not a double close.
	e.Close()
}

func TestNextListPayloadCarriesAttrFlags(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.OverridePipeline([]byte(`{
		"Entry": {"next": ["[JumpBack]Toast", {"name": "Exit", "anchor": true}], `+quick+`},
		"Toast": {"max_hit": 1, `+quick+`},
		"Exit": {`+quick+`}
	}`)))

	var mu sync.Mutex
	var lists []notify.NodeNextListDetail
	e.AddSink(func(message string, details []byte) {
		if message != notify.PrefixNodeNextList+notify.SuffixStarting {
			return
		}
		ev, ok := notify.Parse(message, details).(notify.NodeNextList)
		if !ok {
			return
		}
		mu.Lock()
		lists = append(lists, ev.Detail)
		mu.Unlock()
	})

	id, err := e.PostTask("Entry", nil)
	require.NoError(t, err)
	require.Equal(t, job.StatusSucceeded, e.Wait(id))

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(lists), 2)
	got := lists[1]
	require.Len(t, got.List, 2)
	assert.Equal(t, notify.NextItem{Name: "Toast", JumpBack: true}, got.List[0])
	assert.Equal(t, notify.NextItem{Name: "Exit", Anchor: true}, got.List[1])
}

func TestJumpBackResumesInterruptedList(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.OverridePipeline([]byte(`{
		"Entry": {"next": ["[JumpBack]Toast", "Exit"], `+quick+`},
		"Toast": {"max_hit": 1, "next": ["Entry"], `+quick+`},
		"Exit": {`+quick+`}
	}`)))

	id, err := e.PostTask("Entry", nil)
	require.NoError(t, err)
	require.Equal(t, job.StatusSucceeded, e.Wait(id))

	// Toast intercepts once and jumps back; its own next list never runs.
	td := hydrateTask(t, e, id)
	require.Len(t, td.Nodes, 3)
	assert.Equal(t, "Entry", td.Nodes[0].NodeName)
	assert.Equal(t, "Toast", td.Nodes[1].NodeName)
	assert.Equal(t, "Exit", td.Nodes[2].NodeName)
}
