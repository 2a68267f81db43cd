package memory

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kestrelauto/kestrel/pkg/custom"
	"github.com/kestrelauto/kestrel/pkg/detail"
	"github.com/kestrelauto/kestrel/pkg/job"
	"github.com/kestrelauto/kestrel/pkg/notify"
	"github.com/kestrelauto/kestrel/pkg/pipeline"
	"github.com/kestrelauto/kestrel/pkg/ports"
)

type sinkEntry struct {
	id ports.SinkID
	fn ports.NotificationFunc
}

// run is the single worker goroutine. Operations execute strictly in post
// order; a stop request fails everything queued ahead of it.
func (e *Engine) run() {
	defer close(e.done)
	for item := range e.queue {
		if e.stopping.Load() && item.kind != workStop {
			e.setStatus(item.id, job.StatusFailed)
			continue
		}
		switch item.kind {
		case workTask:
			e.runTask(item)
		case workRecognition:
			e.runRecognitionOnly(item)
		case workAction:
			e.runActionOnly(item)
		case workBundle:
			e.runBundle(item)
		case workStop:
			e.stopping.Store(false)
			e.setStatus(item.id, job.StatusSucceeded)
		}
	}
}

func (e *Engine) emit(msg string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		e.log.Error("marshal notification", "message", msg, "err", err)
		return
	}
	e.sinkMu.Lock()
	sinks := make([]sinkEntry, 0, len(e.sinks))
	for id, fn := range e.sinks {
		sinks = append(sinks, sinkEntry{id: id, fn: fn})
	}
	e.sinkMu.Unlock()
	for _, s := range sinks {
		e.callSink(s, msg, data)
	}
}

func (e *Engine) callSink(s sinkEntry, msg string, data []byte) {
	defer func() {
		if p := recover(); p != nil {
			e.log.Error("notification sink panicked", "sink", s.id, "message", msg, "panic", p)
		}
	}()
	s.fn(msg, data)
}

// sleep pauses for ms milliseconds, waking early when a stop request
// arrives.
func (e *Engine) sleep(ms int32) {
	if ms <= 0 {
		return
	}
	deadline := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer deadline.Stop()
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-deadline.C:
			return
		case <-tick.C:
			if e.stopping.Load() {
				return
			}
		}
	}
}

// taskRun is the per-task execution state.
type taskRun struct {
	id       int64
	entry    string
	ctx      context.Context
	cancel   context.CancelFunc
	hits     map[string]uint32
	lastReco int64
}

func (e *Engine) runTask(item workItem) {
	e.setStatus(item.id, job.StatusRunning)
	rec := &taskRec{entry: item.entry, status: job.StatusRunning}
	e.mu.Lock()
	e.tasks[item.id] = rec
	e.mu.Unlock()

	fail := func() {
		e.mu.Lock()
		rec.status = job.StatusFailed
		e.mu.Unlock()
		e.emit(notify.PrefixTaskerTask+notify.SuffixFailed, e.taskPayload(item.id, item.entry))
		e.setStatus(item.id, job.StatusFailed)
	}

	if item.override != nil {
		if err := e.table.Override(item.override); err != nil {
			e.log.Warn("task override rejected", "task", item.id, "entry", item.entry, "err", err)
			fail()
			return
		}
	}
	if _, ok := e.table.Get(item.entry); !ok {
		e.log.Warn("task entry not found", "task", item.id, "entry", item.entry)
		fail()
		return
	}

	e.emit(notify.PrefixTaskerTask+notify.SuffixStarting, e.taskPayload(item.id, item.entry))

	ctx, cancel := context.WithCancel(context.Background())
	run := &taskRun{
		id:     item.id,
		entry:  item.entry,
		ctx:    ctx,
		cancel: cancel,
		hits:   make(map[string]uint32),
	}
	defer cancel()

	ok := e.runFlow(run, rec)
	if ok {
		e.mu.Lock()
		rec.status = job.StatusSucceeded
		e.mu.Unlock()
		e.emit(notify.PrefixTaskerTask+notify.SuffixSucceeded, e.taskPayload(item.id, item.entry))
		e.setStatus(item.id, job.StatusSucceeded)
		return
	}
	fail()
}

func (e *Engine) taskPayload(id int64, entry string) notify.TaskerTaskDetail {
	e.mu.Lock()
	hash := e.hash
	e.mu.Unlock()
	return notify.TaskerTaskDetail{TaskID: id, Entry: entry, UUID: e.uuid, Hash: hash}
}

// runFlow drives the candidate loop: evaluate the next list, execute the
// winning node, follow its next list until it is empty. Returns false on
// timeout with no on_error fallback, or when the engine is stopping.
func (e *Engine) runFlow(run *taskRun, rec *taskRec) bool {
	current := run.entry
	candidates := []pipeline.NodeAttr{{Name: run.entry}}
	// The entry evaluates against its own timeout policy.
	prev, _ := e.table.Get(run.entry)
	inOnError := false

	for {
		if e.stopping.Load() {
			run.cancel()
			return false
		}

		chosen, attr, ok := e.evaluateList(run, current, candidates, prev)
		if !ok {
			if !inOnError && prev != nil && len(prev.OnError) > 0 {
				candidates = prev.OnError
				inOnError = true
				continue
			}
			return false
		}
		inOnError = false

		stopped, completed := e.executeNode(run, rec, attr.Name, chosen)
		if stopped {
			// A StopTask action ends the task cleanly.
			return completed
		}
		if e.stopping.Load() {
			run.cancel()
			return false
		}
		if !completed {
			if len(chosen.OnError) > 0 {
				current, prev = attr.Name, chosen
				candidates = chosen.OnError
				inOnError = true
				continue
			}
			return false
		}

		if attr.JumpBack {
			// A jump-back interception resumes the interrupted list; the
			// chosen node's own next list is not followed.
			continue
		}
		if len(chosen.Next) == 0 {
			return true
		}
		current, prev = attr.Name, chosen
		candidates = chosen.Next
	}
}

// evaluateList recognizes candidates in order until one hits, retrying on
// the rate limit until the owning node's timeout expires.
func (e *Engine) evaluateList(run *taskRun, current string, candidates []pipeline.NodeAttr, owner *pipeline.Node) (*pipeline.Node, pipeline.NodeAttr, bool) {
	rateLimit, timeout := int32(1000), int32(20000)
	if owner != nil {
		rateLimit, timeout = owner.RateLimit, owner.Timeout
	}

	e.emit(notify.PrefixNodeNextList+notify.SuffixStarting, e.nextListPayload(run.id, current, candidates, owner))

	deadline := time.Now().Add(time.Duration(timeout) * time.Millisecond)
	for {
		for _, attr := range candidates {
			if e.stopping.Load() {
				break
			}
			node, ok := e.table.Get(attr.Name)
			if !ok || !node.Enabled {
				continue
			}
			if run.hits[attr.Name] >= node.MaxHit {
				continue
			}
			if hit := e.recognizeCandidate(run, attr.Name, node); hit != 0 {
				run.lastReco = hit
				e.emit(notify.PrefixNodeNextList+notify.SuffixSucceeded, e.nextListPayload(run.id, current, candidates, owner))
				return node, attr, true
			}
		}
		if e.stopping.Load() || !time.Now().Before(deadline) {
			e.emit(notify.PrefixNodeNextList+notify.SuffixFailed, e.nextListPayload(run.id, current, candidates, owner))
			return nil, pipeline.NodeAttr{}, false
		}
		e.sleep(rateLimit)
	}
}

func (e *Engine) nextListPayload(taskID int64, name string, list []pipeline.NodeAttr, owner *pipeline.Node) notify.NodeNextListDetail {
	items := make([]notify.NextItem, len(list))
	for i, attr := range list {
		items[i] = notify.NextItem{Name: attr.Name, JumpBack: attr.JumpBack, Anchor: attr.Anchor}
	}
	d := notify.NodeNextListDetail{TaskID: taskID, Name: name, List: items}
	if owner != nil && owner.Focus != nil {
		if data, err := json.Marshal(owner.Focus); err == nil {
			d.Focus = data
		}
	}
	return d
}

// recognizeCandidate evaluates one candidate's recognition, emitting the
// per-candidate trace events and, when the node carries focus, the focused
// recognition events. Returns the recognition id on a hit, 0 on a miss.
func (e *Engine) recognizeCandidate(run *taskRun, name string, node *pipeline.Node) int64 {
	focus := focusPayload(node)
	e.emitReco(notify.PrefixNodeRecognitionNode+notify.SuffixStarting, run.id, 0, name, nil)
	if focus != nil {
		e.emitReco(notify.PrefixNodeRecognition+notify.SuffixStarting, run.id, 0, name, focus)
	}

	recoID, hit := e.recognize(run, name, node)
	suffix := notify.SuffixFailed
	if hit {
		suffix = notify.SuffixSucceeded
	}
	e.emitReco(notify.PrefixNodeRecognitionNode+suffix, run.id, recoID, name, nil)
	if focus != nil {
		e.emitReco(notify.PrefixNodeRecognition+suffix, run.id, recoID, name, focus)
	}
	if hit {
		return recoID
	}
	return 0
}

func focusPayload(node *pipeline.Node) json.RawMessage {
	if node.Focus == nil {
		return nil
	}
	data, err := json.Marshal(node.Focus)
	if err != nil {
		return nil
	}
	return data
}

func (e *Engine) emitReco(msg string, taskID, recoID int64, name string, focus json.RawMessage) {
	e.emit(msg, notify.NodeRecognitionDetail{TaskID: taskID, RecoID: recoID, Name: name, Focus: focus})
}

// recognize evaluates a node's recognition and records the result. The
// node-level inverse flag flips the hit after evaluation.
func (e *Engine) recognize(run *taskRun, name string, node *pipeline.Node) (int64, bool) {
	id, hit, _, _ := e.evalRecognition(run, name, node.Recognition)
	if node.Inverse {
		hit = !hit
		e.mu.Lock()
		if q, ok := e.recos[id]; ok {
			q.Hit = hit
			e.recos[id] = q
		}
		e.mu.Unlock()
	}
	return id, hit
}

// evalRecognition evaluates one recognition and records its detail,
// returning the record id, the hit flag, the result box and the detail
// payload.
func (e *Engine) evalRecognition(run *taskRun, name string, reco pipeline.Recognition) (int64, bool, pipeline.Rect, json.RawMessage) {
	id := e.nextID.Add(1)
	var (
		hit bool
		box pipeline.Rect
		det json.RawMessage
	)

	switch p := reco.Param.(type) {
	case *pipeline.DirectHit:
		hit = true
		box = e.resolveROI(p.ROI, p.ROIOffset)
	case *pipeline.And:
		hit, box, det = e.evalAnd(run, name, p)
	case *pipeline.Or:
		hit, box, det = e.evalOr(run, name, p)
	case *pipeline.CustomRecognition:
		res, ok := e.registry.Analyze(run.ctx, custom.RecognitionArg{
			TaskID:   run.id,
			RecoID:   id,
			NodeName: name,
			Name:     p.CustomRecognition,
			Param:    p.CustomRecognitionParam,
			ROI:      e.resolveROI(p.ROI, p.ROIOffset),
		})
		hit, box, det = ok, res.Box, res.Detail
	default:
		hit, box, det = e.evalImage(run, name, reco)
	}

	e.mu.Lock()
	e.recos[id] = detail.RecognitionQuery{
		NodeName:  name,
		Algorithm: reco.Type,
		Hit:       hit,
		Box:       box,
		Detail:    det,
	}
	e.mu.Unlock()
	return id, hit, box, det
}

// evalImage decides an image-based recognition through the matcher hook.
// Without a hook the recognition misses.
func (e *Engine) evalImage(run *taskRun, name string, reco pipeline.Recognition) (bool, pipeline.Rect, json.RawMessage) {
	if e.matcher == nil {
		return false, pipeline.Rect{}, nil
	}
	roi, offset := recognitionROI(reco.Param)
	res, ok := e.matcher(MatchArg{
		TaskID:   run.id,
		NodeName: name,
		Type:     reco.Type,
		Param:    reco.Param,
		ROI:      e.resolveROI(roi, offset),
	})
	if !ok {
		return false, pipeline.Rect{}, nil
	}
	return true, res.Box, res.Detail
}

func recognitionROI(p pipeline.RecognitionParam) (pipeline.Target, pipeline.Rect) {
	switch v := p.(type) {
	case *pipeline.TemplateMatch:
		return v.ROI, v.ROIOffset
	case *pipeline.FeatureMatch:
		return v.ROI, v.ROIOffset
	case *pipeline.ColorMatch:
		return v.ROI, v.ROIOffset
	case *pipeline.OCR:
		return v.ROI, v.ROIOffset
	case *pipeline.NeuralNetworkClassify:
		return v.ROI, v.ROIOffset
	case *pipeline.NeuralNetworkDetect:
		return v.ROI, v.ROIOffset
	default:
		return pipeline.Target{Kind: pipeline.TargetRegion}, pipeline.Rect{}
	}
}

type subResult struct {
	Name   string `json:"name,omitempty"`
	RecoID int64  `json:"reco_id"`
	Hit    bool   `json:"hit"`
}

// evalAnd evaluates constituents in order and hits only when all do. It
// short-circuits on the first miss. The result box is the box of the
// constituent selected by box_index, clamped to the last evaluated.
func (e *Engine) evalAnd(run *taskRun, name string, p *pipeline.And) (bool, pipeline.Rect, json.RawMessage) {
	var (
		results []subResult
		boxes   []pipeline.Rect
		allHit  = len(p.AllOf) > 0
	)
	for _, sub := range p.AllOf {
		subName, reco, ok := e.resolveSub(name, sub)
		if !ok {
			allHit = false
			break
		}
		id, hit, box, _ := e.evalRecognition(run, subName, reco)
		results = append(results, subResult{Name: subName, RecoID: id, Hit: hit})
		boxes = append(boxes, box)
		if !hit {
			allHit = false
			break
		}
	}
	det, _ := json.Marshal(results)
	if !allHit {
		return false, pipeline.Rect{}, det
	}
	idx := int(p.BoxIndex)
	if idx < 0 || idx >= len(boxes) {
		idx = len(boxes) - 1
	}
	return true, boxes[idx], det
}

// evalOr evaluates constituents in order and hits on the first that does.
func (e *Engine) evalOr(run *taskRun, name string, p *pipeline.Or) (bool, pipeline.Rect, json.RawMessage) {
	var results []subResult
	for _, sub := range p.AnyOf {
		subName, reco, ok := e.resolveSub(name, sub)
		if !ok {
			continue
		}
		id, hit, box, _ := e.evalRecognition(run, subName, reco)
		results = append(results, subResult{Name: subName, RecoID: id, Hit: hit})
		if hit {
			det, _ := json.Marshal(results)
			return true, box, det
		}
	}
	det, _ := json.Marshal(results)
	return false, pipeline.Rect{}, det
}

// resolveSub turns one composite constituent into a recognition to run: a
// bare name borrows the referenced node's recognition, an inline object is
// used as-is under the parent's name.
func (e *Engine) resolveSub(parent string, sub pipeline.SubRecognition) (string, pipeline.Recognition, bool) {
	if sub.Inline != nil {
		return parent, *sub.Inline, true
	}
	node, ok := e.table.Get(sub.Ref)
	if !ok {
		e.log.Warn("composite constituent not found", "parent", parent, "ref", sub.Ref)
		return "", pipeline.Recognition{}, false
	}
	return sub.Ref, node.Recognition, true
}

// resolveROI turns an ROI target into a concrete screen rectangle. The
// zero region means full screen.
func (e *Engine) resolveROI(roi pipeline.Target, offset pipeline.Rect) pipeline.Rect {
	var box pipeline.Rect
	switch roi.Kind {
	case pipeline.TargetRegion:
		box = roi.Region
		if box.IsZero() {
			box = e.screen
		}
	case pipeline.TargetPoint:
		box = pipeline.Rect{X: roi.Point.X, Y: roi.Point.Y}
	case pipeline.TargetNode:
		box = e.latestBox(roi.Node)
	default:
		box = e.screen
	}
	return box.Offset(offset)
}

// resolveTarget turns an action target into a concrete rectangle, given
// the box the owning node's recognition produced.
func (e *Engine) resolveTarget(t pipeline.Target, offset pipeline.Rect, ownBox pipeline.Rect) pipeline.Rect {
	var box pipeline.Rect
	switch t.Kind {
	case pipeline.TargetAuto:
		box = ownBox
	case pipeline.TargetNode:
		box = e.latestBox(t.Node)
	case pipeline.TargetPoint:
		box = pipeline.Rect{X: t.Point.X, Y: t.Point.Y}
	case pipeline.TargetRegion:
		box = t.Region
	}
	return box.Offset(offset)
}

func (e *Engine) latestBox(name string) pipeline.Rect {
	e.mu.Lock()
	nodeID, ok := e.latest[name]
	var recoID int64
	if ok {
		recoID = e.nodes[nodeID].RecoID
	}
	q, found := e.recos[recoID]
	e.mu.Unlock()
	if !ok || !found {
		return pipeline.Rect{}
	}
	return q.Box
}

// executeNode runs the hit node's action with the full timing policy and
// records the node detail. The first return reports a StopTask action, the
// second whether the node completed successfully.
func (e *Engine) executeNode(run *taskRun, rec *taskRec, name string, node *pipeline.Node) (stopTask, completed bool) {
	nodeID := e.nextID.Add(1)
	recoID := run.lastReco
	run.hits[name]++

	e.emitNode(notify.PrefixNodePipelineNode+notify.SuffixStarting, run.id, nodeID, name, node)

	box := e.recoBox(recoID)

	if node.PreWaitFreezes != nil {
		e.waitFreezes(node.PreWaitFreezes)
	}
	e.sleep(node.PreDelay)

	var (
		actID   int64
		success = true
	)
	repeats := node.Repeat
	if repeats < 1 {
		repeats = 1
	}
	for i := int32(0); i < repeats && success; i++ {
		if i > 0 {
			if node.RepeatWaitFreezes != nil {
				e.waitFreezes(node.RepeatWaitFreezes)
			}
			e.sleep(node.RepeatDelay)
		}
		var stopped bool
		actID, success, stopped = e.runAction(run, name, nodeID, node, box)
		if stopped {
			stopTask = true
			break
		}
		if e.stopping.Load() {
			break
		}
	}

	e.sleep(node.PostDelay)
	if node.PostWaitFreezes != nil {
		e.waitFreezes(node.PostWaitFreezes)
	}

	e.mu.Lock()
	e.nodes[nodeID] = detail.NodeQuery{
		NodeName:  name,
		RecoID:    recoID,
		ActionID:  actID,
		Completed: success,
	}
	e.latest[name] = nodeID
	rec.nodeIDs = append(rec.nodeIDs, nodeID)
	e.mu.Unlock()

	suffix := notify.SuffixFailed
	if success {
		suffix = notify.SuffixSucceeded
	}
	e.emitNode(notify.PrefixNodePipelineNode+suffix, run.id, nodeID, name, node)
	return stopTask, success
}

func (e *Engine) emitNode(msg string, taskID, nodeID int64, name string, node *pipeline.Node) {
	e.emit(msg, notify.NodePipelineNodeDetail{
		TaskID: taskID,
		NodeID: nodeID,
		Name:   name,
		Focus:  focusPayload(node),
	})
}

func (e *Engine) recoBox(recoID int64) pipeline.Rect {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recos[recoID].Box
}

// waitFreezes simulates waiting for the screen to settle: on a screen that
// never changes, the freeze window elapses exactly once.
func (e *Engine) waitFreezes(w *pipeline.WaitFreezes) {
	e.sleep(w.Time)
}

// runAction executes one action repetition, records its detail and emits
// the action trace events. The third return reports a StopTask action.
func (e *Engine) runAction(run *taskRun, name string, nodeID int64, node *pipeline.Node, box pipeline.Rect) (int64, bool, bool) {
	id := e.nextID.Add(1)
	act := node.Action
	focus := focusPayload(node)

	e.emitAction(notify.PrefixNodeActionNode+notify.SuffixStarting, run.id, 0, name, nil)
	if focus != nil {
		e.emitAction(notify.PrefixNodeAction+notify.SuffixStarting, run.id, 0, name, focus)
	}

	success, stopped, resolved, det := e.performAction(run, name, nodeID, act, box)

	e.mu.Lock()
	e.acts[id] = detail.ActionQuery{
		NodeName: name,
		Action:   act.Type,
		Box:      resolved,
		Success:  success,
		Detail:   det,
	}
	e.mu.Unlock()

	suffix := notify.SuffixFailed
	if success {
		suffix = notify.SuffixSucceeded
	}
	e.emitAction(notify.PrefixNodeActionNode+suffix, run.id, id, name, nil)
	if focus != nil {
		e.emitAction(notify.PrefixNodeAction+suffix, run.id, id, name, focus)
	}
	return id, success, stopped
}

func (e *Engine) emitAction(msg string, taskID, actionID int64, name string, focus json.RawMessage) {
	e.emit(msg, notify.NodeActionDetail{TaskID: taskID, ActionID: actionID, Name: name, Focus: focus})
}

// performAction simulates one action. Positional actions resolve their
// target against the recognition box; process actions succeed without side
// effects; custom actions go through the registry.
func (e *Engine) performAction(run *taskRun, name string, nodeID int64, act pipeline.Action, box pipeline.Rect) (success, stopped bool, resolved pipeline.Rect, det json.RawMessage) {
	success = true
	switch p := act.Param.(type) {
	case *pipeline.DoNothing:
	case *pipeline.StopTask:
		stopped = true
	case *pipeline.Click:
		resolved = e.resolveTarget(p.Target, p.TargetOffset, box)
	case *pipeline.LongPress:
		resolved = e.resolveTarget(p.Target, p.TargetOffset, box)
		e.sleep(p.Duration)
	case *pipeline.Swipe:
		resolved = e.swipeBox(p, box)
	case *pipeline.MultiSwipe:
		for _, s := range p.Swipes {
			resolved = e.swipeBox(&s, box)
		}
	case *pipeline.Touch:
		resolved = e.resolveTarget(p.Target, p.TargetOffset, box)
	case *pipeline.TouchUp:
	case *pipeline.KeyList:
		det, _ = json.Marshal(map[string]any{"key": p.Key})
	case *pipeline.LongPressKey:
		det, _ = json.Marshal(map[string]any{"key": p.Key})
		e.sleep(p.Duration)
	case *pipeline.SingleKey:
		det, _ = json.Marshal(map[string]any{"key": p.Key})
	case *pipeline.InputText:
		det, _ = json.Marshal(map[string]any{"input_text": p.InputText})
	case *pipeline.App:
		det, _ = json.Marshal(map[string]any{"package": p.Package})
	case *pipeline.Scroll:
		resolved = e.resolveTarget(p.Target, p.TargetOffset, box)
		det, _ = json.Marshal(map[string]any{"dx": p.DX, "dy": p.DY})
	case *pipeline.Command:
		det, _ = json.Marshal(map[string]any{"exec": p.Exec, "args": p.Args})
	case *pipeline.Shell:
		det, _ = json.Marshal(map[string]any{"cmd": p.Cmd})
	case *pipeline.CustomAction:
		resolved = e.resolveTarget(p.Target, p.TargetOffset, box)
		success = e.registry.Run(run.ctx, custom.ActionArg{
			TaskID:   run.id,
			NodeID:   nodeID,
			NodeName: name,
			Name:     p.CustomAction,
			Param:    p.CustomActionParam,
			Box:      resolved,
		})
	}
	return success, stopped, resolved, det
}

func (e *Engine) swipeBox(s *pipeline.Swipe, box pipeline.Rect) pipeline.Rect {
	resolved := e.resolveTarget(s.Begin, s.BeginOffset, box)
	for i, end := range s.End {
		var offset pipeline.Rect
		if i < len(s.EndOffset) {
			offset = s.EndOffset[i]
		}
		resolved = e.resolveTarget(end, offset, box)
		if i < len(s.Duration) {
			e.sleep(s.Duration[i])
		}
		if i < len(s.EndHold) {
			e.sleep(s.EndHold[i])
		}
	}
	return resolved
}

// runRecognitionOnly evaluates the entry's recognition without running its
// action or following its next list. The task detail carries one node
// whose completion mirrors the hit.
func (e *Engine) runRecognitionOnly(item workItem) {
	e.setStatus(item.id, job.StatusRunning)
	rec := &taskRec{entry: item.entry, status: job.StatusRunning}
	e.mu.Lock()
	e.tasks[item.id] = rec
	e.mu.Unlock()

	node, ok := e.prepareSingle(item)
	if !ok {
		e.finishSingle(item.id, rec, false)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	run := &taskRun{id: item.id, entry: item.entry, ctx: ctx, cancel: cancel, hits: map[string]uint32{}}

	recoID, hit := e.recognize(run, item.entry, node)

	nodeID := e.nextID.Add(1)
	e.mu.Lock()
	e.nodes[nodeID] = detail.NodeQuery{NodeName: item.entry, RecoID: recoID, Completed: hit}
	e.latest[item.entry] = nodeID
	rec.nodeIDs = append(rec.nodeIDs, nodeID)
	e.mu.Unlock()

	e.finishSingle(item.id, rec, hit)
}

// runActionOnly executes the entry's action without evaluating its
// recognition. The target box resolves with an empty recognition box.
func (e *Engine) runActionOnly(item workItem) {
	e.setStatus(item.id, job.StatusRunning)
	rec := &taskRec{entry: item.entry, status: job.StatusRunning}
	e.mu.Lock()
	e.tasks[item.id] = rec
	e.mu.Unlock()

	node, ok := e.prepareSingle(item)
	if !ok {
		e.finishSingle(item.id, rec, false)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	run := &taskRun{id: item.id, entry: item.entry, ctx: ctx, cancel: cancel, hits: map[string]uint32{}}

	nodeID := e.nextID.Add(1)
	actID, success, _ := e.runAction(run, item.entry, nodeID, node, pipeline.Rect{})

	e.mu.Lock()
	e.nodes[nodeID] = detail.NodeQuery{NodeName: item.entry, ActionID: actID, Completed: success}
	e.latest[item.entry] = nodeID
	rec.nodeIDs = append(rec.nodeIDs, nodeID)
	e.mu.Unlock()

	e.finishSingle(item.id, rec, success)
}

func (e *Engine) prepareSingle(item workItem) (*pipeline.Node, bool) {
	if item.override != nil {
		if err := e.table.Override(item.override); err != nil {
			e.log.Warn("override rejected", "entry", item.entry, "err", err)
			return nil, false
		}
	}
	node, ok := e.table.Get(item.entry)
	if !ok {
		e.log.Warn("entry not found", "entry", item.entry)
		return nil, false
	}
	return node, true
}

func (e *Engine) finishSingle(id int64, rec *taskRec, ok bool) {
	status := job.StatusFailed
	if ok {
		status = job.StatusSucceeded
	}
	e.mu.Lock()
	rec.status = status
	e.mu.Unlock()
	e.setStatus(id, status)
}
