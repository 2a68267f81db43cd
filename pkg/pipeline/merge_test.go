package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustNode(t *testing.T, in string) *Node {
	t.Helper()
	var n Node
	require.NoError(t, json.Unmarshal([]byte(in), &n))
	return &n
}

func TestMergeTopLevelReplace(t *testing.T) {
	existing := mustNode(t, `{"next": ["A"], "timeout": 5000, "pre_delay": 50}`)
	merged, err := Merge(existing, []byte(`{"next": ["B"], "timeout": 100}`))
	require.NoError(t, err)

	assert.Equal(t, []NodeAttr{{Name: "B"}}, merged.Next)
	assert.Equal(t, int32(100), merged.Timeout)
	assert.Equal(t, int32(50), merged.PreDelay)
}

func TestMergeParamInheritance(t *testing.T) {
	existing := mustNode(t, `{"recognition": {"type": "TemplateMatch",
		"param": {"template": "ok.png", "threshold": [0.9], "green_mask": true}}}`)

	merged, err := Merge(existing, []byte(`{"recognition": {"type": "TemplateMatch",
		"param": {"threshold": [0.5]}}}`))
	require.NoError(t, err)

	p := merged.Recognition.Param.(*TemplateMatch)
	assert.Equal(t, Of("ok.png"), p.Template)
	assert.Equal(t, Of(0.5), p.Threshold)
	assert.True(t, p.GreenMask)
}

func TestMergeOmittedTypeKeepsDiscriminant(t *testing.T) {
	existing := mustNode(t, `{"recognition": {"type": "OCR", "param": {"expected": "Go"}}}`)

	merged, err := Merge(existing, []byte(`{"recognition": {"param": {"threshold": 0.6}}}`))
	require.NoError(t, err)

	p := merged.Recognition.Param.(*OCR)
	assert.Equal(t, Of("Go"), p.Expected)
	assert.Equal(t, 0.6, p.Threshold)
}

func TestMergeDiscriminantChangeResets(t *testing.T) {
	existing := mustNode(t, `{"recognition": {"type": "TemplateMatch",
		"param": {"template": "ok.png", "threshold": [0.9]}}}`)

	merged, err := Merge(existing, []byte(`{"recognition": {"type": "OCR",
		"param": {"expected": "Done"}}}`))
	require.NoError(t, err)

	p := merged.Recognition.Param.(*OCR)
	assert.Equal(t, Of("Done"), p.Expected)
	assert.Equal(t, 0.3, p.Threshold)
}

func TestMergeDiscriminantChangeDemandsRequired(t *testing.T) {
	existing := mustNode(t, `{"recognition": "DirectHit"}`)

	_, err := Merge(existing, []byte(`{"recognition": {"type": "TemplateMatch", "param": {}}}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestMergeBareNameResetsToDefaults(t *testing.T) {
	existing := mustNode(t, `{"action": {"type": "Click", "param": {"target": [1, 2]}}}`)

	merged, err := Merge(existing, []byte(`{"action": "Click"}`))
	require.NoError(t, err)
	assert.Equal(t, &Click{Target: AutoTarget(), Pressure: 1}, merged.Action.Param)
}

func TestMergeCompositeSubListInheritance(t *testing.T) {
	existing := mustNode(t, `{"recognition": {"type": "Or",
		"param": {"any_of": ["A", "B"]}}}`)

	merged, err := Merge(existing, []byte(`{"recognition": {"type": "Or", "param": {}}}`))
	require.NoError(t, err)

	p := merged.Recognition.Param.(*Or)
	require.Len(t, p.AnyOf, 2)
	assert.Equal(t, "A", p.AnyOf[0].Ref)
}

func TestMergeOverNilUsesDefaults(t *testing.T) {
	merged, err := Merge(nil, []byte(`{"action": "Click"}`))
	require.NoError(t, err)
	assert.Equal(t, RecognitionDirectHit, merged.Recognition.Type)
	assert.Equal(t, ActionClick, merged.Action.Type)
	assert.Equal(t, int32(200), merged.PreDelay)
}

func TestMergeLeavesExistingUntouchedOnError(t *testing.T) {
	existing := mustNode(t, `{"timeout": 5000}`)
	_, err := Merge(existing, []byte(`{"recognition": "Telepathy"}`))
	require.Error(t, err)
	assert.Equal(t, int32(5000), existing.Timeout)
}

func TestTableOverrideAtomic(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Override([]byte(`{"A": {"next": ["B"]}, "B": {}}`)))
	assert.Equal(t, 2, tbl.Len())

	// The second node's bad recognition must prevent the first from landing.
	err := tbl.Override([]byte(`{"A": {"timeout": 1}, "C": {"recognition": "Nope"}}`))
	require.Error(t, err)

	a, ok := tbl.Get("A")
	require.True(t, ok)
	assert.Equal(t, int32(20000), a.Timeout)
	_, ok = tbl.Get("C")
	assert.False(t, ok)
}

func TestTableOverrideRejectsDanglingReference(t *testing.T) {
	tbl := NewTable()
	err := tbl.Override([]byte(`{"A": {"next": ["Ghost"]}}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadReference)
}

func TestTableOverrideAllowsIntraBatchReference(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Override([]byte(`{"A": {"next": ["B"]}, "B": {"on_error": ["A"]}}`)))
}

func TestTableOverrideNext(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Override([]byte(`{"A": {"next": ["B"]}, "B": {}, "C": {}}`)))

	require.NoError(t, tbl.OverrideNext("A", []NodeAttr{{Name: "C"}}))
	a, _ := tbl.Get("A")
	assert.Equal(t, []NodeAttr{{Name: "C"}}, a.Next)

	err := tbl.OverrideNext("Ghost", nil)
	assert.ErrorIs(t, err, ErrNodeNotFound)

	err = tbl.OverrideNext("A", []NodeAttr{{Name: "Ghost"}})
	assert.ErrorIs(t, err, ErrBadReference)
}

func TestTableNames(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Override([]byte(`{"B": {}, "A": {}}`)))
	assert.Equal(t, []string{"A", "B"}, tbl.Names())
}
