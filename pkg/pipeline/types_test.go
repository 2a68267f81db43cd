package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListScalarPromotion(t *testing.T) {
	var l List[float64]
	require.NoError(t, json.Unmarshal([]byte(`0.8`), &l))
	assert.Equal(t, Of(0.8), l)

	require.NoError(t, json.Unmarshal([]byte(`[0.7, 0.9]`), &l))
	assert.Equal(t, Of(0.7, 0.9), l)
}

func TestListAlwaysMarshalsAsArray(t *testing.T) {
	data, err := json.Marshal(Of("a"))
	require.NoError(t, err)
	assert.JSONEq(t, `["a"]`, string(data))

	data, err = json.Marshal(List[string](nil))
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))
}

func TestRectWireFormat(t *testing.T) {
	var r Rect
	require.NoError(t, json.Unmarshal([]byte(`[10, 20, 30, 40]`), &r))
	assert.Equal(t, Rect{X: 10, Y: 20, W: 30, H: 40}, r)

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `[10, 20, 30, 40]`, string(data))

	assert.Error(t, json.Unmarshal([]byte(`[1, 2, 3]`), &r))
	assert.Error(t, json.Unmarshal([]byte(`"nope"`), &r))
}

func TestRectOffset(t *testing.T) {
	got := Rect{X: 1, Y: 2, W: 3, H: 4}.Offset(Rect{X: 10, Y: 10, W: -1, H: -1})
	assert.Equal(t, Rect{X: 11, Y: 12, W: 2, H: 3}, got)
}

func TestTargetWireForms(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Target
	}{
		{"auto", `true`, AutoTarget()},
		{"auto false", `false`, Target{Kind: TargetAuto}},
		{"node", `"LoginButton"`, NodeTarget("LoginButton")},
		{"point", `[100, 200]`, PointTarget(100, 200)},
		{"region", `[1, 2, 3, 4]`, RegionTarget(1, 2, 3, 4)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Target
			require.NoError(t, json.Unmarshal([]byte(tt.in), &got))
			assert.Equal(t, tt.want, got)

			data, err := json.Marshal(got)
			require.NoError(t, err)
			assert.JSONEq(t, tt.in, string(data))
		})
	}
}

func TestTargetRejectsBadArity(t *testing.T) {
	var tg Target
	assert.Error(t, json.Unmarshal([]byte(`[1, 2, 3]`), &tg))
	assert.Error(t, json.Unmarshal([]byte(`{"x": 1}`), &tg))
}

func TestNodeAttrShorthand(t *testing.T) {
	tests := []struct {
		in   string
		want NodeAttr
	}{
		{`"Confirm"`, NodeAttr{Name: "Confirm"}},
		{`"[JumpBack]Confirm"`, NodeAttr{Name: "Confirm", JumpBack: true}},
		{`"[Anchor]Home"`, NodeAttr{Name: "Home", Anchor: true}},
		{`{"name": "Confirm", "jump_back": true}`, NodeAttr{Name: "Confirm", JumpBack: true}},
	}
	for _, tt := range tests {
		var got NodeAttr
		require.NoError(t, json.Unmarshal([]byte(tt.in), &got))
		assert.Equal(t, tt.want, got)
	}
}

func TestNodeAttrString(t *testing.T) {
	assert.Equal(t, "A", NodeAttr{Name: "A"}.String())
	assert.Equal(t, "[JumpBack]A", NodeAttr{Name: "A", JumpBack: true}.String())
	assert.Equal(t, "[Anchor]A", NodeAttr{Name: "A", Anchor: true}.String())
}

func TestParseNextList(t *testing.T) {
	attrs, err := ParseNextList([]byte(`["A", "[JumpBack]B", {"name": "C", "anchor": true}]`))
	require.NoError(t, err)
	assert.Equal(t, []NodeAttr{
		{Name: "A"},
		{Name: "B", JumpBack: true},
		{Name: "C", Anchor: true},
	}, attrs)
}

func TestWaitFreezesShorthand(t *testing.T) {
	var w WaitFreezes
	require.NoError(t, json.Unmarshal([]byte(`500`), &w))
	want := DefaultWaitFreezes()
	want.Time = 500
	assert.Equal(t, want, w)
}

func TestWaitFreezesObjectOverDefaults(t *testing.T) {
	var w WaitFreezes
	require.NoError(t, json.Unmarshal([]byte(`{"threshold": 0.99}`), &w))
	assert.Equal(t, int32(1), w.Time)
	assert.Equal(t, 0.99, w.Threshold)
	assert.Equal(t, int32(5), w.Method)
	assert.Equal(t, int32(20000), w.Timeout)
}
