package bt

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const guardJSON = `{
  "name": "guard",
  "root": "root",
  "variables": [
    {"name": "alarm", "type": "bool"},
    {"name": "hp", "type": "float", "value": 80},
    {"name": "home", "type": "vector2", "value": {"x": 1, "y": 2}},
    {"name": "state", "type": "string", "value": "idle"}
  ],
  "nodes": [
    {"id": "root", "kind": "Selector", "children": ["flee", "patrol"]},
    {"id": "flee", "kind": "Sequence", "title": "Flee when hurt", "children": ["low", "set-flee"]},
    {"id": "low", "kind": "Compare", "params": {"op": "<"},
     "variables": [{"name": "left", "link": "hp"}, {"name": "right", "value": 30}]},
    {"id": "set-flee", "kind": "SetVariable", "params": {"key": "state", "value": "flee"}},
    {"id": "patrol", "kind": "Sequence", "children": ["alarm-off", "chance", "log"]},
    {"id": "alarm-off", "kind": "IsTrue", "mute": true, "variables": [{"name": "value", "link": "alarm"}]},
    {"id": "chance", "kind": "Probability", "children": ["wait"], "variables": [{"name": "chance", "value": 0.5}]},
    {"id": "wait", "kind": "Timer", "children": ["log-wait"], "variables": [{"name": "duration", "value": 1}]},
    {"id": "log-wait", "kind": "Log", "params": {"message": "waited", "level": "debug"}},
    {"id": "log", "kind": "Log", "params": {"message": "patrolling"}}
  ],
  "groups": [{"title": "patrol", "members": ["patrol", "alarm-off", "chance", "wait"]}]
}`

func loadJSON(t *testing.T, src string) (*Tree, error) {
	t.Helper()
	a, err := Decode(strings.NewReader(src), FormatJSON)
	require.NoError(t, err)
	return Load(a, Default())
}

func TestLoadGuardTree(t *testing.T) {
	tree, err := loadJSON(t, guardJSON)
	require.NoError(t, err)
	require.Equal(t, "guard", tree.Name())
	require.Equal(t, NodeID("root"), tree.RootID())
	require.Equal(t, 10, tree.Len())

	flee, _ := tree.Node("flee")
	require.Equal(t, "Flee when hurt", flee.Title())
	wait, _ := tree.Node("wait")
	require.Equal(t, "Timer", wait.Kind())
	require.Equal(t, CategoryDecorator, wait.Category())
	mute, _ := tree.Node("alarm-off")
	require.True(t, mute.(Condition).Muted())

	groups := tree.GroupsOf("chance")
	require.Len(t, groups, 1)
	require.Equal(t, "patrol", groups[0].Title())

	ec := start(t, tree, WithSeed(1))
	require.NoError(t, ec.Blackboard().Set("hp", 10.0))
	require.Equal(t, StatusSuccess, tick(t, tree, ec))
	state, _ := Get[string](ec.Blackboard(), "state")
	require.Equal(t, "flee", state)
}

func TestAssetRoundTripAcrossFormats(t *testing.T) {
	tree, err := loadJSON(t, guardJSON)
	require.NoError(t, err)
	want := tree.Asset()

	for _, f := range []Format{FormatJSON, FormatYAML, FormatTOML} {
		t.Run(string(f), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Encode(&buf, want, f))
			decoded, err := Decode(&buf, f)
			require.NoError(t, err)
			reloaded, err := Load(decoded, Default())
			require.NoError(t, err)
			assert.Equal(t, want, reloaded.Asset())
		})
	}
}

func TestLoadIsDeterministic(t *testing.T) {
	run := func() []Status {
		tree, err := loadJSON(t, guardJSON)
		require.NoError(t, err)
		clock := newClock()
		ec := start(t, tree, WithClock(clock.Now), WithSeed(7))
		var out []Status
		for i := 0; i < 24; i++ {
			if i == 12 {
				require.NoError(t, ec.Blackboard().Set("hp", 5.0))
			}
			st, err := tree.Tick(context.Background(), ec)
			require.NoError(t, err)
			out = append(out, st)
			if ec.State().Done() {
				require.NoError(t, tree.ResetContext(ec))
			}
			clock.Advance(400 * time.Millisecond)
		}
		return out
	}
	require.Equal(t, run(), run())
}

func TestFingerprint(t *testing.T) {
	a, err := Decode(strings.NewReader(guardJSON), FormatJSON)
	require.NoError(t, err)
	b, err := Decode(strings.NewReader(guardJSON), FormatJSON)
	require.NoError(t, err)

	fa, err := Fingerprint(a)
	require.NoError(t, err)
	fb, err := Fingerprint(b)
	require.NoError(t, err)
	require.Equal(t, fa, fb)

	b.Nodes[0].Children = b.Nodes[0].Children[:1]
	fb, err = Fingerprint(b)
	require.NoError(t, err)
	require.NotEqual(t, fa, fb)
}

func TestLoadRejectsMalformedAssets(t *testing.T) {
	cases := []struct {
		name  string
		asset string
		want  error
	}{
		{"decorator without child", `{"name":"t","root":"r","nodes":[
			{"id":"r","kind":"Sequence","children":["d"]},{"id":"d","kind":"Inverter"}]}`, ErrMissingChild},
		{"missing root", `{"name":"t","root":"x","nodes":[{"id":"r","kind":"Success"}]}`, ErrMissingRoot},
		{"unknown kind", `{"name":"t","root":"r","nodes":[{"id":"r","kind":"Teleport"}]}`, ErrUnknownKind},
		{"unknown child", `{"name":"t","root":"r","nodes":[{"id":"r","kind":"Sequence","children":["ghost"]}]}`, ErrUnknownChild},
		{"duplicate id", `{"name":"t","root":"r","nodes":[{"id":"r","kind":"Success"},{"id":"r","kind":"Failure"}]}`, ErrDuplicateNode},
		{"unresolved link", `{"name":"t","root":"r","nodes":[
			{"id":"r","kind":"IsTrue","variables":[{"name":"value","link":"nope"}]}]}`, ErrUnresolvedLink},
		{"link type mismatch", `{"name":"t","root":"r","variables":[{"name":"n","type":"int"}],"nodes":[
			{"id":"r","kind":"IsTrue","variables":[{"name":"value","link":"n"}]}]}`, ErrTypeMismatch},
		{"bad literal", `{"name":"t","root":"r","nodes":[
			{"id":"r","kind":"Wait","variables":[{"name":"duration","value":"soon"}]}]}`, ErrTypeMismatch},
		{"unknown variable", `{"name":"t","root":"r","nodes":[
			{"id":"r","kind":"Wait","variables":[{"name":"speed","value":1}]}]}`, ErrUnknownVariable},
		{"muted action", `{"name":"t","root":"r","nodes":[{"id":"r","kind":"Success","mute":true}]}`, ErrInvalidParam},
		{"unknown param", `{"name":"t","root":"r","nodes":[{"id":"r","kind":"Log","params":{"colour":"red"}}]}`, ErrInvalidParam},
		{"leaf with children", `{"name":"t","root":"r","nodes":[
			{"id":"r","kind":"Success","children":["c"]},{"id":"c","kind":"Failure"}]}`, ErrInvalidParam},
		{"two children on decorator", `{"name":"t","root":"r","nodes":[
			{"id":"r","kind":"Inverter","children":["a","b"]},{"id":"a","kind":"Success"},{"id":"b","kind":"Failure"}]}`, ErrInvalidParam},
		{"bad expression", `{"name":"t","root":"r","nodes":[{"id":"r","kind":"Expression","params":{"expr":"1 +"}}]}`, ErrInvalidParam},
		{"orphan", `{"name":"t","root":"r","nodes":[{"id":"r","kind":"Success"},{"id":"o","kind":"Failure"}]}`, ErrOrphan},
		{"cycle", `{"name":"t","root":"r","nodes":[
			{"id":"r","kind":"Sequence","children":["i"]},{"id":"i","kind":"Inverter","children":["r"]}]}`, ErrCycle},
		{"group member", `{"name":"t","root":"r","nodes":[{"id":"r","kind":"Success"}],
			"groups":[{"title":"g","members":["r","gone"]}]}`, ErrGroupMember},
		{"value and link", `{"name":"t","root":"r","variables":[{"name":"b","type":"bool"}],"nodes":[
			{"id":"r","kind":"IsTrue","variables":[{"name":"value","value":true,"link":"b"}]}]}`, ErrInvalidParam},
		{"repeated group member", `{"name":"t","root":"r","nodes":[{"id":"r","kind":"Success"}],
			"groups":[{"title":"g","members":["r","r"]}]}`, ErrGroupMember},
		{"bad variable type", `{"name":"t","root":"r","variables":[{"name":"m","type":"matrix"}],
			"nodes":[{"id":"r","kind":"Success"}]}`, ErrInvalidSchema},
		{"parallel count", `{"name":"t","root":"r","nodes":[
			{"id":"r","kind":"Parallel","params":{"success":5},"children":["a"]},{"id":"a","kind":"Success"}]}`, ErrInvalidParam},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tree, err := loadJSON(t, tc.asset)
			require.Nil(t, tree)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	_, err := Decode(strings.NewReader(`{"name":"t","rooot":"r","nodes":[]}`), FormatJSON)
	require.Error(t, err)
	_, err = Decode(strings.NewReader("name: t\nnodez: []\n"), FormatYAML)
	require.Error(t, err)

	f, err := FormatFromPath("trees/guard.YML")
	require.NoError(t, err)
	require.Equal(t, FormatYAML, f)
	_, err = FormatFromPath("guard.xml")
	require.Error(t, err)
}
