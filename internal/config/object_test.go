package config

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
	"pgregory.net/rapid"
)

func TestAccessorsAreStrict(t *testing.T) {
	o := New()
	o.SetBool("agc.enabled", true)
	o.SetInt("mf.type", 1)
	o.SetFloat("mf.roll-off", 0.35)

	b, err := o.Bool("agc.enabled")
	require.NoError(t, err)
	assert.True(t, b)

	_, err = o.Int("agc.enabled")
	assert.True(t, errors.Is(err, ErrWrongType))

	_, err = o.Bool("missing")
	assert.True(t, errors.Is(err, ErrMissingField))

	f, err := o.Float("mf.type")
	require.NoError(t, err, "integers widen to float")
	assert.Equal(t, 1.0, f)

	_, err = o.Int("mf.roll-off")
	assert.True(t, errors.Is(err, ErrWrongType), "floats never narrow to int")
}

func TestKeysKeepInsertionOrder(t *testing.T) {
	o := New()
	o.SetInt("b", 1)
	o.SetInt("a", 2)
	o.SetInt("b", 3)
	assert.Equal(t, []string{"b", "a"}, o.Keys())
	n, _ := o.Int("b")
	assert.EqualValues(t, 3, n)
}

func TestYAMLTypesSurvive(t *testing.T) {
	doc := []byte("agc.enabled: false\nagc.gain: 1\nmf.roll-off: 0.35\nclock.type: 1\nname: bpsk\n")
	o := New()
	require.NoError(t, yaml.Unmarshal(doc, o))

	v, _ := o.Lookup("agc.gain")
	assert.Equal(t, KindInt, v.Kind)
	v, _ = o.Lookup("mf.roll-off")
	assert.Equal(t, KindFloat, v.Kind)
	v, _ = o.Lookup("name")
	assert.Equal(t, KindString, v.Kind)

	out, err := yaml.Marshal(o)
	require.NoError(t, err)
	back := New()
	require.NoError(t, yaml.Unmarshal(out, back))
	assert.True(t, o.Equal(back))
	assert.Equal(t, o.Keys(), back.Keys())
}

func TestYAMLRejectsNested(t *testing.T) {
	o := New()
	err := yaml.Unmarshal([]byte("agc:\n  enabled: true\n"), o)
	assert.True(t, errors.Is(err, ErrWrongType))
}

func TestJSONRejectsNested(t *testing.T) {
	o := New()
	err := json.Unmarshal([]byte(`{"agc":{"enabled":true}}`), o)
	assert.Error(t, err)
	err = json.Unmarshal([]byte(`{"x":null}`), o)
	assert.Error(t, err)
}

func TestJSONFloatWithoutFraction(t *testing.T) {
	o := New()
	o.SetFloat("clock.baud", 1200)
	data, err := json.Marshal(o)
	require.NoError(t, err)
	assert.JSONEq(t, `{"clock.baud":1200.0}`, string(data))

	back := New()
	require.NoError(t, json.Unmarshal(data, back))
	v, _ := back.Lookup("clock.baud")
	assert.Equal(t, KindFloat, v.Kind)
}

func TestRoundTripPreservesKinds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		o := New()
		n := rapid.IntRange(0, 12).Draw(t, "n")
		for i := 0; i < n; i++ {
			key := rapid.StringMatching(`[a-z]{1,6}\.[a-z-]{1,8}`).Draw(t, "key")
			switch rapid.IntRange(0, 3).Draw(t, "kind") {
			case 0:
				o.SetBool(key, rapid.Bool().Draw(t, "b"))
			case 1:
				o.SetInt(key, rapid.Int64().Draw(t, "i"))
			case 2:
				o.SetFloat(key, rapid.Float64Range(-1e9, 1e9).Draw(t, "f"))
			default:
				o.SetString(key, rapid.StringMatching(`[a-z0-9 ]{0,10}`).Draw(t, "s"))
			}
		}

		js, err := json.Marshal(o)
		if err != nil {
			t.Fatalf("marshal json: %v", err)
		}
		fromJSON := New()
		if err := json.Unmarshal(js, fromJSON); err != nil {
			t.Fatalf("unmarshal json: %v", err)
		}
		if !o.Equal(fromJSON) {
			t.Fatalf("json round trip changed object: %s", js)
		}

		ys, err := yaml.Marshal(o)
		if err != nil {
			t.Fatalf("marshal yaml: %v", err)
		}
		fromYAML := New()
		if err := yaml.Unmarshal(ys, fromYAML); err != nil {
			t.Fatalf("unmarshal yaml: %v", err)
		}
		if !o.Equal(fromYAML) {
			t.Fatalf("yaml round trip changed object:\n%s", ys)
		}
	})
}

func TestMergeOverwritesAndAppends(t *testing.T) {
	base := New()
	base.SetInt("a", 1)
	base.SetBool("b", true)

	patch := New()
	patch.SetFloat("a", 2.5)
	patch.SetString("c", "x")
	base.Merge(patch)

	assert.Equal(t, []string{"a", "b", "c"}, base.Keys())
	f, err := base.Float("a")
	require.NoError(t, err)
	assert.Equal(t, 2.5, f)
	_, err = base.Int("a")
	assert.ErrorIs(t, err, ErrWrongType)
}
