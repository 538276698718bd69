package taint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeLaws(t *testing.T) {
	a := NewSensitive("IMEI")
	a.AddFlowDetail("icc-send-arg")
	b := New(Insensitive, PreSink)
	c := NewSensitive("Latitude", "IMSI")

	t.Run("idempotent", func(t *testing.T) {
		self := a.Clone()
		self.Merge(a)
		assert.True(t, self.Equal(a))
	})

	t.Run("commutative", func(t *testing.T) {
		assert.True(t, Merged(a, b).Equal(Merged(b, a)))
	})

	t.Run("associative", func(t *testing.T) {
		left := Merged(Merged(a, b), c)
		right := Merged(a, Merged(b, c))
		assert.True(t, left.Equal(right))
	})

	t.Run("sensitive wins", func(t *testing.T) {
		m := Merged(b, a)
		assert.True(t, m.IsSensitive())
		low := b.Clone()
		low.Merge(a)
		assert.Equal(t, Sensitive, low.Tag)
	})

	t.Run("never downgraded", func(t *testing.T) {
		high := a.Clone()
		high.Merge(b)
		assert.True(t, high.IsSensitive())
		assert.ElementsMatch(t, []string{"IMEI", PreSink}, high.Sources.Sorted())
	})
}

func TestNilSafety(t *testing.T) {
	var nilTaint *Taint
	assert.False(t, nilTaint.IsSensitive())
	assert.False(t, nilTaint.HasSource("IMEI"))
	assert.Nil(t, nilTaint.Clone())
	assert.Nil(t, Merged(nil, nil))
	nilTaint.AddFlowDetail("ignored")

	m := Merged(nil, NewSensitive("ICCID"))
	require.NotNil(t, m)
	assert.Equal(t, []string{"ICCID"}, m.Sources.Sorted())
}

func TestCloneIsIndependent(t *testing.T) {
	orig := NewSensitive("IMEI")
	clone := orig.Clone()
	clone.Sources.Add("IMSI")
	clone.AddFlowDetail("reflection-ret")

	assert.Equal(t, []string{"IMEI"}, orig.Sources.Sorted())
	assert.Empty(t, orig.FlowDetails)
}

func TestSourcesWithout(t *testing.T) {
	tt := NewSensitive("IMEI", PreSink, "ICCID")
	assert.Equal(t, []string{"ICCID", "IMEI"}, tt.SourcesWithout(PreSink))
}

func TestSetJSON(t *testing.T) {
	s := NewSet("b", "a")
	b, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `["a","b"]`, string(b))

	var back Set
	require.NoError(t, back.UnmarshalJSON(b))
	assert.True(t, back.Equal(s))
}
