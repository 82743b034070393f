package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActionStringFormatting(t *testing.T) {
	assert.Equal(t, "perform(update)", New(Perform, Update).String())
	assert.Equal(t, "configure", New(Configure, Noop).String())
}

func TestActionFallback(t *testing.T) {
	_, ok := New(Perform, Update).Fallback()
	assert.False(t, ok, "perform has no fallback")

	mo, ok := New(Configure, Update).Fallback()
	assert.True(t, ok)
	assert.Equal(t, Perform, mo)

	mo, ok = New(Dist, Update).Fallback()
	assert.True(t, ok)
	assert.Equal(t, Perform, mo)
}

func TestActionNewDefaultsInnerToSelf(t *testing.T) {
	a := New(Perform, Test)
	assert.Equal(t, Action2{Meta: Perform, Op: Test}, a.Inner)
}

func TestActionWithInnerOverridesOnlyInner(t *testing.T) {
	a := New(Perform, Test).WithInner(Perform, Update)
	assert.Equal(t, Perform, a.Meta)
	assert.Equal(t, Test, a.Op)
	assert.Equal(t, Action2{Meta: Perform, Op: Update}, a.Inner)
}
