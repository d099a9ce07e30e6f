package mordor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFiberCallYield mirrors the basic-yield source test: a main fiber
// calls into a worker, observes both sides report EXEC while the call is
// in flight, and the worker suspends itself with Yield rather than
// returning.
func TestFiberCallYield(t *testing.T) {
	main := NewRootFiber(WithFiberName("main"))
	defer unregisterFiberGoroutine()

	var sawMainState, sawSelfState FiberState
	calls := 0

	a, err := NewFiber(func() {
		calls++
		sawMainState = main.State()
		sawSelfState = CurrentFiber().State()
		Yield()
	}, DefaultStackSize, WithFiberName("A"))
	require.NoError(t, err)

	assert.Equal(t, StateExec, main.State())
	assert.Equal(t, StateInit, a.State())

	require.NoError(t, a.Call())
	assert.Equal(t, StateExec, sawMainState, "Call must not change the caller's state")
	assert.Equal(t, StateExec, sawSelfState)
	assert.Equal(t, StateExec, main.State())
	assert.Equal(t, StateHold, a.State())
	assert.Equal(t, 1, calls)

	require.NoError(t, a.Call())
	assert.Equal(t, StateExec, main.State())
	assert.Equal(t, StateTerm, a.State())
	assert.Equal(t, 1, calls)
}

// TestFiberReset mirrors reset-after-terminate: a TERM fiber can be
// reset to run a new entry procedure from StateHold.
func TestFiberReset(t *testing.T) {
	NewRootFiber(WithFiberName("main"))
	defer unregisterFiberGoroutine()

	a, err := NewFiber(func() {}, DefaultStackSize)
	require.NoError(t, err)
	require.NoError(t, a.Call())
	assert.Equal(t, StateTerm, a.State())

	ran := false
	require.NoError(t, a.Reset(func() { ran = true }))
	assert.Equal(t, StateHold, a.State())

	require.NoError(t, a.Call())
	assert.True(t, ran)
	assert.Equal(t, StateTerm, a.State())
}

// TestFiberYieldToSymmetric mirrors the symmetric-yieldTo source test:
// YieldTo, unlike Call, transitions the caller to HOLD, so something else
// must explicitly transfer back.
func TestFiberYieldToSymmetric(t *testing.T) {
	main := NewRootFiber(WithFiberName("main"))
	defer unregisterFiberGoroutine()

	var observedMain FiberState
	var b *Fiber
	b, err := NewFiber(func() {
		observedMain = main.State()
		main.YieldTo()
	}, DefaultStackSize, WithFiberName("B"))
	require.NoError(t, err)

	b.YieldTo()
	assert.Equal(t, StateHold, observedMain, "YieldTo must put the caller in HOLD")
	assert.Equal(t, StateExec, main.State())
	assert.Equal(t, StateHold, b.State())
}

// TestFiberPanicCapturedAsUserCodeFailure verifies that a panicking entry
// procedure transitions to EXCEPT and re-raises as an error from Call.
func TestFiberPanicCapturedAsUserCodeFailure(t *testing.T) {
	NewRootFiber(WithFiberName("main"))
	defer unregisterFiberGoroutine()

	a, err := NewFiber(func() {
		panic("boom")
	}, DefaultStackSize)
	require.NoError(t, err)

	err = a.Call()
	require.Error(t, err)
	var pe *PanicError
	assert.ErrorAs(t, err, &pe)
	assert.Equal(t, "boom", pe.Value)
	assert.Equal(t, StateExcept, a.State())
}

// TestFiberCallSelfPanics checks the invariant-violation path: a fiber
// calling itself while already EXEC is rejected.
func TestFiberCallSelfPanics(t *testing.T) {
	NewRootFiber(WithFiberName("main"))
	defer unregisterFiberGoroutine()

	var a *Fiber
	a, err := NewFiber(func() {
		assert.Panics(t, func() { _ = a.Call() })
	}, DefaultStackSize)
	require.NoError(t, err)
	require.NoError(t, a.Call())
}

// TestYieldWithNoOuterPanics checks that Yield on a fiber with no
// recorded outer (e.g. entered via YieldTo) is an invariant violation.
func TestYieldWithNoOuterPanics(t *testing.T) {
	NewRootFiber(WithFiberName("main"))
	defer unregisterFiberGoroutine()

	var target *Fiber
	target, err := NewFiber(func() {
		assert.Panics(t, Yield)
	}, DefaultStackSize)
	require.NoError(t, err)

	target.YieldTo()
}
