package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockProvider struct {
	text string
	err  error
}

func (m mockProvider) Instruction(context.Context, Request) (string, error) { return m.text, m.err }

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func TestInstruction_Static(t *testing.T) {
	inst := NewInstructionFromText("Today is {{.date}}.")
	assert.True(t, inst.IsStatic())

	text, err := inst.Resolve(context.Background(), Request{}, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, "Today is 2026-03-14.", text)
}

func TestInstruction_Provider(t *testing.T) {
	inst := NewInstructionFromProvider(mockProvider{text: "dynamic"})
	assert.False(t, inst.IsStatic())

	text, err := inst.Resolve(context.Background(), Request{}, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, "dynamic", text)

	boom := errors.New("boom")
	_, err = NewInstructionFromProvider(mockProvider{err: boom}).Resolve(context.Background(), Request{}, fixedNow)
	assert.ErrorIs(t, err, boom)
}

func TestInstruction_Func(t *testing.T) {
	inst := NewInstructionFromFunc(func(_ context.Context, req Request) (string, error) {
		return "msg=" + req.CurrentMessage, nil
	})
	text, err := inst.Resolve(context.Background(), Request{CurrentMessage: "hi"}, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, "msg=hi", text)
}
