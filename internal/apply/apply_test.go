package apply

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/lucia/internal/hue"
)

type MockSetter struct {
	mock.Mock
}

func (m *MockSetter) SetLightState(ctx context.Context, username, lightID string, change hue.StateChange) (hue.StateResult, error) {
	args := m.Called(ctx, username, lightID, change)
	return args.Get(0).(hue.StateResult), args.Error(1)
}

func (m *MockSetter) SetGroupState(ctx context.Context, username, groupID string, change hue.StateChange) (hue.StateResult, error) {
	args := m.Called(ctx, username, groupID, change)
	return args.Get(0).(hue.StateResult), args.Error(1)
}

func ok(raw string) hue.StateResult {
	return hue.StateResult{Raw: []byte(raw), Applied: map[string]any{raw: true}}
}

func TestApply_AllSucceed(t *testing.T) {
	change := hue.StateChange{}.WithOn(true)

	setter := new(MockSetter)
	var order []string
	record := func(args mock.Arguments) { order = append(order, args.String(2)) }
	setter.On("SetLightState", mock.Anything, "user", "1", change).Return(ok("l1"), nil).Run(record).Once()
	setter.On("SetLightState", mock.Anything, "user", "2", change).Return(ok("l2"), nil).Run(record).Once()
	setter.On("SetGroupState", mock.Anything, "user", "0", change).Return(ok("g0"), nil).Run(record).Once()

	a := New(setter, WithRateLimit(1000))
	targets := append(Lights("1", "2"), Groups("0")...)

	report, err := a.Apply(context.Background(), "user", targets, change)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 3)
	assert.Equal(t, []string{"1", "2", "0"}, order)
	assert.Equal(t, 3, report.Succeeded())
	assert.Empty(t, report.Failed())
	assert.Equal(t, "l2", string(report.Outcomes[1].Result.Raw))
	assert.Equal(t, Target{Kind: KindGroup, ID: "0"}, report.Outcomes[2].Target)
	setter.AssertExpectations(t)
}

func TestApply_PartialFailureContinues(t *testing.T) {
	change := hue.StateChange{}.WithBri(10)
	notFound := &hue.APIError{Type: hue.ErrorTypeResourceNotFound, Description: "resource, /lights/2, not available"}

	setter := new(MockSetter)
	setter.On("SetLightState", mock.Anything, "u", "1", change).Return(ok("l1"), nil).Once()
	setter.On("SetLightState", mock.Anything, "u", "2", change).Return(hue.StateResult{}, notFound).Once()
	setter.On("SetLightState", mock.Anything, "u", "3", change).Return(ok("l3"), nil).Once()

	var recorded []Outcome
	a := New(setter, WithRateLimit(1000), WithRecorder(func(o Outcome) { recorded = append(recorded, o) }))

	report, err := a.Apply(context.Background(), "u", Lights("1", "2", "3"), change)
	require.Error(t, err)

	var apiErr *hue.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, hue.ErrorTypeResourceNotFound, apiErr.Type)
	assert.Contains(t, err.Error(), "light 2")

	assert.Equal(t, 2, report.Succeeded())
	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "2", failed[0].Target.ID)
	assert.Len(t, recorded, 3)
	setter.AssertExpectations(t)
}

func TestApply_TransportFailuresJoined(t *testing.T) {
	change := hue.StateChange{}.WithOn(false)
	down := errors.Join(hue.ErrTransport, errors.New("connection refused"))

	setter := new(MockSetter)
	setter.On("SetLightState", mock.Anything, mock.Anything, mock.Anything, change).Return(hue.StateResult{}, down)
	setter.On("SetGroupState", mock.Anything, mock.Anything, mock.Anything, change).Return(hue.StateResult{}, down)

	report, err := New(setter, WithRateLimit(1000)).Apply(context.Background(), "u", append(Lights("1"), Groups("2")...), change)
	assert.ErrorIs(t, err, hue.ErrTransport)
	assert.Len(t, report.Failed(), 2)
	setter.AssertNumberOfCalls(t, "SetLightState", 1)
	setter.AssertNumberOfCalls(t, "SetGroupState", 1)
}

func TestApply_NoTargets(t *testing.T) {
	setter := new(MockSetter)
	report, err := New(setter).Apply(context.Background(), "u", nil, hue.StateChange{})
	require.NoError(t, err)
	assert.Empty(t, report.Outcomes)
	setter.AssertNotCalled(t, "SetLightState", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestApply_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	setter := new(MockSetter)
	// A limiter with an exhausted burst makes Wait observe the cancelled context.
	a := New(setter, WithRateLimit(0.001))
	a.limiter.Allow()

	report, err := a.Apply(ctx, "u", Lights("1", "2"), hue.StateChange{}.WithOn(true))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, report.Failed(), 2)
	setter.AssertNotCalled(t, "SetLightState", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestApply_UnknownKind(t *testing.T) {
	setter := new(MockSetter)
	_, err := New(setter, WithRateLimit(1000)).Apply(context.Background(), "u", []Target{{Kind: "scene", ID: "1"}}, hue.StateChange{})
	assert.ErrorContains(t, err, "unknown target kind")
}

func TestTarget_String(t *testing.T) {
	assert.Equal(t, "light 4", Target{Kind: KindLight, ID: "4"}.String())
	assert.Equal(t, []Target{{Kind: KindGroup, ID: "1"}, {Kind: KindGroup, ID: "2"}}, Groups("1", "2"))
}
