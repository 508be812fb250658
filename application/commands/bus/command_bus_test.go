package bus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testCommand struct {
	Value       string
	validateErr error
}

func (c *testCommand) Validate() error { return c.validateErr }

func TestCommandBus_SendDispatchesToHandler(t *testing.T) {
	// Arrange
	bus := NewCommandBus()
	var handled *testCommand
	err := bus.Register(&testCommand{}, CommandHandlerFunc(func(ctx context.Context, cmd Command) error {
		handled = cmd.(*testCommand)
		return nil
	}))
	require.NoError(t, err)

	// Act
	err = bus.Send(context.Background(), &testCommand{Value: "hello"})

	// Assert
	require.NoError(t, err)
	require.NotNil(t, handled)
	assert.Equal(t, "hello", handled.Value)
}

func TestCommandBus_ValidationRunsBeforeDispatch(t *testing.T) {
	// Arrange
	bus := NewCommandBus()
	dispatched := false
	err := bus.Register(&testCommand{}, CommandHandlerFunc(func(ctx context.Context, cmd Command) error {
		dispatched = true
		return nil
	}))
	require.NoError(t, err)

	// Act
	err = bus.Send(context.Background(), &testCommand{validateErr: errors.New("bad input")})

	// Assert
	assert.Error(t, err)
	assert.False(t, dispatched)
}

func TestCommandBus_UnregisteredCommand(t *testing.T) {
	// Arrange
	bus := NewCommandBus()

	// Act
	err := bus.Send(context.Background(), &testCommand{})

	// Assert
	assert.Error(t, err)
}

func TestCommandBus_DuplicateRegistration(t *testing.T) {
	// Arrange
	bus := NewCommandBus()
	handler := CommandHandlerFunc(func(ctx context.Context, cmd Command) error { return nil })
	require.NoError(t, bus.Register(&testCommand{}, handler))

	// Act
	err := bus.Register(&testCommand{}, handler)

	// Assert
	assert.Error(t, err)
}
