package channel

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semchannels/errors"
)

func TestLifecycle_Transitions(t *testing.T) {
	tests := []struct {
		name   string
		steps  func(l *Lifecycle) error
		want   State
		wantIs error
	}{
		{
			name:  "open",
			steps: func(l *Lifecycle) error { return openLifecycle(l) },
			want:  StateOpen,
		},
		{
			name: "open twice",
			steps: func(l *Lifecycle) error {
				_ = openLifecycle(l)
				return l.BeginOpen()
			},
			want:   StateOpen,
			wantIs: errors.ErrAlreadyOpen,
		},
		{
			name: "begin open twice",
			steps: func(l *Lifecycle) error {
				_ = l.BeginOpen()
				return l.BeginOpen()
			},
			want:   StateOpening,
			wantIs: errors.ErrAlreadyOpen,
		},
		{
			name:   "close unopened",
			steps:  func(l *Lifecycle) error { _, err := l.Close(false); return err },
			want:   StateUnopened,
			wantIs: errors.ErrNotOpen,
		},
		{
			name: "close with nothing retained",
			steps: func(l *Lifecycle) error {
				_ = openLifecycle(l)
				_, err := l.Close(false)
				return err
			},
			want: StateClosed,
		},
		{
			name: "close with retained state",
			steps: func(l *Lifecycle) error {
				_ = openLifecycle(l)
				_, err := l.Close(true)
				return err
			},
			want: StateCloseScheduled,
		},
		{
			name: "open while close scheduled",
			steps: func(l *Lifecycle) error {
				_ = openLifecycle(l)
				_, _ = l.Close(true)
				return l.BeginOpen()
			},
			want:   StateCloseScheduled,
			wantIs: errors.ErrCloseScheduled,
		},
		{
			name: "open after close",
			steps: func(l *Lifecycle) error {
				_ = openLifecycle(l)
				_, _ = l.Close(true)
				l.CompleteClose()
				return l.BeginOpen()
			},
			want:   StateClosed,
			wantIs: errors.ErrChannelClosed,
		},
		{
			name: "failed open can retry",
			steps: func(l *Lifecycle) error {
				_ = l.BeginOpen()
				l.FailOpen()
				return l.BeginOpen()
			},
			want: StateOpening,
		},
		{
			name: "closed while registering",
			steps: func(l *Lifecycle) error {
				_ = l.BeginOpen()
				l.CompleteClose()
				return l.CompleteOpen()
			},
			want:   StateClosed,
			wantIs: errors.ErrChannelClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var l Lifecycle
			err := tt.steps(&l)
			assert.Equal(t, tt.want, l.State())
			if tt.wantIs == nil {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, stderrors.Is(err, tt.wantIs), "got %v", err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestLifecycle_RequireOpen(t *testing.T) {
	var l Lifecycle
	err := l.RequireOpen("Publish")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotOpen)
	assert.Contains(t, err.Error(), "Channel.Publish")

	require.NoError(t, openLifecycle(&l))
	assert.NoError(t, l.RequireOpen("Publish"))
	assert.True(t, l.CompleteClose())
	assert.ErrorIs(t, l.RequireOpen("Publish"), errors.ErrChannelClosed)
}

func openLifecycle(l *Lifecycle) error {
	if err := l.BeginOpen(); err != nil {
		return err
	}
	return l.CompleteOpen()
}
