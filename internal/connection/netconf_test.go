package connection

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNETCONF struct {
	*fakeDriver
	mu    sync.Mutex
	calls []string
	args  [][]any
}

func newRecordingNETCONF() *recordingNETCONF {
	d := &recordingNETCONF{fakeDriver: newFakeDriver()}
	for _, action := range []string{ActionGet, ActionGetConfig, ActionEditConfig, ActionCommit, ActionValidate, ActionDiscardChanges} {
		d.handlers[action] = func(_ context.Context, args ...any) (any, error) {
			d.mu.Lock()
			defer d.mu.Unlock()
			d.calls = append(d.calls, action)
			d.args = append(d.args, args)
			return &Reply{XML: "<ok/>", OK: true}, nil
		}
	}
	return d
}

func TestNETCONF_Operations(t *testing.T) {
	d := newRecordingNETCONF()
	n := NewNETCONF(d, BridgeConfig{Name: "netconf"}, nil)
	rec := newStateRecorder()
	n.AddListener(rec.listener())
	t.Cleanup(func() { n.shutdown() })
	require.NoError(t, n.Connect(context.Background()))
	rec.waitFor(t, Connected)

	ctx := context.Background()
	_, err := n.Get(ctx, "<interfaces/>")
	require.NoError(t, err)
	_, err = n.GetConfig(ctx, "   \n")
	require.NoError(t, err)
	_, err = n.EditConfig(ctx, "<config/>")
	require.NoError(t, err)
	_, err = n.Validate(ctx)
	require.NoError(t, err)
	_, err = n.Commit(ctx)
	require.NoError(t, err)
	reply, err := n.DiscardChanges(ctx)
	require.NoError(t, err)

	assert.True(t, reply.OK)
	assert.Equal(t, "<ok/>", reply.String())
	assert.Equal(t, []string{ActionGet, ActionGetConfig, ActionEditConfig, ActionValidate, ActionCommit, ActionDiscardChanges}, d.calls)
	assert.Equal(t, []any{""}, d.args[1], "blank filter is dropped")
}

func TestNETCONF_FinalizerAndWrongType(t *testing.T) {
	d := newRecordingNETCONF()
	d.handlers[ActionCommit] = func(context.Context, ...any) (any, error) { return "not a reply", nil }

	finalized := make(chan struct{})
	n := NewNETCONF(d, BridgeConfig{Name: "netconf"}, func(ctx context.Context, n *NETCONF) error {
		_, err := n.DiscardChanges(ctx, Override)
		close(finalized)
		return err
	})
	rec := newStateRecorder()
	n.AddListener(rec.listener())
	t.Cleanup(func() { n.shutdown() })
	require.NoError(t, n.Connect(context.Background()))
	<-finalized
	rec.waitFor(t, Connected)

	_, err := n.Commit(context.Background())
	assert.ErrorIs(t, err, ErrUnexpectedResult)
}
