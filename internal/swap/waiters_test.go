package swap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter_Match(t *testing.T) {
	f := Filter{Types: []MessageType{MsgSwapReply, MsgSwapRejected}, UID: 5, Source: "b"}

	assert.True(t, f.Match(&Message{Type: MsgSwapReply, UID: 5, Source: "b"}))
	assert.True(t, f.Match(&Message{Type: MsgSwapRejected, UID: 5, Source: "b"}))
	assert.False(t, f.Match(&Message{Type: MsgSwapCommit, UID: 5, Source: "b"}))
	assert.False(t, f.Match(&Message{Type: MsgSwapReply, UID: 6, Source: "b"}))
	assert.False(t, f.Match(&Message{Type: MsgSwapReply, UID: 5, Source: "c"}))

	anySource := Filter{Types: []MessageType{MsgSwapReply}, UID: 5}
	assert.True(t, anySource.Match(&Message{Type: MsgSwapReply, UID: 5, Source: "z"}))
}

func TestWaitRegistry_DeliverToWaiter(t *testing.T) {
	reg := NewWaitRegistry()
	p := reg.Register(Filter{Types: []MessageType{MsgSwapComplete}, UID: 9})

	assert.False(t, reg.Deliver(&Message{Type: MsgSwapComplete, UID: 8}))
	assert.True(t, reg.Deliver(&Message{Type: MsgSwapComplete, UID: 9, Data: []byte{1}}))
	assert.False(t, reg.Deliver(&Message{Type: MsgSwapComplete, UID: 9}), "a wait is satisfied once")

	msg, err := p.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, msg.Data)
	assert.Equal(t, 0, reg.Len())
}

func TestWaitRegistry_Timeout(t *testing.T) {
	reg := NewWaitRegistry()
	p := reg.Register(Filter{Types: []MessageType{MsgSwapReply}, UID: 1})

	_, err := p.Wait(context.Background(), 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 0, reg.Len(), "timed out waits are unregistered")
	assert.False(t, reg.Deliver(&Message{Type: MsgSwapReply, UID: 1}))
}

func TestWaitRegistry_ContextCancel(t *testing.T) {
	reg := NewWaitRegistry()
	p := reg.Register(Filter{Types: []MessageType{MsgSwapReply}, UID: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Wait(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, reg.Len())
}
