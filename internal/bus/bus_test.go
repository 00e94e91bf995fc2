package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagepicker/discovery"
	"imagepicker/internal/message"
)

type stubHandler struct {
	message.Unimplemented

	mu       sync.Mutex
	selected [][]string
	scanned  chan message.ScanImages
	block    chan struct{}
}

func (h *stubHandler) HandlePing(context.Context, message.Ping) (message.Pong, error) {
	return message.Pong{Status: "ok"}, nil
}

func (h *stubHandler) HandleScanImages(_ context.Context, m message.ScanImages) (message.ScanResult, error) {
	if h.scanned != nil {
		h.scanned <- m
	}
	return message.ScanResult{Images: []discovery.Descriptor{{Source: "https://x.test/a.png", Kind: discovery.KindPNG}}}, nil
}

func (h *stubHandler) HandleUpdateSelection(_ context.Context, m message.UpdateSelection) error {
	if h.block != nil {
		<-h.block
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.selected = append(h.selected, m.SelectedImages)
	return nil
}

func (h *stubHandler) updates() [][]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]string(nil), h.selected...)
}

func TestRequestReply(t *testing.T) {
	b := New()
	defer b.Close()

	_, err := b.Register(TabAddress("1"), &stubHandler{})
	require.NoError(t, err)

	reply, err := b.Request(context.Background(), Panel, TabAddress("1"), message.Ping{})
	require.NoError(t, err)
	assert.Equal(t, message.Pong{Status: "ok"}, reply)

	reply, err = b.Request(context.Background(), Panel, TabAddress("1"), message.ScanImages{Options: discovery.DefaultFilterOptions()})
	require.NoError(t, err)
	res, ok := reply.(message.ScanResult)
	require.True(t, ok)
	assert.Len(t, res.Images, 1)
}

func TestRequestUnsupportedAction(t *testing.T) {
	b := New()
	defer b.Close()
	_, err := b.Register(Background, &stubHandler{})
	require.NoError(t, err)

	_, err = b.Request(context.Background(), Panel, Background, message.ShowImageGrid{})
	assert.ErrorIs(t, err, message.ErrUnsupported)
}

func TestSendWithoutReceiver(t *testing.T) {
	b := New()
	defer b.Close()

	err := b.Send(context.Background(), TabAddress("1"), Panel, message.UpdateSelection{})
	assert.ErrorIs(t, err, ErrNoReceiver)

	_, err = b.Request(context.Background(), Panel, TabAddress("1"), message.Ping{})
	assert.ErrorIs(t, err, ErrNoReceiver)
}

func TestSendCopiesPayload(t *testing.T) {
	b := New()
	defer b.Close()
	h := &stubHandler{}
	_, err := b.Register(Panel, h)
	require.NoError(t, err)

	sel := []string{"a", "b"}
	require.NoError(t, b.Send(context.Background(), TabAddress("1"), Panel, message.UpdateSelection{SelectedImages: sel}))
	sel[0] = "mutated"

	require.Eventually(t, func() bool { return len(h.updates()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, h.updates()[0])
}

func TestDeliveriesAreSerialAndOrdered(t *testing.T) {
	b := New()
	defer b.Close()
	h := &stubHandler{}
	_, err := b.Register(Panel, h)
	require.NoError(t, err)

	for _, s := range []string{"1", "2", "3", "4"} {
		require.NoError(t, b.Send(context.Background(), TabAddress("t"), Panel, message.UpdateSelection{SelectedImages: []string{s}}))
	}
	require.Eventually(t, func() bool { return len(h.updates()) == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, [][]string{{"1"}, {"2"}, {"3"}, {"4"}}, h.updates())
}

func TestTornDownReceiverDropsSilently(t *testing.T) {
	b := New()
	defer b.Close()
	h := &stubHandler{block: make(chan struct{})}
	unregister, err := b.Register(Panel, h)
	require.NoError(t, err)

	// The first delivery blocks the inbox; the second queues behind it.
	require.NoError(t, b.Send(context.Background(), TabAddress("t"), Panel, message.UpdateSelection{SelectedImages: []string{"first"}}))
	require.NoError(t, b.Send(context.Background(), TabAddress("t"), Panel, message.UpdateSelection{SelectedImages: []string{"second"}}))

	unregister()
	close(h.block)

	assert.False(t, b.Registered(Panel))
	time.Sleep(20 * time.Millisecond)
	assert.LessOrEqual(t, len(h.updates()), 1)

	err = b.Send(context.Background(), TabAddress("t"), Panel, message.UpdateSelection{})
	assert.ErrorIs(t, err, ErrNoReceiver)
}

func TestRegisterConflictAndReregister(t *testing.T) {
	b := New()
	defer b.Close()

	unregister, err := b.Register(Panel, &stubHandler{})
	require.NoError(t, err)
	_, err = b.Register(Panel, &stubHandler{})
	assert.ErrorIs(t, err, ErrAddressInUse)

	unregister()
	unregister()
	_, err = b.Register(Panel, &stubHandler{})
	assert.NoError(t, err)
}

func TestClosedBus(t *testing.T) {
	b := New()
	_, err := b.Register(Panel, &stubHandler{})
	require.NoError(t, err)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, err = b.Register(Background, &stubHandler{})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, b.Send(context.Background(), Background, Panel, message.Ping{}), ErrClosed)
}

func TestRequestHonoursContext(t *testing.T) {
	b := New()
	defer b.Close()
	h := &stubHandler{scanned: make(chan message.ScanImages)}
	_, err := b.Register(TabAddress("1"), h)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = b.Request(ctx, Panel, TabAddress("1"), message.ScanImages{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	<-h.scanned
}
