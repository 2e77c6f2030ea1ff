package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fwhal "github.com/ardnew/softgmu/firmware/hal"
	"github.com/ardnew/softgmu/hfi"
	"github.com/ardnew/softgmu/host/hal"
	"github.com/ardnew/softgmu/pkg"
)

func TestBus_SharedMemory(t *testing.T) {
	b := New()
	assert.Equal(t, hfi.RegionWords, b.Memory().Len())

	b.Host().Memory().Store(10, 0xabcd)
	assert.Equal(t, uint32(0xabcd), b.Firmware().Memory().Load(10))
}

func TestBus_Doorbell(t *testing.T) {
	b := New()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, b.Host().RingDoorbell())
	require.NoError(t, b.Host().RingDoorbell())
	assert.Equal(t, uint64(2), b.Doorbells())

	// Two rings before a wait coalesce into one wakeup.
	require.NoError(t, b.Firmware().WaitDoorbell(ctx))

	short, cancel2 := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel2()
	assert.ErrorIs(t, b.Firmware().WaitDoorbell(short), context.DeadlineExceeded)
}

func TestBus_IRQ(t *testing.T) {
	b := New()
	assert.Equal(t, hal.IRQ(0), b.Host().IRQStatus())

	require.NoError(t, b.Firmware().RaiseIRQ(fwhal.IRQMsgQ|fwhal.IRQCM3Fault))
	assert.Equal(t, hal.IRQMsgQ|hal.IRQCM3Fault, b.Host().IRQStatus())
	assert.Equal(t, uint64(1), b.Raises())

	require.NoError(t, b.Host().ClearIRQ(hal.IRQMsgQ))
	assert.Equal(t, hal.IRQCM3Fault, b.Host().IRQStatus())
}

func TestBus_IRQBitsAgree(t *testing.T) {
	assert.Equal(t, uint32(hal.IRQMsgQ), fwhal.IRQMsgQ)
	assert.Equal(t, uint32(hal.IRQCM3Fault), fwhal.IRQCM3Fault)
}

func TestBus_Close(t *testing.T) {
	b := New()
	done := make(chan error, 1)
	go func() {
		done <- b.Firmware().WaitDoorbell(context.Background())
	}()

	require.NoError(t, b.Host().Close())
	require.NoError(t, b.Firmware().Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, fwhal.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("WaitDoorbell did not return after Close")
	}

	assert.ErrorIs(t, b.Host().RingDoorbell(), pkg.ErrNotOpen)
	assert.ErrorIs(t, b.Firmware().RaiseIRQ(fwhal.IRQMsgQ), pkg.ErrNotOpen)
	assert.ErrorIs(t, b.Host().Init(context.Background()), pkg.ErrNotOpen)
}
