package neurons

import (
	"errors"
	"testing"
)

type dmaWrite struct {
	tag    uint32
	offset int
	words  []uint32
}

type fakeDMA struct {
	writes []dmaWrite
	err    error
}

func (d *fakeDMA) Write(tag uint32, offset int, words []uint32) error {
	if d.err != nil {
		return d.err
	}
	d.writes = append(d.writes, dmaWrite{tag: tag, offset: offset, words: append([]uint32(nil), words...)})
	return nil
}

func TestRecorderDoubleBuffer(t *testing.T) {
	r := NewRecorder(40)
	dma := &fakeDMA{}

	r.Active().Set(3)
	if !r.Active().Test(3) {
		t.Fatal("expected bit to read back before reset")
	}
	if err := r.Transfer(7, dma); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if len(dma.writes) != 1 || dma.writes[0].offset != 0 || dma.writes[0].words[0] != 1<<3 {
		t.Fatalf("unexpected dma writes: %+v", dma.writes)
	}
	if r.Active().Count() != 0 {
		t.Fatalf("expected next tick to record into a clear buffer: %s", r.Active())
	}
	if !r.InFlight() {
		t.Fatal("expected transfer to be in flight")
	}

	r.TransferDone()
	if r.InFlight() {
		t.Fatal("expected transfer to be complete")
	}

	r.Active().Set(39)
	if err := r.Transfer(7, dma); err != nil {
		t.Fatalf("second transfer: %v", err)
	}
	if dma.writes[1].offset != r.Words() {
		t.Fatalf("expected destination to advance by %d words, got %d", r.Words(), dma.writes[1].offset)
	}
	r.TransferDone()
	// the first buffer comes back around cleared
	if r.Active().Count() != 0 {
		t.Fatalf("expected recycled buffer to be clear: %s", r.Active())
	}
}

func TestRecorderRejectsOverlappingTransfer(t *testing.T) {
	r := NewRecorder(8)
	dma := &fakeDMA{}
	if err := r.Transfer(1, dma); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	r.Active().Set(2)
	err := r.Transfer(1, dma)
	if !errors.Is(err, ErrTransferInFlight) {
		t.Fatalf("expected in-flight error, got %v", err)
	}
	if r.Active().Count() != 0 {
		t.Fatal("expected rejected frame to be discarded")
	}
	if r.Offset() != 2*r.Words() {
		t.Fatalf("expected offset to keep tick alignment, got %d", r.Offset())
	}
	if len(dma.writes) != 1 {
		t.Fatalf("expected no second dma write, got %d", len(dma.writes))
	}
}

func TestRecorderDMAFailureReleasesBuffer(t *testing.T) {
	r := NewRecorder(8)
	dma := &fakeDMA{err: errors.New("dma queue full")}
	r.Active().Set(1)
	if err := r.Transfer(1, dma); err == nil {
		t.Fatal("expected dma error")
	}
	if r.InFlight() {
		t.Fatal("expected failed transfer to release the buffer")
	}
}
