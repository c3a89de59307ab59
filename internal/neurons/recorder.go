package neurons

import (
	"errors"

	"convnode/internal/bitfield"
	nodeio "convnode/internal/io"
)

var ErrTransferInFlight = errors.New("previous recording transfer still in flight")

// Recorder double-buffers the per-tick spike bitfield. The active buffer is
// written by the update pass; Transfer hands it to the DMA engine and
// switches to the other buffer, which TransferDone cleared when its own
// transfer completed.
type Recorder struct {
	active   *bitfield.Bitfield
	inFlight *bitfield.Bitfield
	busy     bool
	words    int
	offset   int
}

func NewRecorder(neurons int) *Recorder {
	return &Recorder{
		active:   bitfield.New(neurons),
		inFlight: bitfield.New(neurons),
		words:    bitfield.WordSize(neurons),
	}
}

func (r *Recorder) Active() *bitfield.Bitfield {
	return r.active
}

// Words is the size of one recorded frame.
func (r *Recorder) Words() int {
	return r.words
}

// Offset is the bulk-memory word offset the next frame is written to.
func (r *Recorder) Offset() int {
	return r.offset
}

func (r *Recorder) InFlight() bool {
	return r.busy
}

// Transfer starts the DMA of the active frame to the current destination
// offset and advances the offset by one frame. If the previous frame is
// still in flight the current frame is discarded, the offset still
// advances and ErrTransferInFlight is returned.
func (r *Recorder) Transfer(tag uint32, dma nodeio.DMAController) error {
	offset := r.offset
	r.offset += r.words
	if r.busy {
		r.active.Clear()
		return ErrTransferInFlight
	}

	r.active, r.inFlight = r.inFlight, r.active
	r.busy = true
	if err := dma.Write(tag, offset, r.inFlight.Words()); err != nil {
		r.inFlight.Clear()
		r.busy = false
		return err
	}
	return nil
}

// TransferDone releases the in-flight buffer for reuse.
func (r *Recorder) TransferDone() {
	r.inFlight.Clear()
	r.busy = false
}
