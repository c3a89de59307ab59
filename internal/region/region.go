// Package region decodes the read-only bulk-memory image a node is loaded
// from. An image is a flat little-endian sequence of 32-bit words:
//
//	magic, version, regionCount, {offset, length} * regionCount, regions...
//
// Offsets and lengths are in words from the start of the image; a zero
// length marks an absent region. Every decode failure is a fatal load error.
package region

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

type ID int

const (
	System ID = iota
	Neurons
	ConvKernel
	Input
	Profiler
	Statistics
	Count
)

func (id ID) String() string {
	switch id {
	case System:
		return "system"
	case Neurons:
		return "neurons"
	case ConvKernel:
		return "conv_kernel"
	case Input:
		return "input"
	case Profiler:
		return "profiler"
	case Statistics:
		return "statistics"
	default:
		return "unknown"
	}
}

const (
	Magic   uint32 = 0xAD130AD6
	Version uint32 = 1

	headerWords = 3
)

var ErrBadHeader = errors.New("invalid image header")

type Image struct {
	regions [Count][]uint32
}

// Parse validates the header and slices the region table out of words. The
// returned image aliases words.
func Parse(words []uint32) (*Image, error) {
	if len(words) < headerWords {
		return nil, errors.Wrapf(ErrBadHeader, "image too short: %d words", len(words))
	}
	if words[0] != Magic {
		return nil, errors.Wrapf(ErrBadHeader, "magic %08x (expected %08x)", words[0], Magic)
	}
	if words[1] != Version {
		return nil, errors.Wrapf(ErrBadHeader, "version %d (expected %d)", words[1], Version)
	}
	count := int(words[2])
	if count > int(Count) {
		return nil, errors.Wrapf(ErrBadHeader, "region count %d exceeds %d", count, Count)
	}
	tableEnd := headerWords + 2*count
	if len(words) < tableEnd {
		return nil, errors.Wrapf(ErrBadHeader, "region table truncated")
	}

	img := &Image{}
	for i := 0; i < count; i++ {
		offset := int(words[headerWords+2*i])
		length := int(words[headerWords+2*i+1])
		if length == 0 {
			continue
		}
		if offset < tableEnd || offset+length > len(words) {
			return nil, errors.Wrapf(ErrBadHeader, "region %s [%d,+%d) outside image of %d words", ID(i), offset, length, len(words))
		}
		img.regions[i] = words[offset : offset+length : offset+length]
	}
	return img, nil
}

func (img *Image) Region(id ID) ([]uint32, bool) {
	if id < 0 || id >= Count {
		return nil, false
	}
	words := img.regions[id]
	return words, words != nil
}

// Build lays regions out behind a header in region id order.
func Build(regions map[ID][]uint32) []uint32 {
	tableEnd := headerWords + 2*int(Count)
	total := tableEnd
	for id := ID(0); id < Count; id++ {
		total += len(regions[id])
	}

	out := make([]uint32, tableEnd, total)
	out[0] = Magic
	out[1] = Version
	out[2] = uint32(Count)
	for id := ID(0); id < Count; id++ {
		words := regions[id]
		if len(words) == 0 {
			continue
		}
		out[headerWords+2*int(id)] = uint32(len(out))
		out[headerWords+2*int(id)+1] = uint32(len(words))
		out = append(out, words...)
	}
	return out
}

func WordsFromBytes(data []byte) ([]uint32, error) {
	if len(data)%4 != 0 {
		return nil, errors.Errorf("image length %d is not a whole number of words", len(data))
	}
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[4*i:])
	}
	return words, nil
}

func BytesFromWords(words []uint32) []byte {
	out := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[4*i:], w)
	}
	return out
}

// packInt8 packs signed bytes little-endian into words, zero padding the tail.
func packInt8(values []int8) []uint32 {
	words := make([]uint32, (len(values)+3)/4)
	for i, v := range values {
		words[i/4] |= uint32(uint8(v)) << (8 * uint(i%4))
	}
	return words
}

func unpackInt8(words []uint32, n int) ([]int8, error) {
	if n > 4*len(words) {
		return nil, errors.Errorf("need %d bytes, region holds %d", n, 4*len(words))
	}
	out := make([]int8, n)
	for i := range out {
		out[i] = int8(uint8(words[i/4] >> (8 * uint(i%4))))
	}
	return out, nil
}
