// Package bitfield is a fixed-size set of bits packed LSB-first into 32-bit
// words, the layout the host reads recorded spikes back in.
package bitfield

import "strings"

const WordBits = 32

// WordSize returns the number of words needed to hold bits bits.
func WordSize(bits int) int {
	return (bits + WordBits - 1) / WordBits
}

type Bitfield struct {
	words []uint32
	bits  int
}

func New(bits int) *Bitfield {
	return &Bitfield{words: make([]uint32, WordSize(bits)), bits: bits}
}

func (b *Bitfield) Len() int {
	return b.bits
}

func (b *Bitfield) Set(n int) {
	b.words[n/WordBits] |= 1 << uint(n%WordBits)
}

func (b *Bitfield) Test(n int) bool {
	return b.words[n/WordBits]&(1<<uint(n%WordBits)) != 0
}

func (b *Bitfield) Clear() {
	clear(b.words)
}

// Words exposes the backing words; callers must not retain them across a
// Clear.
func (b *Bitfield) Words() []uint32 {
	return b.words
}

func (b *Bitfield) Count() int {
	count := 0
	for n := 0; n < b.bits; n++ {
		if b.Test(n) {
			count++
		}
	}
	return count
}

// String prints one character per bit, for trace logging.
func (b *Bitfield) String() string {
	var sb strings.Builder
	sb.Grow(b.bits)
	for n := 0; n < b.bits; n++ {
		if b.Test(n) {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}
