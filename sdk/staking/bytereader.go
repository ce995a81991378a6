package staking

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// byteReader walks a fixed-layout account buffer. Unlike ad hoc slicing it
// tracks one offset and fails loudly on overrun, so a layout mistake surfaces
// as an error instead of a silently zeroed field.
type byteReader struct {
	data   []byte
	offset int
	err    error
}

func newByteReader(data []byte) *byteReader {
	return &byteReader{data: data}
}

func (br *byteReader) Err() error {
	return br.err
}

func (br *byteReader) take(n int) []byte {
	if br.err != nil {
		return nil
	}
	if br.offset+n > len(br.data) {
		br.err = fmt.Errorf("account data truncated: need %d bytes at offset %d, have %d", n, br.offset, len(br.data))
		return nil
	}
	out := br.data[br.offset : br.offset+n]
	br.offset += n
	return out
}

func (br *byteReader) ReadU8() uint8 {
	b := br.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (br *byteReader) ReadU64() uint64 {
	b := br.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (br *byteReader) ReadI64() int64 {
	return int64(br.ReadU64())
}

func (br *byteReader) ReadPubkey() solana.PublicKey {
	b := br.take(32)
	if b == nil {
		return solana.PublicKey{}
	}
	return solana.PublicKeyFromBytes(b)
}

// ReadOptionPubkey reads a borsh Option<Pubkey>: a 1-byte presence flag
// followed by the key when the flag is 1.
func (br *byteReader) ReadOptionPubkey() *solana.PublicKey {
	switch br.ReadU8() {
	case 0:
		return nil
	case 1:
		pk := br.ReadPubkey()
		return &pk
	default:
		if br.err == nil {
			br.err = fmt.Errorf("account data malformed: bad option flag at offset %d", br.offset-1)
		}
		return nil
	}
}

// ReadDiscriminator reads and checks the 8-byte account discriminator.
func (br *byteReader) ReadDiscriminator(want Discriminator) {
	b := br.take(8)
	if b == nil {
		return
	}
	var got Discriminator
	copy(got[:], b)
	if got != want {
		br.err = fmt.Errorf("account discriminator mismatch: got %v, want %v", got, want)
	}
}
