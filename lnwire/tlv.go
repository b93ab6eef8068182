package lnwire

import (
	"bytes"
	"io"

	"github.com/lightningnetwork/lnd/tlv"
)

// Optional TLV types used by messages in this package. Each stream is
// scoped to the message that carries it, so type numbers are only unique
// within a single message's trailing extension stream.
const (
	tlvTypeBlindingPoint    uint64 = 0
	tlvTypeBatchSize        uint64 = 0
	tlvTypeNextFundingTxID  uint64 = 0
	tlvTypeShortChannelID   uint64 = 0
	tlvTypeDataLossProtect  uint64 = 1
	tlvTypeFeeRate          uint64 = 0
	tlvTypeLiquidityWitness uint64 = 0
	tlvTypeRequireConfirmed uint64 = 2
)

// readTLVStream parses every remaining (type, length, value) record off of
// r, using the bigsize varint encoding BOLT1 specifies for TLV streams. An
// io.EOF on the very first type read means the stream is simply absent,
// which every optional-TLV message treats as "no extension data".
func readTLVStream(r io.Reader) (map[uint64][]byte, error) {
	out := make(map[uint64][]byte)

	var buf [8]byte
	for {
		typ, err := tlv.ReadVarInt(r, &buf)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}

		length, err := tlv.ReadVarInt(r, &buf)
		if err != nil {
			return nil, err
		}

		val := make([]byte, length)
		if _, err := io.ReadFull(r, val); err != nil {
			return nil, err
		}

		out[typ] = val
	}
}

// writeTLVStream serializes the given records in ascending type order, as
// BOLT1 requires for a canonical TLV stream.
func writeTLVStream(w io.Writer, records map[uint64][]byte) error {
	types := make([]uint64, 0, len(records))
	for t := range records {
		types = append(types, t)
	}
	sortUint64s(types)

	var buf [8]byte
	for _, t := range types {
		val := records[t]

		if err := tlv.WriteVarInt(w, t, &buf); err != nil {
			return err
		}
		if err := tlv.WriteVarInt(w, uint64(len(val)), &buf); err != nil {
			return err
		}
		if _, err := w.Write(val); err != nil {
			return err
		}
	}

	return nil
}

func sortUint64s(s []uint64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// encodeTLVValue is a small helper for building a single record's value
// buffer with the same readElement/writeElement codec the fixed portion of
// messages use.
func encodeTLVValue(elements ...interface{}) ([]byte, error) {
	var b bytes.Buffer
	if err := writeElements(&b, elements...); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}
