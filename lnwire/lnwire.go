package lnwire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// ChannelID is the unique identifier for a channel, derived from the
// funding outpoint: the txid XORed with the big-endian output index in
// its final two bytes. Before the funding transaction is known, a
// temporary, randomly chosen ChannelID is used instead.
type ChannelID [32]byte

// NewChanIDFromOutPoint derives a ChannelID from a funding outpoint per
// BOLT2.
func NewChanIDFromOutPoint(op *wire.OutPoint) ChannelID {
	var cid ChannelID
	copy(cid[:], op.Hash[:])

	indexSlice := make([]byte, 4)
	binary.BigEndian.PutUint32(indexSlice, op.Index)

	cid[30] ^= indexSlice[2]
	cid[31] ^= indexSlice[3]

	return cid
}

// IsTemporary returns true if the channel id still holds a pending-channel
// temporary id (the low-order byte convention isn't load bearing; this
// merely reports the zero-value case used before a funding outpoint
// exists).
func (c ChannelID) IsTemporary() bool {
	return c == ChannelID{}
}

func (c ChannelID) String() string {
	return fmt.Sprintf("%x", c[:])
}

// MilliSatoshi represents a thousandth of a satoshi, the unit balances and
// HTLC amounts are tracked in throughout the protocol so that fee
// proportions round without losing precision.
type MilliSatoshi uint64

// ToSatoshis truncates the amount down to the nearest whole satoshi.
func (m MilliSatoshi) ToSatoshis() btcutil.Amount {
	return btcutil.Amount(m / 1000)
}

// PaymentHash is the SHA256 of a payment preimage, uniquely (for all
// practical purposes) identifying an HTLC.
type PaymentHash [32]byte

// PaymentPreimage is the value whose SHA256 is a PaymentHash.
type PaymentPreimage [32]byte

// Sig is a fixed-size, wire-format (64-byte compact or DER-padded)
// signature. Parsing into a concrete *ecdsa.Signature/*schnorr.Signature
// happens at the call-site that needs to verify it, keeping this package
// free of a dependency on which curve/scheme a given message's signature
// uses.
type Sig [64]byte

// NewSigFromSignature converts a fixed 64-byte compact signature into the
// wire Sig type.
func NewSigFromSignature(rawSig []byte) (Sig, error) {
	var s Sig
	if len(rawSig) != 64 {
		return s, fmt.Errorf("signature must be 64 bytes, "+
			"instead got %v", len(rawSig))
	}
	copy(s[:], rawSig)
	return s, nil
}

// readElement reads a single element off of the io.Reader. This is the
// decoding work-horse used by every message's Decode method.
func readElement(r io.Reader, element interface{}) error {
	switch e := element.(type) {
	case *uint8:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		*e = b[0]
	case *uint16:
		var b [2]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		*e = binary.BigEndian.Uint16(b[:])
	case *uint32:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		*e = binary.BigEndian.Uint32(b[:])
	case *uint64:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		*e = binary.BigEndian.Uint64(b[:])
	case *MilliSatoshi:
		var v uint64
		if err := readElement(r, &v); err != nil {
			return err
		}
		*e = MilliSatoshi(v)
	case *bool:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		*e = b[0] == 1
	case []byte:
		if _, err := io.ReadFull(r, e); err != nil {
			return err
		}
	case *ChannelID:
		if _, err := io.ReadFull(r, e[:]); err != nil {
			return err
		}
	case *PaymentHash:
		if _, err := io.ReadFull(r, e[:]); err != nil {
			return err
		}
	case *PaymentPreimage:
		if _, err := io.ReadFull(r, e[:]); err != nil {
			return err
		}
	case *Sig:
		if _, err := io.ReadFull(r, e[:]); err != nil {
			return err
		}
	case *chainhash.Hash:
		if _, err := io.ReadFull(r, e[:]); err != nil {
			return err
		}
	case *wire.OutPoint:
		var txid chainhash.Hash
		if _, err := io.ReadFull(r, txid[:]); err != nil {
			return err
		}
		var index uint32
		if err := readElement(r, &index); err != nil {
			return err
		}
		*e = wire.OutPoint{Hash: txid, Index: index}
	case **btcec.PublicKey:
		var buf [33]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return err
		}
		pub, err := btcec.ParsePubKey(buf[:])
		if err != nil {
			return err
		}
		*e = pub
	default:
		return fmt.Errorf("unknown type %T passed to readElement", e)
	}

	return nil
}

func readElements(r io.Reader, elements ...interface{}) error {
	for _, element := range elements {
		if err := readElement(r, element); err != nil {
			return err
		}
	}
	return nil
}

// writeElement writes a single element to the io.Writer. This is the
// encoding work-horse used by every message's Encode method.
func writeElement(w io.Writer, element interface{}) error {
	switch e := element.(type) {
	case uint8:
		_, err := w.Write([]byte{e})
		return err
	case uint16:
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], e)
		_, err := w.Write(b[:])
		return err
	case uint32:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], e)
		_, err := w.Write(b[:])
		return err
	case uint64:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], e)
		_, err := w.Write(b[:])
		return err
	case MilliSatoshi:
		return writeElement(w, uint64(e))
	case bool:
		b := byte(0)
		if e {
			b = 1
		}
		_, err := w.Write([]byte{b})
		return err
	case []byte:
		_, err := w.Write(e)
		return err
	case ChannelID:
		_, err := w.Write(e[:])
		return err
	case PaymentHash:
		_, err := w.Write(e[:])
		return err
	case PaymentPreimage:
		_, err := w.Write(e[:])
		return err
	case Sig:
		_, err := w.Write(e[:])
		return err
	case chainhash.Hash:
		_, err := w.Write(e[:])
		return err
	case wire.OutPoint:
		if _, err := w.Write(e.Hash[:]); err != nil {
			return err
		}
		return writeElement(w, e.Index)
	case *btcec.PublicKey:
		if e == nil {
			return fmt.Errorf("cannot write nil public key")
		}
		_, err := w.Write(e.SerializeCompressed())
		return err
	default:
		return fmt.Errorf("unknown type %T passed to writeElement", e)
	}
}

func writeElements(w io.Writer, elements ...interface{}) error {
	for _, element := range elements {
		if err := writeElement(w, element); err != nil {
			return err
		}
	}
	return nil
}
