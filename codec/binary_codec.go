package codec

import (
	"authz-rpc/message"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	errNotMessage = errors.New("BinaryCodec: v must be *RPCMessage")
	errTruncated  = errors.New("BinaryCodec: truncated message")
)

// BinaryCodec lays an RPCMessage out as length-prefixed fields:
//
//	serviceMethod  u16 len + bytes
//	metadata       u16 count + count × (u16 key len + key, u16 value len + value)
//	errorKind      u16 len + bytes
//	error          u16 len + bytes
//	payload        u32 len + bytes
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	msg, ok := v.(*message.RPCMessage)
	if !ok {
		return nil, errNotMessage
	}
	if len(msg.Metadata) > math.MaxUint16 {
		return nil, fmt.Errorf("BinaryCodec: too many metadata entries: %d", len(msg.Metadata))
	}

	// Sorted keys keep the encoding deterministic.
	keys := make([]string, 0, len(msg.Metadata))
	for k := range msg.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w := &binaryWriter{}
	w.str(msg.ServiceMethod)
	w.u16(uint16(len(keys)))
	for _, k := range keys {
		w.str(k)
		w.str(msg.Metadata[k])
	}
	w.str(msg.ErrorKind)
	w.str(msg.Error)
	w.u32(uint32(len(msg.Payload)))
	w.buf = append(w.buf, msg.Payload...)
	if w.err != nil {
		return nil, w.err
	}
	return w.buf, nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	msg, ok := v.(*message.RPCMessage)
	if !ok {
		return errNotMessage
	}

	r := &binaryReader{data: data}
	msg.ServiceMethod = r.str()
	if n := int(r.u16()); n > 0 {
		msg.Metadata = make(map[string]string, n)
		for i := 0; i < n && r.err == nil; i++ {
			k := r.str()
			msg.Metadata[k] = r.str()
		}
	}
	msg.ErrorKind = r.str()
	msg.Error = r.str()
	if n := int(r.u32()); n > 0 {
		msg.Payload = append([]byte(nil), r.bytes(n)...)
	}
	return r.err
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

type binaryWriter struct {
	buf []byte
	err error
}

func (w *binaryWriter) u16(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *binaryWriter) u32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *binaryWriter) str(s string) {
	if len(s) > math.MaxUint16 {
		w.err = fmt.Errorf("BinaryCodec: field too long: %d bytes", len(s))
		return
	}
	w.u16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

// binaryReader records the first out-of-bounds read and returns zero values
// afterwards.
type binaryReader struct {
	data []byte
	off  int
	err  error
}

func (r *binaryReader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.data) {
		r.err = errTruncated
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *binaryReader) u16() uint16 {
	b := r.bytes(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *binaryReader) u32() uint32 {
	b := r.bytes(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *binaryReader) str() string {
	return string(r.bytes(int(r.u16())))
}
