package network

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/nmxmxh/ringswap/internal/swap"
)

// Wire field numbers of a swap message.
const (
	fieldType     protowire.Number = 1
	fieldUID      protowire.Number = 2
	fieldHash     protowire.Number = 3
	fieldHTL      protowire.Number = 4
	fieldData     protowire.Number = 5
	fieldLocation protowire.Number = 6
)

// EncodeMessage serializes a message in protobuf wire format. Empty fields
// are omitted; the source peer is never sent.
func EncodeMessage(m *swap.Message) []byte {
	b := make([]byte, 0, 16+len(m.Hash)+len(m.Data))

	b = protowire.AppendTag(b, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Type))

	b = protowire.AppendTag(b, fieldUID, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, m.UID)

	if len(m.Hash) > 0 {
		b = protowire.AppendTag(b, fieldHash, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Hash)
	}
	if m.HTL != 0 {
		b = protowire.AppendTag(b, fieldHTL, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(m.HTL)))
	}
	if len(m.Data) > 0 {
		b = protowire.AppendTag(b, fieldData, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Data)
	}
	if m.Type == swap.MsgLocationChanged {
		b = protowire.AppendTag(b, fieldLocation, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(m.Location))
	}
	return b
}

// DecodeMessage parses a message. Unknown fields are skipped so newer peers
// can add fields.
func DecodeMessage(b []byte) (*swap.Message, error) {
	m := &swap.Message{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, malformed(protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, malformed(protowire.ParseError(n))
			}
			if v > math.MaxUint8 {
				return nil, malformed(fmt.Errorf("message type %d", v))
			}
			m.Type = swap.MessageType(v)
			b = b[n:]
		case num == fieldUID && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return nil, malformed(protowire.ParseError(n))
			}
			m.UID = v
			b = b[n:]
		case num == fieldHash && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, malformed(protowire.ParseError(n))
			}
			m.Hash = append([]byte(nil), v...)
			b = b[n:]
		case num == fieldHTL && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, malformed(protowire.ParseError(n))
			}
			htl := protowire.DecodeZigZag(v)
			if htl < math.MinInt32 || htl > math.MaxInt32 {
				return nil, malformed(fmt.Errorf("htl %d", htl))
			}
			m.HTL = int(htl)
			b = b[n:]
		case num == fieldData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, malformed(protowire.ParseError(n))
			}
			m.Data = append([]byte(nil), v...)
			b = b[n:]
		case num == fieldLocation && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return nil, malformed(protowire.ParseError(n))
			}
			m.Location = math.Float64frombits(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, malformed(protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	if !m.Type.Valid() {
		return nil, swap.NewSwapError(swap.ErrCodeUnknownMessage, "unknown message type").
			WithContext("type", uint8(m.Type))
	}
	return m, nil
}

func malformed(err error) *swap.SwapError {
	return swap.WrapError(swap.ErrCodeMessageMalformed, "cannot decode swap message", err)
}
