package swap

import (
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
)

// MessageType identifies a swap protocol message.
type MessageType uint8

const (
	MsgSwapRequest MessageType = iota + 1
	MsgSwapReply
	MsgSwapRejected
	MsgSwapCommit
	MsgSwapComplete
	MsgLocationChanged
)

var messageTypeNames = map[MessageType]string{
	MsgSwapRequest:     "SwapRequest",
	MsgSwapReply:       "SwapReply",
	MsgSwapRejected:    "SwapRejected",
	MsgSwapCommit:      "SwapCommit",
	MsgSwapComplete:    "SwapComplete",
	MsgLocationChanged: "LocationChanged",
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MessageType(%d)", uint8(t))
}

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	_, ok := messageTypeNames[t]
	return ok
}

// Message is the logical form of every swap protocol message. Which fields
// are meaningful depends on Type:
//
//	SwapRequest      UID, Hash, HTL
//	SwapReply        UID, Hash
//	SwapRejected     UID
//	SwapCommit       UID, Data
//	SwapComplete     UID, Data
//	LocationChanged  Location
//
// Source is filled in by the transport on receipt and never sent.
type Message struct {
	Type     MessageType
	UID      uint64
	Hash     []byte
	HTL      int
	Data     []byte
	Location float64

	Source peer.ID
}

// Clone returns a deep copy, so relays can rewrite identifiers safely.
func (m *Message) Clone() *Message {
	c := *m
	if m.Hash != nil {
		c.Hash = append([]byte(nil), m.Hash...)
	}
	if m.Data != nil {
		c.Data = append([]byte(nil), m.Data...)
	}
	return &c
}

func (m *Message) String() string {
	switch m.Type {
	case MsgSwapRequest:
		return fmt.Sprintf("%s{uid=%d htl=%d}", m.Type, m.UID, m.HTL)
	case MsgLocationChanged:
		return fmt.Sprintf("%s{loc=%f}", m.Type, m.Location)
	default:
		return fmt.Sprintf("%s{uid=%d}", m.Type, m.UID)
	}
}

func newRequest(uid uint64, hash []byte, htl int) *Message {
	return &Message{Type: MsgSwapRequest, UID: uid, Hash: hash, HTL: htl}
}

func newReply(uid uint64, hash []byte) *Message {
	return &Message{Type: MsgSwapReply, UID: uid, Hash: hash}
}

func newRejected(uid uint64) *Message {
	return &Message{Type: MsgSwapRejected, UID: uid}
}

func newCommit(uid uint64, data []byte) *Message {
	return &Message{Type: MsgSwapCommit, UID: uid, Data: data}
}

func newComplete(uid uint64, data []byte) *Message {
	return &Message{Type: MsgSwapComplete, UID: uid, Data: data}
}

// NewLocationChanged builds the notification broadcast after a swap.
func NewLocationChanged(loc float64) *Message {
	return &Message{Type: MsgLocationChanged, Location: loc}
}
