package room

import (
	"github.com/qls-chat/qls-server/internal/identity"
	"github.com/qls-chat/qls-server/internal/wire"
)

// TextData wraps a Room so that every payload handed to SendAll/SendOne is
// first framed as a Text-type wire frame. Private and Group rooms only
// ever talk to a TextData, never a bare Room. The JSON envelope for
// messages, tips, and verification events always rides inside a Text
// frame, matching the original TextDataRoom::sendData wrapper.
type TextData struct {
	*Room
}

// NewTextData builds a TextData room over lookup.
func NewTextData(lookup Lookup) *TextData {
	return &TextData{Room: New(lookup)}
}

func frameText(payload []byte) []byte {
	f, err := wire.Marshal(wire.Frame{Type: wire.TypeText, Payload: payload})
	if err != nil {
		// Only fails if payload exceeds MaxFrameLength, which a JSON event
		// body never will in practice; drop rather than panic.
		return nil
	}
	return f
}

// SendAllJSON frames payload as a Text frame and fans it out to every
// member.
func (t *TextData) SendAllJSON(payload []byte) {
	framed := frameText(payload)
	if framed == nil {
		return
	}
	t.Room.SendAll(framed)
}

// SendOneJSON frames payload as a Text frame and delivers it to a single
// member.
func (t *TextData) SendOneJSON(payload []byte, u identity.UserID) {
	framed := frameText(payload)
	if framed == nil {
		return
	}
	t.Room.SendOne(framed, u)
}
