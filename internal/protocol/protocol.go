package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello     = "HELLO"
	TypeWelcome   = "WELCOME"
	TypeContents  = "CONTENTS"
	TypeDelta     = "DELTA"
	TypeAct       = "ACT"
	TypeActResult = "ACT_RESULT"
)

// Action kinds carried in ACT messages.
const (
	ActDeposit     = "DEPOSIT"
	ActWithdraw    = "WITHDRAW"
	ActLink        = "LINK"
	ActUnlink      = "UNLINK"
	ActConfigure   = "CONFIGURE"
	ActSetPriority = "SET_PRIORITY"
	ActSort        = "SORT" // move a whole container's contents into the network
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
