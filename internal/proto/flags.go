// Package proto holds the one-byte command flags carried at the start of
// every text frame exchanged between relay clients and the server.
package proto

// Flag is the first byte of an application payload.
type Flag byte

// Client -> server.
const (
	Auth    Flag = 'A'
	DropMe  Flag = 'X'
	TieInit Flag = 'T'
)

// Server -> client.
const (
	AuthOK       Flag = 'O'
	AuthFault    Flag = 'D'
	AuthOverAuth Flag = 'I'
	TieOK        Flag = 'S'
	TieOKWait    Flag = 'W'
	TieNoUser    Flag = 'N'
	TieSelfTie   Flag = 'M'
	TieOverTie   Flag = 'R'
)

// Both directions.
const (
	Untie   Flag = 'C'
	OK      Flag = 'Y'
	Fault   Flag = 'E'
	Message Flag = 'B'
)

var names = map[Flag]string{
	Auth:         "auth",
	DropMe:       "drop_me",
	TieInit:      "tie_init",
	AuthOK:       "auth_ok",
	AuthFault:    "auth_fault",
	AuthOverAuth: "auth_overauth",
	TieOK:        "tie_ok",
	TieOKWait:    "tie_ok_wait",
	TieNoUser:    "tie_fault_nouser",
	TieSelfTie:   "tie_fault_selftie",
	TieOverTie:   "tie_fault_overtie",
	Untie:        "untie",
	OK:           "ok",
	Fault:        "fault",
	Message:      "message",
}

func (f Flag) String() string {
	if n, ok := names[f]; ok {
		return n
	}
	return "unknown"
}

// Split separates a payload into its flag and body. ok is false for an
// empty payload.
func Split(payload []byte) (f Flag, body []byte, ok bool) {
	if len(payload) == 0 {
		return 0, nil, false
	}
	return Flag(payload[0]), payload[1:], true
}

// Pack builds a payload from a flag and body.
func Pack(f Flag, body []byte) []byte {
	p := make([]byte, 0, len(body)+1)
	p = append(p, byte(f))
	return append(p, body...)
}
