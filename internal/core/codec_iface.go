package core

import "github.com/dkeye/danmaku/internal/domain"

// Codec turns frames into messages and back. Decode must never panic:
// malformed input yields an empty slice.
type Codec interface {
	Decode(Frame) []domain.Message
	EncodeJoin(room domain.RoomID, user domain.UserID) Frame
	EncodeHeartbeat() Frame
}
