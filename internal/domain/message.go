package domain

import "time"

// Kind tags a decoded inbound message.
type Kind string

const (
	KindConnected Kind = "connected"
	KindOnline    Kind = "online"
	KindDanmaku   Kind = "danmaku"
	KindGift      Kind = "gift"
	KindWelcome   Kind = "welcome"
	KindGuard     Kind = "guard"
	KindSuperChat Kind = "superchat"
	KindBlock     Kind = "block"
	KindUnknown   Kind = "unknown"
)

// Gift is the gift-specific part of a message.
type Gift struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Count    int64  `json:"count"`
	Price    int64  `json:"price"`
	CoinType string `json:"coin_type,omitempty"`
}

// Message is an immutable decoded inbound message.
// Only the fields relevant to Kind are set.
type Message struct {
	Kind    Kind      `json:"kind"`
	Time    time.Time `json:"ts"`
	User    *User     `json:"user,omitempty"`
	Content string    `json:"content,omitempty"`
	Price   int64     `json:"price,omitempty"`
	Level   int64     `json:"level,omitempty"`
	Online  int64     `json:"online,omitempty"`
	Gift    *Gift     `json:"gift,omitempty"`
	Cmd     string    `json:"cmd,omitempty"`
}

// Clone returns a deep copy so aggregators can mutate the result freely.
func (m Message) Clone() Message {
	if m.User != nil {
		u := *m.User
		m.User = &u
	}
	if m.Gift != nil {
		g := *m.Gift
		m.Gift = &g
	}
	return m
}

// FansUpdate reports the audience roster delta of one poll.
type FansUpdate struct {
	Time   time.Time `json:"ts"`
	Total  int64     `json:"total"`
	NewIDs []UserID  `json:"new_fans"`
}

// FansPage is one page of the audience roster.
type FansPage struct {
	Total int64
	IDs   []UserID
}
