package protocol

import (
	"encoding/binary"
	"encoding/json"
	"strings"
	"time"

	"github.com/dkeye/danmaku/internal/core"
	"github.com/dkeye/danmaku/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// Codec implements core.Codec for the live broadcast protocol.
type Codec struct {
	now func() time.Time
}

var _ core.Codec = (*Codec)(nil)

func NewCodec() *Codec {
	return &Codec{now: time.Now}
}

type joinBody struct {
	UID       int64  `json:"uid"`
	RoomID    int64  `json:"roomid"`
	ProtoVer  int    `json:"protover"`
	Platform  string `json:"platform"`
	ClientVer string `json:"clientver"`
}

func (c *Codec) EncodeJoin(room domain.RoomID, user domain.UserID) core.Frame {
	body, _ := json.Marshal(joinBody{
		UID:       int64(user),
		RoomID:    int64(room),
		ProtoVer:  int(VersionDeflate),
		Platform:  "web",
		ClientVer: "1.8.5",
	})
	return Packet{Version: VersionInt, Op: OpJoin, Seq: 1, Body: body}.Marshal()
}

func (c *Codec) EncodeHeartbeat() core.Frame {
	return Packet{Version: VersionInt, Op: OpHeartbeat, Seq: 1}.Marshal()
}

// Decode never fails. A malformed tail is logged and dropped; whatever was
// decoded before it is still returned.
func (c *Codec) Decode(frame core.Frame) []domain.Message {
	var out []domain.Message
	c.decodeInto(frame, &out, 0)
	return out
}

func (c *Codec) decodeInto(data []byte, out *[]domain.Message, depth int) {
	packets, err := split(data)
	if err != nil {
		log.Debug().Err(err).Str("module", "protocol").Int("len", len(data)).Msg("malformed frame")
	}
	for _, p := range packets {
		switch p.Op {
		case OpJoinReply:
			*out = append(*out, domain.Message{Kind: domain.KindConnected, Time: c.now()})
		case OpHeartbeatReply:
			if len(p.Body) < 4 {
				continue
			}
			*out = append(*out, domain.Message{
				Kind:   domain.KindOnline,
				Time:   c.now(),
				Online: int64(binary.BigEndian.Uint32(p.Body[:4])),
			})
		case OpCommand:
			if p.Version == VersionDeflate {
				// Nested batches are one level deep in practice.
				if depth > 0 {
					continue
				}
				inner, err := inflate(p.Body)
				if err != nil {
					log.Debug().Err(err).Str("module", "protocol").Msg("inflate failed")
					continue
				}
				c.decodeInto(inner, out, depth+1)
				continue
			}
			if m, ok := c.parseCommand(p.Body); ok {
				*out = append(*out, m)
			}
		}
	}
}

func (c *Codec) parseCommand(body []byte) (domain.Message, bool) {
	if !gjson.ValidBytes(body) {
		log.Debug().Str("module", "protocol").Msg("command is not json")
		return domain.Message{}, false
	}
	doc := gjson.ParseBytes(body)
	cmd := doc.Get("cmd").String()
	if i := strings.IndexByte(cmd, ':'); i >= 0 {
		cmd = cmd[:i]
	}
	if cmd == "" {
		return domain.Message{}, false
	}

	data := doc.Get("data")
	switch cmd {
	case "DANMU_MSG":
		info := doc.Get("info")
		return domain.Message{
			Kind:    domain.KindDanmaku,
			Time:    c.millis(info.Get("0.4").Int()),
			User:    user(info.Get("2.0").Int(), info.Get("2.1").String()),
			Content: info.Get("1").String(),
		}, true
	case "SEND_GIFT":
		return domain.Message{
			Kind: domain.KindGift,
			Time: c.seconds(data.Get("timestamp").Int()),
			User: user(data.Get("uid").Int(), data.Get("uname").String()),
			Gift: &domain.Gift{
				ID:       data.Get("giftId").Int(),
				Name:     data.Get("giftName").String(),
				Count:    data.Get("num").Int(),
				Price:    data.Get("price").Int(),
				CoinType: data.Get("coin_type").String(),
			},
		}, true
	case "WELCOME":
		return domain.Message{
			Kind: domain.KindWelcome,
			Time: c.now(),
			User: user(data.Get("uid").Int(), data.Get("uname").String()),
		}, true
	case "WELCOME_GUARD":
		return domain.Message{
			Kind:  domain.KindWelcome,
			Time:  c.now(),
			User:  user(data.Get("uid").Int(), data.Get("username").String()),
			Level: data.Get("guard_level").Int(),
		}, true
	case "GUARD_BUY":
		return domain.Message{
			Kind:  domain.KindGuard,
			Time:  c.seconds(data.Get("start_time").Int()),
			User:  user(data.Get("uid").Int(), data.Get("username").String()),
			Level: data.Get("guard_level").Int(),
			Gift: &domain.Gift{
				ID:    data.Get("gift_id").Int(),
				Name:  data.Get("gift_name").String(),
				Count: data.Get("num").Int(),
				Price: data.Get("price").Int(),
			},
		}, true
	case "SUPER_CHAT_MESSAGE":
		return domain.Message{
			Kind:    domain.KindSuperChat,
			Time:    c.seconds(data.Get("start_time").Int()),
			User:    user(data.Get("uid").Int(), data.Get("user_info.uname").String()),
			Content: data.Get("message").String(),
			Price:   data.Get("price").Int(),
		}, true
	case "ROOM_BLOCK_MSG":
		uid := data.Get("uid")
		if !uid.Exists() {
			uid = doc.Get("uid")
		}
		uname := data.Get("uname")
		if !uname.Exists() {
			uname = doc.Get("uname")
		}
		return domain.Message{
			Kind: domain.KindBlock,
			Time: c.now(),
			User: user(uid.Int(), uname.String()),
		}, true
	default:
		return domain.Message{Kind: domain.KindUnknown, Time: c.now(), Cmd: cmd}, true
	}
}

func (c *Codec) millis(ms int64) time.Time {
	if ms <= 0 {
		return c.now()
	}
	return time.UnixMilli(ms)
}

func (c *Codec) seconds(s int64) time.Time {
	if s <= 0 {
		return c.now()
	}
	return time.Unix(s, 0)
}

func user(id int64, name string) *domain.User {
	return &domain.User{ID: domain.UserID(id), Name: name}
}
