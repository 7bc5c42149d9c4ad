package core

import "github.com/dkeye/danmaku/internal/domain"

// Topic names a subscription channel on the event bus.
type Topic string

const (
	TopicConnect    Topic = "connect"
	TopicClose      Topic = "close"
	TopicError      Topic = "error"
	TopicData       Topic = "data"
	TopicGiftBundle Topic = "giftBundle"
	TopicFans       Topic = "fans"
)

// Event is the closed set of values a session publishes.
type Event interface {
	// Topics lists every topic the event is delivered on.
	Topics() []Topic
	isEvent()
}

type ConnectEvent struct{}

type CloseEvent struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

type ErrorEvent struct {
	Err error `json:"-"`
}

// MessageEvent carries one decoded message; it is delivered on "data" and
// on the topic named after the message kind.
type MessageEvent struct {
	Message domain.Message
}

type GiftBundleEvent struct {
	Message domain.Message
}

type FansEvent struct {
	Update domain.FansUpdate
}

func (ConnectEvent) Topics() []Topic    { return []Topic{TopicConnect} }
func (CloseEvent) Topics() []Topic      { return []Topic{TopicClose} }
func (ErrorEvent) Topics() []Topic      { return []Topic{TopicError} }
func (GiftBundleEvent) Topics() []Topic { return []Topic{TopicGiftBundle} }
func (FansEvent) Topics() []Topic       { return []Topic{TopicData, TopicFans} }
func (e MessageEvent) Topics() []Topic {
	return []Topic{TopicData, Topic(e.Message.Kind)}
}

func (ConnectEvent) isEvent()    {}
func (CloseEvent) isEvent()      {}
func (ErrorEvent) isEvent()      {}
func (MessageEvent) isEvent()    {}
func (GiftBundleEvent) isEvent() {}
func (FansEvent) isEvent()       {}

// Payload returns the JSON-friendly body of an event.
func Payload(e Event) any {
	switch ev := e.(type) {
	case CloseEvent:
		return ev
	case ErrorEvent:
		if ev.Err == nil {
			return map[string]string{}
		}
		return map[string]string{"error": ev.Err.Error()}
	case MessageEvent:
		return ev.Message
	case GiftBundleEvent:
		return ev.Message
	case FansEvent:
		return ev.Update
	default:
		return struct{}{}
	}
}
