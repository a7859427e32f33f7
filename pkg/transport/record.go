package transport

import "fmt"

// Kind discriminates a Record as a request/response reply or an
// asynchronous channel event.
type Kind uint8

const (
	KindResponse Kind = iota
	KindEvent
)

func (k Kind) String() string {
	if k == KindResponse {
		return "response"
	}
	return "event"
}

// Record is the uniform shape every frame leaving the transport core
// takes: a (channel, code, payload) triple tagged Response or Event.
// Channel is nil for notifications and chip-wide responses.
type Record struct {
	Kind    Kind
	Channel *uint8
	Code    Code
	Data    []byte
}

func (r Record) String() string {
	ch := "none"
	if r.Channel != nil {
		ch = fmt.Sprintf("%d", *r.Channel)
	}
	return fmt.Sprintf("%s{channel=%s code=%s data=%x}", r.Kind, ch, r.Code, r.Data)
}

func channelOf(b byte) *uint8 {
	c := b
	return &c
}
