package broker

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// requestKind Broker 报文类型
type requestKind byte

const (
	kindSubscribe         requestKind = 10
	kindSubscribeRegExp   requestKind = 20
	kindUnsubscribe       requestKind = 30
	kindUnsubscribeRegExp requestKind = 40
	kindUnsubscribeAll    requestKind = 50
	kindPublish           requestKind = 60
)

func (k requestKind) String() string {
	switch k {
	case kindSubscribe:
		return "subscribe"
	case kindSubscribeRegExp:
		return "subscribe-regexp"
	case kindUnsubscribe:
		return "unsubscribe"
	case kindUnsubscribeRegExp:
		return "unsubscribe-regexp"
	case kindUnsubscribeAll:
		return "unsubscribe-all"
	case kindPublish:
		return "publish"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// brokerMessage Broker 报文
//
// 线格式（小端）：kind:byte typeCount:int32 types:string[] [payload:blob]
// payload 仅 Publish 携带，Publish 的 types 恰有一项。
type brokerMessage struct {
	Kind    requestKind
	Types   []string
	Payload []byte
}

func encode(m *brokerMessage) ([]byte, error) {
	switch m.Kind {
	case kindSubscribe, kindSubscribeRegExp, kindUnsubscribe, kindUnsubscribeRegExp, kindUnsubscribeAll, kindPublish:
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrMalformedMessage, m.Kind)
	}
	if len(m.Types) > math.MaxInt32 {
		return nil, fmt.Errorf("%w: too many types", ErrMalformedMessage)
	}

	var buf bytes.Buffer
	buf.WriteByte(byte(m.Kind))
	putInt32(&buf, int32(len(m.Types)))
	for _, t := range m.Types {
		putInt32(&buf, int32(len(t)))
		buf.WriteString(t)
	}
	if m.Kind == kindPublish {
		if m.Payload == nil {
			putInt32(&buf, -1)
		} else {
			putInt32(&buf, int32(len(m.Payload)))
			buf.Write(m.Payload)
		}
	}
	return buf.Bytes(), nil
}

func putInt32(buf *bytes.Buffer, v int32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	buf.Write(b[:])
}

func decode(data []byte) (*brokerMessage, error) {
	r := bytes.NewReader(data)
	kind, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	m := &brokerMessage{Kind: requestKind(kind)}
	switch m.Kind {
	case kindSubscribe, kindSubscribeRegExp, kindUnsubscribe, kindUnsubscribeRegExp, kindUnsubscribeAll, kindPublish:
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrMalformedMessage, kind)
	}

	n, err := readInt32(r)
	if err != nil {
		return nil, err
	}
	// 每个类型至少占 4 字节长度前缀
	if n < 0 || int(n) > r.Len()/4 {
		return nil, fmt.Errorf("%w: type count %d", ErrMalformedMessage, n)
	}
	m.Types = make([]string, 0, n)
	for i := int32(0); i < n; i++ {
		b, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		m.Types = append(m.Types, string(b))
	}

	if m.Kind == kindPublish {
		if m.Payload, err = readBytes(r); err != nil {
			return nil, err
		}
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedMessage, r.Len())
	}
	return m, nil
}

func readInt32(r *bytes.Reader) (int32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return int32(binary.LittleEndian.Uint32(b[:])), nil
}

// readBytes 读取长度前缀的字节串，长度 -1 表示 nil
func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readInt32(r)
	if err != nil {
		return nil, err
	}
	if n == -1 {
		return nil, nil
	}
	if n < 0 || int(n) > r.Len() {
		return nil, fmt.Errorf("%w: length %d exceeds remaining %d", ErrMalformedMessage, n, r.Len())
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return b, nil
}
