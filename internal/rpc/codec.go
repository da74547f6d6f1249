package rpc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// messageKind 报文类型
type messageKind byte

const (
	kindInvoke      messageKind = 10
	kindSubscribe   messageKind = 20
	kindUnsubscribe messageKind = 30
	kindRaiseEvent  messageKind = 40
	kindResponse    messageKind = 50
)

func (k messageKind) String() string {
	switch k {
	case kindInvoke:
		return "invoke"
	case kindSubscribe:
		return "subscribe"
	case kindUnsubscribe:
		return "unsubscribe"
	case kindRaiseEvent:
		return "raise-event"
	case kindResponse:
		return "response"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// errorInfo 响应中的错误字段
type errorInfo struct {
	Type    string
	Message string
	Details string
}

// message RPC 报文
//
// 线格式（小端）：
//
//	requestID:int32 kind:byte
//	Invoke/RaiseEvent: name:string paramCount:int32 params:blob[]
//	Subscribe/Unsubscribe: name:string
//	Response: hasReturn:byte [return:blob] hasError:byte [type:string message:string details:string]
//
// string 为 int32 字节长度加 UTF-8；blob 为 int32 长度（-1 表示 nil）加内容。
type message struct {
	ID     int32
	Kind   messageKind
	Name   string
	Params [][]byte

	HasReturn bool
	Return    []byte
	Error     *errorInfo
}

// ============================================================================
//                              编码
// ============================================================================

func encodeMessage(m *message) ([]byte, error) {
	var buf bytes.Buffer
	w := &writer{buf: &buf}

	w.int32(m.ID)
	w.byte(byte(m.Kind))

	switch m.Kind {
	case kindInvoke, kindRaiseEvent:
		w.string(m.Name)
		w.int32(int32(len(m.Params)))
		for _, p := range m.Params {
			w.blob(p)
		}
	case kindSubscribe, kindUnsubscribe:
		w.string(m.Name)
	case kindResponse:
		w.bool(m.HasReturn)
		if m.HasReturn {
			w.blob(m.Return)
		}
		w.bool(m.Error != nil)
		if m.Error != nil {
			w.string(m.Error.Type)
			w.string(m.Error.Message)
			w.string(m.Error.Details)
		}
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrMalformedMessage, m.Kind)
	}

	if w.err != nil {
		return nil, w.err
	}
	return buf.Bytes(), nil
}

type writer struct {
	buf *bytes.Buffer
	err error
}

func (w *writer) byte(b byte) {
	w.buf.WriteByte(b)
}

func (w *writer) bool(v bool) {
	if v {
		w.byte(1)
		return
	}
	w.byte(0)
}

func (w *writer) int32(v int32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	w.buf.Write(b[:])
}

func (w *writer) string(s string) {
	if len(s) > math.MaxInt32 {
		w.err = fmt.Errorf("%w: string too long", ErrMalformedMessage)
		return
	}
	w.int32(int32(len(s)))
	w.buf.WriteString(s)
}

func (w *writer) blob(b []byte) {
	if b == nil {
		w.int32(-1)
		return
	}
	if len(b) > math.MaxInt32 {
		w.err = fmt.Errorf("%w: blob too long", ErrMalformedMessage)
		return
	}
	w.int32(int32(len(b)))
	w.buf.Write(b)
}

// ============================================================================
//                              解码
// ============================================================================

func decodeMessage(data []byte) (*message, error) {
	r := &reader{r: bytes.NewReader(data)}
	m := &message{}

	m.ID = r.int32()
	m.Kind = messageKind(r.byte())

	switch m.Kind {
	case kindInvoke, kindRaiseEvent:
		m.Name = r.string()
		n := r.int32()
		if n < 0 || int(n) > r.r.Len()/4 {
			return nil, fmt.Errorf("%w: param count %d", ErrMalformedMessage, n)
		}
		m.Params = make([][]byte, 0, n)
		for i := int32(0); i < n && r.err == nil; i++ {
			m.Params = append(m.Params, r.blob())
		}
	case kindSubscribe, kindUnsubscribe:
		m.Name = r.string()
	case kindResponse:
		m.HasReturn = r.bool()
		if m.HasReturn {
			m.Return = r.blob()
		}
		if r.bool() {
			m.Error = &errorInfo{
				Type:    r.string(),
				Message: r.string(),
				Details: r.string(),
			}
		}
	default:
		if r.err == nil {
			return nil, fmt.Errorf("%w: unknown kind %d", ErrMalformedMessage, m.Kind)
		}
	}

	if r.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, r.err)
	}
	if r.r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedMessage, r.r.Len())
	}
	return m, nil
}

// reader 出错后的读取均返回零值，错误在最后统一检查
type reader struct {
	r   *bytes.Reader
	err error
}

func (r *reader) byte() byte {
	if r.err != nil {
		return 0
	}
	b, err := r.r.ReadByte()
	if err != nil {
		r.err = err
		return 0
	}
	return b
}

func (r *reader) bool() bool {
	return r.byte() != 0
}

func (r *reader) int32() int32 {
	if r.err != nil {
		return 0
	}
	var b [4]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		r.err = err
		return 0
	}
	return int32(binary.LittleEndian.Uint32(b[:]))
}

func (r *reader) bytes(n int32) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || int(n) > r.r.Len() {
		r.err = fmt.Errorf("length %d exceeds remaining %d", n, r.r.Len())
		return nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		r.err = err
		return nil
	}
	return b
}

func (r *reader) string() string {
	return string(r.bytes(r.int32()))
}

func (r *reader) blob() []byte {
	n := r.int32()
	if n == -1 {
		return nil
	}
	return r.bytes(n)
}
