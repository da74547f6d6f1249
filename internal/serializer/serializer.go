// Package serializer 提供 RPC 与 Broker 负载的序列化实现
//
//   - JSON: 基于 goccy/go-json，适用于任意可 JSON 编码的值
//   - Proto: 基于 google.golang.org/protobuf，只接受 proto.Message
package serializer

import (
	"errors"
	"fmt"
	"reflect"

	json "github.com/goccy/go-json"
	"google.golang.org/protobuf/proto"

	"github.com/dep2p/go-duplex/pkg/interfaces"
)

// 错误定义
var (
	// ErrNotProtoMessage 值不是 proto.Message
	ErrNotProtoMessage = errors.New("serializer: value is not a proto.Message")

	// ErrUnknownFormat 未知的序列化格式
	ErrUnknownFormat = errors.New("serializer: unknown format")
)

// 序列化格式名称
const (
	FormatJSON  = "json"
	FormatProto = "proto"
)

// New 按格式名称创建序列化器
func New(format string) (interfaces.Serializer, error) {
	switch format {
	case "", FormatJSON:
		return JSON{}, nil
	case FormatProto:
		return Proto{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// ============================================================================
//                              JSON
// ============================================================================

// JSON JSON 序列化器
type JSON struct{}

var _ interfaces.Serializer = JSON{}

// Serialize 序列化值
func (JSON) Serialize(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Deserialize 反序列化到 v
func (JSON) Deserialize(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// ============================================================================
//                              Proto
// ============================================================================

// Proto protobuf 序列化器
type Proto struct{}

var _ interfaces.Serializer = Proto{}

// Serialize 序列化 proto.Message
func (Proto) Serialize(v any) ([]byte, error) {
	m, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNotProtoMessage, v)
	}
	return proto.Marshal(m)
}

// Deserialize 反序列化到 proto.Message
//
// v 也可以是指向 proto.Message 指针的指针（如 **wrapperspb.StringValue），
// 此时按需分配目标消息。
func (Proto) Deserialize(data []byte, v any) error {
	switch target := v.(type) {
	case proto.Message:
		return proto.Unmarshal(data, target)
	default:
		m, err := allocate(v)
		if err != nil {
			return err
		}
		return proto.Unmarshal(data, m)
	}
}

// allocate 处理 **T 形式的目标，必要时分配 *T
func allocate(v any) (proto.Message, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Pointer {
		return nil, fmt.Errorf("%w: %T", ErrNotProtoMessage, v)
	}
	elem := rv.Elem()
	if elem.IsNil() {
		elem.Set(reflect.New(elem.Type().Elem()))
	}
	m, ok := elem.Interface().(proto.Message)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNotProtoMessage, v)
	}
	return m, nil
}
