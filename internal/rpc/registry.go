package rpc

import (
	"fmt"
	"reflect"

	"github.com/dep2p/go-duplex/pkg/lib/event"
)

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	untypedType = reflect.TypeOf((*event.Untyped)(nil)).Elem()
)

// methodInfo 远程方法描述
type methodInfo struct {
	name         string
	params       []reflect.Type
	result       reflect.Type
	returnsError bool
}

// eventInfo 远程事件描述
type eventInfo struct {
	name    string
	argType reflect.Type
}

// registry 按名称索引的方法与事件表
type registry struct {
	iface   reflect.Type
	methods map[string]*methodInfo
	events  map[string]*eventInfo
}

// buildRegistry 通过反射解析服务接口
//
// 形如 func() *event.Event[T] 的方法是远程事件；
// 其余方法须为 func(args...) [R] [error]，不支持可变参数。
func buildRegistry(iface reflect.Type) (*registry, error) {
	if iface == nil || iface.Kind() != reflect.Interface {
		return nil, fmt.Errorf("%w: %v is not an interface", ErrInvalidInterface, iface)
	}

	reg := &registry{
		iface:   iface,
		methods: make(map[string]*methodInfo),
		events:  make(map[string]*eventInfo),
	}

	for i := 0; i < iface.NumMethod(); i++ {
		m := iface.Method(i)
		ft := m.Type

		if ev, ok := parseEvent(m.Name, ft); ok {
			reg.events[m.Name] = ev
			continue
		}

		info, err := parseMethod(m.Name, ft)
		if err != nil {
			return nil, err
		}
		reg.methods[m.Name] = info
	}

	return reg, nil
}

func parseEvent(name string, ft reflect.Type) (*eventInfo, bool) {
	if ft.NumIn() != 0 || ft.NumOut() != 1 {
		return nil, false
	}
	out := ft.Out(0)
	if out.Kind() != reflect.Pointer || !out.Implements(untypedType) {
		return nil, false
	}
	ev := reflect.New(out.Elem()).Interface().(event.Untyped)
	return &eventInfo{name: name, argType: ev.ArgType()}, true
}

func parseMethod(name string, ft reflect.Type) (*methodInfo, error) {
	if ft.IsVariadic() {
		return nil, fmt.Errorf("%w: method %s is variadic", ErrInvalidInterface, name)
	}

	info := &methodInfo{name: name}
	for i := 0; i < ft.NumIn(); i++ {
		info.params = append(info.params, ft.In(i))
	}

	switch ft.NumOut() {
	case 0:
	case 1:
		if ft.Out(0) == errorType {
			info.returnsError = true
		} else {
			info.result = ft.Out(0)
		}
	case 2:
		if ft.Out(1) != errorType {
			return nil, fmt.Errorf("%w: method %s second result must be error", ErrInvalidInterface, name)
		}
		info.result = ft.Out(0)
		info.returnsError = true
	default:
		return nil, fmt.Errorf("%w: method %s has %d results", ErrInvalidInterface, name, ft.NumOut())
	}
	return info, nil
}

// interfaceOf 返回类型参数 I 对应的接口类型
func interfaceOf[I any]() reflect.Type {
	return reflect.TypeOf((*I)(nil)).Elem()
}
