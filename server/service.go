package server

import (
	"encoding/json"
	"fmt"
	"go/token"
	"reflect"

	"authz-rpc/procedure"
	"authz-rpc/rpcctx"
	"authz-rpc/rpcerr"
)

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*rpcctx.Context)(nil))
)

type methodType struct {
	method    reflect.Method
	ArgType   reflect.Type
	ReplyType reflect.Type
	handler   procedure.Handler // method wrapped in the service's procedure chain
}

type service struct {
	name      string
	rcvr      reflect.Value
	typ       reflect.Type
	procedure *procedure.Procedure
	method    map[string]*methodType
}

// newService scans rcvr for RPC methods and binds each one to proc.
// An RPC method looks like:
//
//	func (s *T) Name(rc *rpcctx.Context, args *Args, reply *Reply) error
func newService(name string, rcvr any, proc *procedure.Procedure) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("rpc: rcvr must be a pointer, got %v", typ)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("rpc: rcvr must point to a struct, got %s", typ.Elem().Kind())
	}
	if proc == nil {
		return nil, fmt.Errorf("rpc: service %s registered without a procedure", typ.Elem().Name())
	}
	if name == "" {
		name = typ.Elem().Name()
	}
	if !token.IsExported(name) {
		return nil, fmt.Errorf("rpc: service name %q is not exported", name)
	}

	svc := &service{
		name:      name,
		rcvr:      reflect.ValueOf(rcvr),
		typ:       typ,
		procedure: proc,
		method:    make(map[string]*methodType),
	}
	svc.registerMethods()
	if len(svc.method) == 0 {
		return nil, fmt.Errorf("rpc: service %s has no suitable methods", name)
	}
	return svc, nil
}

func (s *service) registerMethods() {
	for i := 0; i < s.typ.NumMethod(); i++ {
		method := s.typ.Method(i)
		mt := method.Type
		if mt.NumIn() != 4 || mt.NumOut() != 1 || mt.Out(0) != errorType ||
			mt.In(1) != contextType ||
			mt.In(2).Kind() != reflect.Ptr || mt.In(3).Kind() != reflect.Ptr {
			continue
		}
		m := &methodType{
			method:    method,
			ArgType:   mt.In(2).Elem(),
			ReplyType: mt.In(3).Elem(),
		}
		m.handler = s.procedure.Handle(s.handler(m))
		s.method[method.Name] = m
	}
}

// handler adapts a reflected method to a procedure.Handler: it decodes the
// JSON input into a fresh args value and returns the filled reply.
func (s *service) handler(m *methodType) procedure.Handler {
	return func(rc *rpcctx.Context, input []byte) (any, error) {
		argv := reflect.New(m.ArgType)
		if len(input) > 0 {
			if err := json.Unmarshal(input, argv.Interface()); err != nil {
				return nil, rpcerr.Wrap(rpcerr.ParseError, err, "invalid input: "+err.Error())
			}
		}
		replyv := reflect.New(m.ReplyType)
		if err := s.call(m, rc, argv, replyv); err != nil {
			return nil, err
		}
		return replyv.Interface(), nil
	}
}

func (s *service) call(m *methodType, rc *rpcctx.Context, argv, replyv reflect.Value) (err error) {
	defer func() {
		if r := recover(); r != nil {
			rc.Logger().Error("RPC method panicked", "method", s.name+"."+m.method.Name, "panic", r)
			err = rpcerr.New(rpcerr.InternalServerError, fmt.Sprintf("%s.%s panicked", s.name, m.method.Name))
		}
	}()
	args := [4]reflect.Value{s.rcvr, reflect.ValueOf(rc), argv, replyv}
	results := m.method.Func.Call(args[:])
	if !results[0].IsNil() {
		return results[0].Interface().(error)
	}
	return nil
}
