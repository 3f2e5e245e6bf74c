package serializers

import (
	"reflect"

	"github.com/rawbytedev/refgraph/pkg/contract"
)

// SurrogateNode converts a value to its surrogate type and encodes that
// instead.
type SurrogateNode struct {
	typ  reflect.Type
	to   reflect.Value
	from reflect.Value
	tail Node
}

// NewSurrogate wraps tail, the node of the surrogate type s.Type. The
// conversions must be func(T) S and func(S) T.
func NewSurrogate(s *contract.Surrogate, tail Node) (*SurrogateNode, error) {
	to, from := s.To.Type(), s.From.Type()
	if to.Kind() != reflect.Func || to.NumIn() != 1 || to.NumOut() != 1 ||
		from.Kind() != reflect.Func || from.NumIn() != 1 || from.NumOut() != 1 {
		return nil, contractErr(s.Type, "surrogate conversions must be func(T) S and func(S) T")
	}
	t := to.In(0)
	if to.Out(0) != s.Type || from.In(0) != s.Type || from.Out(0) != t {
		return nil, contractErr(t, "surrogate conversions do not match %s", s.Type)
	}
	if !s.Type.AssignableTo(tail.ExpectedType()) && tail.ExpectedType() != s.Type {
		return nil, contractErr(t, "surrogate node expects %s", tail.ExpectedType())
	}
	return &SurrogateNode{typ: t, to: s.To, from: s.From, tail: tail}, nil
}

func (s *SurrogateNode) ExpectedType() reflect.Type { return s.typ }
func (s *SurrogateNode) RequiresOldValue() bool     { return false }
func (s *SurrogateNode) ReturnsValue() bool         { return true }
func (s *SurrogateNode) Tail() Node                 { return s.tail }

func (s *SurrogateNode) Write(v reflect.Value, e *Encoder) error {
	if v.Type() != s.typ {
		var err error
		if v, err = assignable(v, s.typ); err != nil {
			return err
		}
	}
	sv := unwrap(s.to.Call([]reflect.Value{v})[0])
	if !sv.IsValid() || isNil(sv) && sv.Kind() != reflect.Slice {
		sv = reflect.Zero(s.tail.ExpectedType())
		if isNil(sv) {
			return nil
		}
	}
	return s.tail.Write(sv, e)
}

func (s *SurrogateNode) Read(_ reflect.Value, d *Decoder) (reflect.Value, error) {
	sv, err := s.tail.Read(reflect.Value{}, d)
	if err != nil {
		return reflect.Value{}, err
	}
	st := s.from.Type().In(0)
	if !sv.IsValid() {
		sv = reflect.Zero(st)
	} else if sv, err = assignable(sv, st); err != nil {
		return reflect.Value{}, err
	}
	return s.from.Call([]reflect.Value{sv})[0], nil
}
