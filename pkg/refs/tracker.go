package refs

import (
	"fmt"
	"reflect"
)

type identity struct {
	typ  reflect.Type
	addr uintptr
}

// WriteTracker assigns keys to objects the first time they are written.
type WriteTracker struct {
	keys map[identity]int
	next int
}

// NewWriteTracker returns a tracker whose first key is first.
func NewWriteTracker(first int) *WriteTracker {
	return &WriteTracker{keys: make(map[identity]int), next: first}
}

// Key returns the key of v, assigning the next one when v has not been seen.
// v must be a non-nil pointer.
func (t *WriteTracker) Key(v reflect.Value) (key int, existed bool) {
	id := identity{typ: v.Type(), addr: v.Pointer()}
	if k, ok := t.keys[id]; ok {
		return k, true
	}
	key = t.next
	t.next++
	t.keys[id] = key
	return key, false
}

// Reserve consumes a key without binding it to an object.
func (t *WriteTracker) Reserve() int {
	key := t.next
	t.next++
	return key
}

// Next is the key the next new object will get.
func (t *WriteTracker) Next() int { return t.next }

type expectation struct {
	key   int
	typ   reflect.Type
	bound bool
}

// ReadTracker maps keys back to materialized objects.
type ReadTracker struct {
	objects []reflect.Value
	first   int
	expect  []expectation
}

func NewReadTracker(first int) *ReadTracker {
	return &ReadTracker{first: first}
}

// Register binds key to v. A key can only be bound once.
func (t *ReadTracker) Register(key int, v reflect.Value) error {
	i := key - t.first
	if i < 0 {
		return fmt.Errorf("%w: key %d below %d", ErrPositionRange, key, t.first)
	}
	for len(t.objects) <= i {
		t.objects = append(t.objects, reflect.Value{})
	}
	if t.objects[i].IsValid() {
		return fmt.Errorf("refs: key %d registered twice", key)
	}
	t.objects[i] = v
	return nil
}

// Get returns the object bound to key.
func (t *ReadTracker) Get(key int) (reflect.Value, bool) {
	i := key - t.first
	if i < 0 || i >= len(t.objects) || !t.objects[i].IsValid() {
		return reflect.Value{}, false
	}
	return t.objects[i], true
}

// Reserve consumes the next key without binding it yet.
func (t *ReadTracker) Reserve() int {
	key := t.Next()
	t.objects = append(t.objects, reflect.Value{})
	return key
}

// Next is one past the highest key seen so far.
func (t *ReadTracker) Next() int { return t.first + len(t.objects) }

// Expect announces that the next object of type typ materialized by Note
// belongs to key.
func (t *ReadTracker) Expect(key int, typ reflect.Type) {
	t.expect = append(t.expect, expectation{key: key, typ: typ})
}

// Note is called by every node that creates an instance before reading its
// contents, so the instance is reachable by key while its members decode.
func (t *ReadTracker) Note(v reflect.Value) error {
	n := len(t.expect)
	if n == 0 {
		return nil
	}
	top := &t.expect[n-1]
	if top.bound || !matches(v.Type(), top.typ) {
		return nil
	}
	top.bound = true
	return t.Register(top.key, v)
}

// Done pops the innermost expectation and reports whether Note bound it.
func (t *ReadTracker) Done() (key int, bound bool) {
	n := len(t.expect)
	if n == 0 {
		return -1, false
	}
	top := t.expect[n-1]
	t.expect = t.expect[:n-1]
	return top.key, top.bound
}

func matches(got, want reflect.Type) bool {
	if want == nil || got == want {
		return true
	}
	return want.Kind() == reflect.Interface && got.Implements(want)
}
