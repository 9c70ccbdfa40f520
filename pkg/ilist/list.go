// Copyright 2025 The Linmo Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ilist provides the implementation of intrusive linked lists.
//
// An object may sit on several lists at once by embedding one Entry per list
// and supplying a Mapper that picks the right Entry for each list.
package ilist

// Entry is the link carried by each element of a list. The zero value is an
// unlinked entry.
type Entry[T any] struct {
	next *T
	prev *T
}

// Next returns the entry that follows this one.
func (e *Entry[T]) Next() *T {
	return e.next
}

// Prev returns the entry that precedes this one.
func (e *Entry[T]) Prev() *T {
	return e.prev
}

// Mapper provides the Entry that links an element into a particular list.
// Implementations are stateless; the zero value of M is used.
type Mapper[T any] interface {
	LinkerFor(elem *T) *Entry[T]
}

// List is an intrusive list. Entries can be added to or removed from the list
// in O(1) time and with no additional memory allocations.
//
// The zero value for List is an empty list ready to use.
//
// To iterate over a list (where l is a List):
//
//	for e := l.Front(); e != nil; e = l.Next(e) {
//		// do something with e.
//	}
type List[T any, M Mapper[T]] struct {
	head *T
	tail *T
}

func (*List[T, M]) linker(e *T) *Entry[T] {
	var m M
	return m.LinkerFor(e)
}

// Reset resets list l to the empty state.
func (l *List[T, M]) Reset() {
	l.head = nil
	l.tail = nil
}

// Empty returns true iff the list is empty.
//
//go:nosplit
func (l *List[T, M]) Empty() bool {
	return l.head == nil
}

// Front returns the first element of list l or nil.
//
//go:nosplit
func (l *List[T, M]) Front() *T {
	return l.head
}

// Back returns the last element of list l or nil.
//
//go:nosplit
func (l *List[T, M]) Back() *T {
	return l.tail
}

// Next returns the element after e in list l, or nil.
func (l *List[T, M]) Next(e *T) *T {
	return l.linker(e).next
}

// Prev returns the element before e in list l, or nil.
func (l *List[T, M]) Prev(e *T) *T {
	return l.linker(e).prev
}

// Len returns the number of elements in the list.
//
// NOTE: This is an O(n) operation.
func (l *List[T, M]) Len() (count int) {
	for e := l.Front(); e != nil; e = l.Next(e) {
		count++
	}
	return count
}

// PushFront inserts the element e at the front of list l.
func (l *List[T, M]) PushFront(e *T) {
	linker := l.linker(e)
	linker.next = l.head
	linker.prev = nil
	if l.head != nil {
		l.linker(l.head).prev = e
	} else {
		l.tail = e
	}

	l.head = e
}

// PushBack inserts the element e at the back of list l.
func (l *List[T, M]) PushBack(e *T) {
	linker := l.linker(e)
	linker.next = nil
	linker.prev = l.tail
	if l.tail != nil {
		l.linker(l.tail).next = e
	} else {
		l.head = e
	}

	l.tail = e
}

// InsertAfter inserts e after b.
func (l *List[T, M]) InsertAfter(b, e *T) {
	bLinker := l.linker(b)
	eLinker := l.linker(e)

	a := bLinker.next

	eLinker.next = a
	eLinker.prev = b
	bLinker.next = e

	if a != nil {
		l.linker(a).prev = e
	} else {
		l.tail = e
	}
}

// InsertBefore inserts e before a.
func (l *List[T, M]) InsertBefore(a, e *T) {
	aLinker := l.linker(a)
	eLinker := l.linker(e)

	b := aLinker.prev
	eLinker.next = a
	eLinker.prev = b
	aLinker.prev = e

	if b != nil {
		l.linker(b).next = e
	} else {
		l.head = e
	}
}

// Remove removes e from l.
func (l *List[T, M]) Remove(e *T) {
	linker := l.linker(e)
	prev := linker.prev
	next := linker.next

	if prev != nil {
		l.linker(prev).next = next
	} else if l.head == e {
		l.head = next
	}

	if next != nil {
		l.linker(next).prev = prev
	} else if l.tail == e {
		l.tail = prev
	}

	linker.next = nil
	linker.prev = nil
}
