package paging

// ElementMapper provides an identity mapping by default.
//
// This can be replaced to provide a struct that maps elements to linker
// objects, if they are not the same. An ElementMapper is not typically
// required if: Linker is left as is, Element is left as is, or Linker and
// Element are the same type.
type pageElementMapper struct{}

// linkerFor maps an Element to a Linker.
//
// This default implementation should be inlined.
//
//go:nosplit
func (pageElementMapper) linkerFor(elem *pageRecord) *pageRecord { return elem }

// List is an intrusive list. Entries can be added to or removed from the list
// in O(1) time and with no additional memory allocations.
//
// The zero value for List is an empty list ready to use.
//
// To iterate over a list (where l is a List):
//
//	for e := l.Front(); e != nil; e = e.Next() {
//		// do something with e.
//	}
type pageList struct {
	head *pageRecord
	tail *pageRecord
}

// Reset resets list l to the empty state.
func (l *pageList) Reset() {
	l.head = nil
	l.tail = nil
}

// Empty returns true iff the list is empty.
//
//go:nosplit
func (l *pageList) Empty() bool {
	return l.head == nil
}

// Front returns the first element of list l or nil.
//
//go:nosplit
func (l *pageList) Front() *pageRecord {
	return l.head
}

// Back returns the last element of list l or nil.
//
//go:nosplit
func (l *pageList) Back() *pageRecord {
	return l.tail
}

// Len returns the number of elements in the list.
//
// NOTE: This is an O(n) operation.
//
//go:nosplit
func (l *pageList) Len() (count int) {
	for e := l.Front(); e != nil; e = (pageElementMapper{}.linkerFor(e)).Next() {
		count++
	}
	return count
}

// PushBack inserts the element e at the back of list l.
//
//go:nosplit
func (l *pageList) PushBack(e *pageRecord) {
	linker := pageElementMapper{}.linkerFor(e)
	linker.SetNext(nil)
	linker.SetPrev(l.tail)
	if l.tail != nil {
		pageElementMapper{}.linkerFor(l.tail).SetNext(e)
	} else {
		l.head = e
	}

	l.tail = e
}

// Remove removes e from l.
//
//go:nosplit
func (l *pageList) Remove(e *pageRecord) {
	linker := pageElementMapper{}.linkerFor(e)
	prev := linker.Prev()
	next := linker.Next()

	if prev != nil {
		pageElementMapper{}.linkerFor(prev).SetNext(next)
	} else if l.head == e {
		l.head = next
	}

	if next != nil {
		pageElementMapper{}.linkerFor(next).SetPrev(prev)
	} else if l.tail == e {
		l.tail = prev
	}

	linker.SetNext(nil)
	linker.SetPrev(nil)
}

// Entry is a default implementation of Linker. Users can add anonymous fields
// of this type to their structs to make them automatically implement the
// methods needed by List.
type pageEntry struct {
	next *pageRecord
	prev *pageRecord
}

// Next returns the entry that follows e in the list.
//
//go:nosplit
func (e *pageEntry) Next() *pageRecord {
	return e.next
}

// Prev returns the entry that precedes e in the list.
//
//go:nosplit
func (e *pageEntry) Prev() *pageRecord {
	return e.prev
}

// SetNext assigns 'entry' as the entry that follows e in the list.
//
//go:nosplit
func (e *pageEntry) SetNext(elem *pageRecord) {
	e.next = elem
}

// SetPrev assigns 'entry' as the entry that precedes e in the list.
//
//go:nosplit
func (e *pageEntry) SetPrev(elem *pageRecord) {
	e.prev = elem
}
