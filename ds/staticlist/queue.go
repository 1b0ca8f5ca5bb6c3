package staticlist

import "unsafe"

// Queue is a bounded FIFO over a StaticList. Push and Pop are O(1) and
// allocation free after construction. Not safe for concurrent use.
type Queue[T any] struct {
	pool *StaticList[QNode[T]]
	root *QNode[T] // sentinel
	len  int
	cap  int
}

type QNode[T any] struct {
	Value      T
	prev, next *QNode[T]
}

func NewQueue[T any](cap int) *Queue[T] {
	if cap < 1 {
		cap = 1
	}
	q := &Queue[T]{
		pool: NewStaticList[QNode[T]](1 + cap),
		cap:  cap,
	}
	p := q.pool.Malloc()
	q.root = q.pool.GetDataPointer(p)
	q.root.prev = q.root
	q.root.next = q.root
	return q
}

// Push appends data at the tail, nil when the queue is full.
func (q *Queue[T]) Push(data T) *QNode[T] {
	p := q.pool.Malloc()
	if p == Null {
		return nil
	}
	q.len++
	slot := q.pool.GetNode(p)
	// an allocated slot's Next is unused, keep the index there for Remove
	slot.Next = p
	node := &slot.Data
	node.Value = data

	tail := q.root.prev
	tail.next = node
	node.prev = tail
	node.next = q.root
	q.root.prev = node
	return node
}

func (q *Queue[T]) Pop() (data T, ok bool) {
	if q.IsEmpty() {
		return
	}
	node := q.root.next
	data = node.Value
	ok = q.Remove(node)
	return
}

func (q *Queue[T]) Remove(node *QNode[T]) bool {
	if node == q.root || node.prev == nil || node.next == nil {
		return false
	}
	slot := (*Node[QNode[T]])(unsafe.Pointer(node))
	p := slot.Next

	node.prev.next = node.next
	node.next.prev = node.prev

	// Free zeroes the node, prev/next included
	q.pool.Free(p)
	q.len--
	return true
}

func (q *Queue[T]) Clear() {
	for !q.IsEmpty() {
		q.Remove(q.root.next)
	}
}

func (q *Queue[T]) First() *T {
	if q.IsEmpty() {
		return nil
	}
	return &q.root.next.Value
}

func (q *Queue[T]) IsEmpty() bool {
	return q.root.next == q.root
}

func (q *Queue[T]) IsFull() bool {
	return q.len == q.cap
}

func (q *Queue[T]) Len() int {
	return q.len
}

func (q *Queue[T]) Cap() int {
	return q.cap
}

// Range visits values head to tail; fn must not modify the queue.
func (q *Queue[T]) Range(fn func(*T) bool) {
	for node := q.root.next; node != q.root; node = node.next {
		if !fn(&node.Value) {
			break
		}
	}
}

// PopRange pops values head first until fn returns false; the value fn
// rejected stays queued.
func (q *Queue[T]) PopRange(fn func(*T) bool) {
	for q.root.next != q.root {
		node := q.root.next
		data := node.Value
		if !fn(&data) {
			break
		}
		q.Remove(node)
	}
}
