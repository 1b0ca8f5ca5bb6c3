package staticlist

// Node is one slot of the static list. Data must stay the first field:
// Queue converts a *QNode back to its slot by pointer cast.
type Node[T any] struct {
	Data T
	Next int
}

// StaticList is a fixed-size slot allocator with an intrusive free list.
type StaticList[T any] struct {
	datas []Node[T]
	free  int
	zero  T
}

const Null = -1

func NewStaticList[T any](size int) *StaticList[T] {
	list := &StaticList[T]{
		datas: make([]Node[T], size),
	}
	list.Reset()
	return list
}

// Malloc returns a free slot index, or Null when exhausted.
func (list *StaticList[T]) Malloc() int {
	p := list.free
	if p != Null {
		slot := &list.datas[p]
		list.free = slot.Next
		slot.Next = Null
	}
	return p
}

func (list *StaticList[T]) Free(p int) {
	node := &list.datas[p]
	node.Data = list.zero
	node.Next = list.free
	list.free = p
}

func (list *StaticList[T]) GetNode(p int) *Node[T] {
	return &list.datas[p]
}

func (list *StaticList[T]) GetDataPointer(p int) *T {
	return &list.datas[p].Data
}

func (list *StaticList[T]) Size() int {
	return len(list.datas)
}

func (list *StaticList[T]) Reset() {
	size := len(list.datas)
	if size == 0 {
		list.free = Null
		return
	}
	for i := 0; i < size-1; i++ {
		list.datas[i].Data = list.zero
		list.datas[i].Next = i + 1
	}
	list.datas[size-1].Data = list.zero
	list.datas[size-1].Next = Null
	list.free = 0
}
