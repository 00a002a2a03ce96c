package tree

import "github.com/gammazero/deque"

// Walk visits every non-root node in level order: all of generation 1,
// then all of generation 2, and so on.
func (t *Tree) Walk(fn func(*Node)) {
	var queue deque.Deque[*Node]
	for _, child := range t.Root.Children {
		queue.PushBack(child)
	}

	for queue.Len() > 0 {
		n := queue.PopFront()
		fn(n)
		for _, child := range n.Children {
			queue.PushBack(child)
		}
	}
}
