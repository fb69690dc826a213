package model

// Stack is a quantity of one item kind. The zero value is the empty stack.
type Stack struct {
	Item  string
	Count int
}

func (s Stack) Empty() bool { return s.Item == "" || s.Count <= 0 }

// WithCount returns a copy of s holding n items, or the empty stack when n <= 0.
func (s Stack) WithCount(n int) Stack {
	if n <= 0 {
		return Stack{}
	}
	return Stack{Item: s.Item, Count: n}
}
