package script

// Queue is the FIFO of commands waiting to be replayed. It is owned by a
// single goroutine and is not safe for concurrent use.
type Queue struct {
	cmds []Command
}

// Push appends commands to the tail.
func (q *Queue) Push(cmds ...Command) {
	q.cmds = append(q.cmds, cmds...)
}

// Prepend inserts commands at the head, keeping their order.
func (q *Queue) Prepend(cmds ...Command) {
	if len(cmds) == 0 {
		return
	}
	n := make([]Command, 0, len(cmds)+len(q.cmds))
	n = append(n, cmds...)
	q.cmds = append(n, q.cmds...)
}

// Pop removes and returns the head of the queue.
func (q *Queue) Pop() (Command, bool) {
	if len(q.cmds) == 0 {
		return Command{}, false
	}
	c := q.cmds[0]
	q.cmds[0] = Command{}
	q.cmds = q.cmds[1:]
	if len(q.cmds) == 0 {
		q.cmds = nil
	}
	return c, true
}

// Clear drops every queued command.
func (q *Queue) Clear() { q.cmds = nil }

func (q *Queue) Len() int { return len(q.cmds) }

// Commands returns a copy of the queued commands.
func (q *Queue) Commands() []Command {
	return append([]Command(nil), q.cmds...)
}
