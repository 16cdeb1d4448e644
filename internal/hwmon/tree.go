package hwmon

const noParent = -1

type node struct {
	device   Device
	parent   int
	children []int
	sensors  []Sensor
}

// tree stores device nodes in a flat arena. Parent and child links are
// indexes into nodes.
type tree struct {
	nodes []node
	roots []int
}

// add inserts dev and, recursively, its sub-devices. It returns the index of
// the inserted node.
func (t *tree) add(dev Device, parent int) int {
	idx := len(t.nodes)
	t.nodes = append(t.nodes, node{device: dev, parent: parent})

	if parent == noParent {
		t.roots = append(t.roots, idx)
	} else {
		t.nodes[parent].children = append(t.nodes[parent].children, idx)
	}

	for _, sub := range dev.SubDevices() {
		if sub == nil {
			continue
		}
		t.add(sub, idx)
	}

	return idx
}

func (t *tree) len() int {
	return len(t.nodes)
}

// depth returns the number of ancestors of the node at idx.
func (t *tree) depth(idx int) int {
	d := 0
	for p := t.nodes[idx].parent; p != noParent; p = t.nodes[p].parent {
		d++
	}

	return d
}

// iterator walks the tree depth-first, parents before children, siblings in
// insertion order.
type iterator struct {
	t     *tree
	stack []int
}

func (t *tree) iter() *iterator {
	it := &iterator{t: t}
	for i := len(t.roots) - 1; i >= 0; i-- {
		it.stack = append(it.stack, t.roots[i])
	}

	return it
}

func (it *iterator) next() (int, bool) {
	if len(it.stack) == 0 {
		return 0, false
	}

	idx := it.stack[len(it.stack)-1]
	it.stack = it.stack[:len(it.stack)-1]

	children := it.t.nodes[idx].children
	for i := len(children) - 1; i >= 0; i-- {
		it.stack = append(it.stack, children[i])
	}

	return idx, true
}

// hardware copies the node at idx and its descendants.
func (t *tree) hardware(idx int) Hardware {
	n := &t.nodes[idx]

	hw := Hardware{
		Identifier: n.device.Identifier(),
		Type:       n.device.Type(),
		Name:       n.device.Name(),
		Sensors:    append([]Sensor(nil), n.sensors...),
	}

	for _, child := range n.children {
		hw.SubHardware = append(hw.SubHardware, t.hardware(child))
	}

	return hw
}
