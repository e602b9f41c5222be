package container

import "github.com/beevik/etree"

// InsertIntoXML inserts item as a child of parent at the given index (or at
// the end when index < 0), keeping the serialized document legible.
//
// These rules assume every sibling is self-closing (no significant text
// content of its own) — callers must not use InsertIntoXML/RemoveFromXML on
// elements that carry meaningful inline text, only on OPF-style element
// lists (manifest items, spine itemrefs, guide references, meta tags).
func InsertIntoXML(parent, item *etree.Element, index int) {
	siblings := elementChildren(parent)

	if len(siblings) == 0 {
		// Only child of a previously self-closing element: the new item
		// inherits parent's existing text as its own tail, and parent's
		// text becomes the indentation a preceding uncle's tail would use
		// (one level shallower than the item's own tail).
		parentText := parent.Text()
		itemTail := parentText
		if itemTail == "" {
			itemTail = "\n  "
		}
		uncleTail := dedent(itemTail)
		setLeadingText(parent, uncleTail)
		appendChildWithTail(parent, item, itemTail)
		return
	}

	if index < 0 || index >= len(siblings) {
		// Append at the end: the old last child takes parent's leading
		// text as its tail (the indentation its siblings sit at), and the
		// new item takes the old last child's tail (so the closing
		// indentation is preserved).
		last := siblings[len(siblings)-1]
		lastTail := tailOf(last)
		setTail(last, parent.Text())
		appendChildWithTail(parent, item, lastTail)
		return
	}

	// Insert before siblings[index]: item takes the tail the preceding
	// sibling (or parent text, if inserting at position 0) currently has,
	// and that preceding text is duplicated onto the item so indentation
	// stays uniform.
	before := siblings[index]
	var precedingTail string
	if index == 0 {
		precedingTail = parent.Text()
	} else {
		precedingTail = tailOf(siblings[index-1])
	}
	insertChildBefore(parent, before, item, precedingTail)
}

// RemoveFromXML removes item from its parent, migrating the removed node's
// tail to the preceding sibling's tail, or to the parent's text when
// removing the first child.
func RemoveFromXML(item *etree.Element) {
	parent := item.Parent()
	if parent == nil {
		return
	}
	child := parent.Child
	idx := indexOfToken(child, item)
	if idx < 0 {
		return
	}

	tail := ""
	removeCount := 1
	if idx+1 < len(child) {
		if cd, ok := child[idx+1].(*etree.CharData); ok {
			tail = cd.Data
			removeCount = 2
		}
	}

	newChild := make([]etree.Token, 0, len(child)-removeCount)
	newChild = append(newChild, child[:idx]...)
	newChild = append(newChild, child[idx+removeCount:]...)
	parent.Child = newChild

	migrateTail(parent, idx, tail)
}

// elementChildren returns only the *etree.Element children of parent, in
// document order, ignoring CharData/Comment/ProcInst tokens.
func elementChildren(parent *etree.Element) []*etree.Element {
	var out []*etree.Element
	for _, t := range parent.Child {
		if e, ok := t.(*etree.Element); ok {
			out = append(out, e)
		}
	}
	return out
}

func indexOfToken(list []etree.Token, target etree.Token) int {
	for i, t := range list {
		if t == target {
			return i
		}
	}
	return -1
}

// tailOf returns the CharData immediately following elem in its parent's
// child list, or "" if elem has no tail.
func tailOf(elem *etree.Element) string {
	parent := elem.Parent()
	if parent == nil {
		return ""
	}
	idx := indexOfToken(parent.Child, elem)
	if idx < 0 || idx+1 >= len(parent.Child) {
		return ""
	}
	if cd, ok := parent.Child[idx+1].(*etree.CharData); ok {
		return cd.Data
	}
	return ""
}

// setTail sets (or inserts) the CharData following elem to data.
func setTail(elem *etree.Element, data string) {
	parent := elem.Parent()
	if parent == nil {
		return
	}
	idx := indexOfToken(parent.Child, elem)
	if idx < 0 {
		return
	}
	if idx+1 < len(parent.Child) {
		if cd, ok := parent.Child[idx+1].(*etree.CharData); ok {
			cd.Data = data
			return
		}
	}
	if data == "" {
		return
	}
	nc := etree.NewCharData(data)
	rest := append([]etree.Token{nc}, parent.Child[idx+1:]...)
	parent.Child = append(parent.Child[:idx+1], rest...)
}

// setLeadingText sets the CharData token at the very start of parent's
// child list (its "text", in lxml terms) to data.
func setLeadingText(parent *etree.Element, data string) {
	if len(parent.Child) > 0 {
		if cd, ok := parent.Child[0].(*etree.CharData); ok {
			cd.Data = data
			return
		}
	}
	if data == "" {
		return
	}
	nc := etree.NewCharData(data)
	parent.Child = append([]etree.Token{nc}, parent.Child...)
}

// appendChildWithTail appends item to parent's child list, followed by a
// CharData tail token holding tail.
func appendChildWithTail(parent, item *etree.Element, tail string) {
	parent.AddChild(item)
	if tail != "" {
		parent.AddChild(etree.NewCharData(tail))
	}
}

// insertChildBefore inserts item (with the given tail) immediately before
// the existing child "before" in parent's child list.
func insertChildBefore(parent, before, item *etree.Element, tail string) {
	idx := indexOfToken(parent.Child, before)
	if idx < 0 {
		appendChildWithTail(parent, item, tail)
		return
	}
	var inserted []etree.Token
	inserted = append(inserted, item)
	if tail != "" {
		inserted = append(inserted, etree.NewCharData(tail))
	}
	newChild := make([]etree.Token, 0, len(parent.Child)+len(inserted))
	newChild = append(newChild, parent.Child[:idx]...)
	newChild = append(newChild, inserted...)
	newChild = append(newChild, parent.Child[idx:]...)
	parent.Child = newChild
}

// migrateTail implements the tail-migration rule of RemoveFromXML: the
// removed node's tail moves to the preceding sibling's tail, or to the
// parent's leading text when the first child was removed.
func migrateTail(parent *etree.Element, removedIdx int, tail string) {
	if tail == "" {
		return
	}
	if removedIdx == 0 {
		if len(parent.Child) > 0 {
			if cd, ok := parent.Child[0].(*etree.CharData); ok {
				cd.Data = tail + cd.Data
				return
			}
		}
		nc := etree.NewCharData(tail)
		parent.Child = append([]etree.Token{nc}, parent.Child...)
		return
	}
	prevIdx := removedIdx - 1
	if prevIdx < len(parent.Child) {
		if cd, ok := parent.Child[prevIdx].(*etree.CharData); ok {
			cd.Data = tail
			return
		}
	}
	nc := etree.NewCharData(tail)
	newChild := make([]etree.Token, 0, len(parent.Child)+1)
	newChild = append(newChild, parent.Child[:removedIdx]...)
	newChild = append(newChild, nc)
	newChild = append(newChild, parent.Child[removedIdx:]...)
	parent.Child = newChild
}

// dedent removes two spaces of indentation from a tail string like
// "\n    ", producing "\n  " (a tail with fewer than two spaces becomes
// "\n") — used to derive a parent's own closing indentation from its first
// child's.
func dedent(tail string) string {
	if len(tail) >= 2 && tail[0] == '\n' {
		spaces := tail[1:]
		if len(spaces) >= 2 {
			return "\n" + spaces[2:]
		}
		return "\n"
	}
	return tail
}
