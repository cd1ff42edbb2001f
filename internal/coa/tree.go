package coa

import "sort"

// maxDepth bounds hierarchy traversal. Account depth is data-controlled, so
// tree construction must survive corrupt parent chains without recursing.
const maxDepth = 64

// BuildForest assembles hierarchy nodes from a flat account list using an
// indexed parent-id lookup and an explicit stack. Nodes on a corrupt cycle or
// deeper than maxDepth are dropped rather than looping forever.
func BuildForest(accounts []Account) []*Node {
	nodes := make(map[string]*Node, len(accounts))
	children := make(map[string][]*Node, len(accounts))
	var roots []*Node

	for _, a := range accounts {
		nodes[a.ID.String()] = &Node{Account: a}
	}
	for _, n := range nodes {
		if n.ParentID == nil {
			roots = append(roots, n)
			continue
		}
		parentKey := n.ParentID.String()
		if _, ok := nodes[parentKey]; !ok {
			// Parent filtered out (for example inactive); the subtree is
			// omitted from this view rather than promoted to a root.
			continue
		}
		children[parentKey] = append(children[parentKey], n)
	}

	sortNodes(roots)

	type frame struct {
		node  *Node
		depth int
	}
	visited := make(map[string]bool, len(nodes))
	stack := make([]frame, 0, len(roots))
	for _, r := range roots {
		stack = append(stack, frame{node: r, depth: 0})
	}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		key := f.node.ID.String()
		if visited[key] || f.depth >= maxDepth {
			continue
		}
		visited[key] = true
		kids := children[key]
		sortNodes(kids)
		attached := kids[:0]
		for _, k := range kids {
			if visited[k.ID.String()] {
				continue
			}
			attached = append(attached, k)
			stack = append(stack, frame{node: k, depth: f.depth + 1})
		}
		f.node.Children = attached
	}
	return roots
}

func sortNodes(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Code < nodes[j].Code })
}
