package beads

// FindCycles returns every dependency cycle reachable in the given task set.
// Uses depth-first search with coloring; a back edge to a gray node closes a
// cycle. Each cycle is reported once as the list of task IDs along it.
// Cycles are reported, never broken.
func FindCycles(tasks []*Task) [][]string {
	edges := make(map[string][]string, len(tasks))
	known := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		known[t.ID] = true
	}
	for _, t := range tasks {
		for _, dep := range t.BlockedBy {
			// Edges into tasks outside the fetched set cannot close a cycle.
			if known[dep] {
				edges[t.ID] = append(edges[t.ID], dep)
			}
		}
	}

	// Color states: 0 = white (unvisited), 1 = gray (on stack), 2 = black (done).
	colors := make(map[string]int, len(tasks))
	var stack []string
	var cycles [][]string

	var visit func(id string)
	visit = func(id string) {
		colors[id] = 1
		stack = append(stack, id)

		for _, dep := range edges[id] {
			switch colors[dep] {
			case 1:
				// Back edge: slice the stack from the first occurrence of dep.
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == dep {
						cycle := make([]string, len(stack)-i)
						copy(cycle, stack[i:])
						cycles = append(cycles, cycle)
						break
					}
				}
			case 0:
				visit(dep)
			}
		}

		stack = stack[:len(stack)-1]
		colors[id] = 2
	}

	for _, t := range tasks {
		if colors[t.ID] == 0 {
			visit(t.ID)
		}
	}

	return cycles
}
