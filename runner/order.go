package runner

import (
	"errors"

	"github.com/materialsproject/maggma/builder"
	"github.com/materialsproject/maggma/serial"
)

var errCycle = errors.New("runner: builder dependency cycle")

// order topologically sorts builders so that a Builder whose Dependencies
// lists a Store name produced by an earlier Builder's target always runs
// after it. Builders with no Dependencies, or whose dependencies don't
// overlap any other builder's targets, keep their relative input order:
// Kahn's algorithm processes a FIFO queue of in-degree-zero nodes, so ties
// resolve in input order.
func order(builders []builder.Builder) ([]builder.Builder, error) {
	n := len(builders)
	producedBy := make(map[string][]int, n) // store name -> indices of builders targeting it
	for i, b := range builders {
		dep, ok := b.(builder.Dependencies)
		if !ok {
			continue
		}
		_, targets := dep.Stores()
		for _, t := range targets {
			producedBy[t] = append(producedBy[t], i)
		}
	}

	// edges[i] = indices that must run after i; indegree[j] counts how
	// many such edges point at j.
	edges := make([][]int, n)
	indegree := make([]int, n)
	seen := make(map[[2]int]bool)
	for j, b := range builders {
		dep, ok := b.(builder.Dependencies)
		if !ok {
			continue
		}
		sources, _ := dep.Stores()
		for _, s := range sources {
			for _, i := range producedBy[s] {
				if i == j || seen[[2]int{i, j}] {
					continue
				}
				seen[[2]int{i, j}] = true
				edges[i] = append(edges[i], j)
				indegree[j]++
			}
		}
	}

	queue := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if indegree[i] == 0 {
			queue = append(queue, i)
		}
	}

	out := make([]builder.Builder, 0, n)
	visited := 0
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		out = append(out, builders[i])
		visited++
		for _, j := range edges[i] {
			indegree[j]--
			if indegree[j] == 0 {
				queue = append(queue, j)
			}
		}
	}

	if visited != n {
		return nil, &serial.ConfigError{Err: errCycle}
	}
	return out, nil
}
