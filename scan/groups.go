package scan

import (
	"runtime"
	"sync"
)

// scanPositions runs f over every position with a fixed pool of workers.
// Each position writes only its own output row, so no locking is needed.
// The first error aborts the remaining work and fails the whole scan.
func scanPositions(npos int, f func(pos int) error) error {
	nWorkers := runtime.GOMAXPROCS(0)
	if nWorkers > npos {
		nWorkers = npos
	}
	if nWorkers < 1 {
		nWorkers = 1
	}
	tasks := make(chan int, npos)
	errs := make([]error, nWorkers)
	var wg sync.WaitGroup
	for w := 0; w < nWorkers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for pos := range tasks {
				if errs[w] != nil {
					continue
				}
				errs[w] = f(pos)
			}
		}(w)
	}
	for pos := 0; pos < npos; pos++ {
		tasks <- pos
	}
	close(tasks)
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// BalancedGroups partitions indices 0..n-1 into contiguous groups,
// iteratively splitting the largest group in half until there are at
// least minGroups groups (or singletons). Used to spread chromosomes or
// permutation replicates over workers so none idles while another is
// overloaded.
func BalancedGroups(n, minGroups int) [][]int {
	if n < 1 {
		return nil
	}
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}
	groups := [][]int{all}
	for len(groups) < minGroups {
		largest := 0
		for i, g := range groups {
			if len(g) > len(groups[largest]) {
				largest = i
			}
		}
		g := groups[largest]
		if len(g) < 2 {
			break
		}
		half := len(g) / 2
		groups[largest] = g[:half]
		groups = append(groups, g[half:])
	}
	return groups
}
