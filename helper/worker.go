package helper

import "sync"

/* Run do for every task on a fixed number of worker goroutines.
   Results keep the order of tasks.
*/
func RunWorkers[T any, R any](workers int, tasks []T, do func(T) R) []R {
	results := make([]R, len(tasks))
	if len(tasks) == 0 {
		return results
	}
	workers = min(max(workers, 1), len(tasks))

	type job struct {
		index int
		task  T
	}
	jobs := make(chan job, len(tasks))
	for i, t := range tasks {
		jobs <- job{index: i, task: t}
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results[j.index] = do(j.task)
			}
		}()
	}
	wg.Wait()

	return results
}
