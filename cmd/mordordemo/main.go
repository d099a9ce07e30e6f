// Command mordordemo exercises a WorkerPool end to end: it fans a batch
// of items out over ParallelForEach, registers a one-shot timer, and logs
// everything through the package's structured logger.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/codekitchen/mordor-go"
	"github.com/joeycumines/logiface"
)

func main() {
	threads := flag.Int("threads", 2, "worker pool thread count")
	parallelism := flag.Int("parallelism", 4, "ParallelForEach concurrency")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	level := logiface.LevelInformational
	if *verbose {
		level = logiface.LevelDebug
	}
	logger := mordor.NewLogger(os.Stderr, level)

	pool, err := mordor.NewWorkerPool(
		mordor.WithThreads(*threads),
		mordor.WithSchedulerName("mordordemo"),
		mordor.WithSchedulerLogger(logger),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mordordemo:", err)
		os.Exit(1)
	}

	items := make([]int, 10)
	for i := range items {
		items[i] = i
	}

	done := make(chan struct{})
	pool.ScheduleFunc(func() {
		defer close(done)

		pool.Timers().RegisterTimer(200*time.Millisecond, func() {
			logger.Info("tick")
		}, false)

		ok, err := mordor.ParallelForEach(items, func(item int) (bool, error) {
			logger.Debug("processing item", "item", item)
			time.Sleep(10 * time.Millisecond)
			return true, nil
		}, *parallelism)
		if err != nil {
			logger.Error("parallel foreach failed", "error", err)
		}
		logger.Info("parallel foreach complete", "ok", ok)
	}, mordor.AnyThread)

	<-done
	pool.Stop()
}
