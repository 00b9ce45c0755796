// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// A small demonstration of the fiber package: sum the squares of a range of
// integers with a bounded number of fibers on a hijacking worker pool, then
// hand the result to the main fiber through a future.
package main

import (
	"flag"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/jacobsa/fiber"
)

var fN = flag.Int("n", 1000, "Sum the squares of the integers in [1, n].")
var fParallelism = flag.Int("parallelism", 4, "How many fibers to use.")

func main() {
	flag.Parse()
	if *fN < 1 {
		log.Fatalf("Invalid -n: %d", *fN)
	}

	pool := fiber.NewWorkerPool(1, true, 1)
	defer pool.Stop()

	items := make([]int64, *fN)
	for i := range items {
		items[i] = int64(i + 1)
	}

	result := fiber.NewFuture[int64]()
	pool.ScheduleFunc(func() {
		var sum int64
		fiber.ForEach(items, func(p *int64) bool {
			atomic.AddInt64(&sum, *p**p)
			return true
		}, *fParallelism)

		*result.Result() = sum
		result.Signal()
	})

	fmt.Printf("Sum of squares over [1, %d]: %d\n", *fN, result.Wait())
}
