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

// Package fiber provides cooperatively scheduled fibers and an M-on-N
// scheduler that multiplexes them over OS threads.
//
// The primary elements of interest are:
//
//  *  The Fiber type, an independent thread of control with explicit
//     resume/suspend via Call, Yield, and YieldTo.
//
//  *  The Scheduler type, which dispatches fibers and plain functions on a
//     pool of workers, and WorkerPool, a ready-made scheduler that sleeps
//     when there is nothing to do.
//
//  *  Scheduler-aware synchronization primitives (Mutex, RecursiveMutex,
//     Semaphore, Condition, Event) that park the calling fiber instead of
//     blocking its thread, with strictly FIFO wake-up.
//
//  *  Future, a one-shot signalable value, with WaitAll and WaitAny
//     combinators, and the parallel combinators Do and ForEach.
//
// Fibers suspend only at explicit suspension points; between suspension
// points execution is strictly sequential on one worker. Cancellation is
// delivered by injecting ErrAborted into a fiber, which panics out of the
// suspension point on the next resume so that deferred cleanup runs.
package fiber
