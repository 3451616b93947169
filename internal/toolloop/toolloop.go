// Package toolloop implements ToolLoop: classification of a model's tool
// calls into server-executable and client-only, bounded concurrent dispatch
// of the server-executable ones, and the round cap that prevents a model
// from looping on tools forever. Ported directly from loop.go's
// dispatchParallel/safeDispatch/indexedResult — the worker-pool-over-a-
// shared-channel shape, the panic-recovery wrapper, and the context-aware
// collection loop are unchanged; the addition is the Sequential marker,
// which the teacher's tool calls never carried (every built-in tool ran
// concurrently there).
package toolloop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/torbolabs/torbobase/internal/gatewaytypes"
)

// MaxRounds bounds how many tool-call round-trips one chat turn may take
// before the pipeline forces a final answer (spec.md §4.6 Stage-loop cap).
const MaxRounds = 5

// maxParallelDispatch caps concurrent tool-call goroutines, identical to the
// teacher's bound.
const maxParallelDispatch = 10

// ExecFunc executes one server-side tool call and returns its result content.
type ExecFunc func(ctx context.Context, name string, args string) (content string, isError bool)

// Result pairs one tool call with its execution outcome.
type Result struct {
	Call     gatewaytypes.ToolCall
	Content  string
	IsError  bool
	Duration time.Duration
}

// Classify splits a model's tool calls into those this gateway can execute
// directly and those that must be returned to the caller for client-side
// execution (registry entries with ExecutableHere == false, or calls to
// names not found in the registry at all).
func Classify(calls []gatewaytypes.ToolCall, registry map[string]gatewaytypes.ToolDefinition) (serverCalls, clientCalls []gatewaytypes.ToolCall) {
	for _, c := range calls {
		if def, ok := registry[c.Function.Name]; ok && def.ExecutableHere {
			serverCalls = append(serverCalls, c)
			continue
		}
		clientCalls = append(clientCalls, c)
	}
	return serverCalls, clientCalls
}

// partition splits server calls into the ones that must run one at a time
// (registry.Sequential == true, e.g. anything that mutates shared state)
// and the ones safe to run concurrently.
func partition(calls []gatewaytypes.ToolCall, registry map[string]gatewaytypes.ToolDefinition) (sequential, concurrent []gatewaytypes.ToolCall) {
	for _, c := range calls {
		if registry[c.Function.Name].Sequential {
			sequential = append(sequential, c)
			continue
		}
		concurrent = append(concurrent, c)
	}
	return sequential, concurrent
}

// Run executes all server-executable calls and returns one Result per input
// call, in the same order calls were given. Sequential-marked calls run
// first, one at a time, in call order; the remainder dispatch concurrently
// through a bounded worker pool.
func Run(ctx context.Context, calls []gatewaytypes.ToolCall, registry map[string]gatewaytypes.ToolDefinition, exec ExecFunc) []Result {
	sequential, concurrent := partition(calls, registry)

	byCall := make(map[string]Result, len(calls))
	for _, c := range sequential {
		byCall[c.ID] = runOne(ctx, c, exec)
	}
	for _, r := range runConcurrent(ctx, concurrent, exec) {
		byCall[r.Call.ID] = r
	}

	out := make([]Result, len(calls))
	for i, c := range calls {
		out[i] = byCall[c.ID]
	}
	return out
}

func runOne(ctx context.Context, tc gatewaytypes.ToolCall, exec ExecFunc) (r Result) {
	defer func() {
		if p := recover(); p != nil {
			r = Result{Call: tc, Content: fmt.Sprintf("error: tool %q panic: %v", tc.Function.Name, p), IsError: true}
		}
	}()
	start := time.Now()
	content, isErr := exec(ctx, tc.Function.Name, tc.Function.Arguments)
	return Result{Call: tc, Content: content, IsError: isErr, Duration: time.Since(start)}
}

// runConcurrent dispatches calls through a fixed worker pool, same shape as
// loop.go's dispatchParallel: single call runs inline, multiple calls share
// min(len(calls), maxParallelDispatch) workers pulling off one channel.
func runConcurrent(ctx context.Context, calls []gatewaytypes.ToolCall, exec ExecFunc) []Result {
	if len(calls) == 0 {
		return nil
	}
	if len(calls) == 1 {
		return []Result{runOne(ctx, calls[0], exec)}
	}

	type workItem struct {
		idx int
		tc  gatewaytypes.ToolCall
	}
	workCh := make(chan workItem, len(calls))
	for i, tc := range calls {
		workCh <- workItem{idx: i, tc: tc}
	}
	close(workCh)

	type indexed struct {
		idx    int
		result Result
	}
	resultCh := make(chan indexed, len(calls))

	numWorkers := len(calls)
	if numWorkers > maxParallelDispatch {
		numWorkers = maxParallelDispatch
	}
	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for range numWorkers {
		go func() {
			defer wg.Done()
			for w := range workCh {
				if ctx.Err() != nil {
					resultCh <- indexed{w.idx, Result{Call: w.tc, Content: "error: " + ctx.Err().Error(), IsError: true}}
					continue
				}
				resultCh <- indexed{w.idx, runOne(ctx, w.tc, exec)}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(resultCh)
	}()

	results := make([]Result, len(calls))
	seen := make([]bool, len(calls))
collect:
	for received := 0; received < len(calls); received++ {
		select {
		case r, ok := <-resultCh:
			if !ok {
				break collect
			}
			results[r.idx] = r.result
			seen[r.idx] = true
		case <-ctx.Done():
			errResult := Result{Content: "error: " + ctx.Err().Error(), IsError: true}
			for i := range results {
				if !seen[i] {
					results[i] = errResult
				}
			}
			return results
		}
	}
	for i := range results {
		if !seen[i] {
			results[i] = Result{Content: "error: result not received", IsError: true}
		}
	}
	return results
}
