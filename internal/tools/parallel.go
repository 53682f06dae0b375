package tools

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/search-mcp/search-mcp/internal/apierrors"
	"github.com/search-mcp/search-mcp/internal/validate"
)

const (
	defaultParallelConcurrency = 10.0
	defaultParallelTimeoutMs   = 30000.0
)

// ParallelResult is one item's outcome in an execute_parallel batch.
type ParallelResult struct {
	ID            string          `json:"id,omitempty"`
	ToolName      string          `json:"toolName"`
	Success       bool            `json:"success"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	ExecutionTime int64           `json:"executionTime"` // milliseconds
}

// ParallelResponse is the execute_parallel payload.
type ParallelResponse struct {
	Total     int              `json:"total"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Results   []ParallelResult `json:"results"`
}

type parallelRequest struct {
	id       string
	toolName string
	args     map[string]interface{}
}

func (r *Registry) executeParallel() *Tool {
	return &Tool{
		Name:        "execute_parallel",
		Description: "Execute a batch of tool calls with bounded concurrency and per-item timeout.",
		Parameters: []validate.Parameter{
			{Name: "requests", Type: validate.TypeArray, Required: true, MinLength: intPtr(1), MaxLength: intPtr(100)},
			{Name: "maxConcurrency", Type: validate.TypeNumber, Default: defaultParallelConcurrency,
				Minimum: floatPtr(1), Maximum: floatPtr(50)},
			{Name: "timeout", Type: validate.TypeNumber, Default: defaultParallelTimeoutMs,
				Minimum: floatPtr(100), Description: "Per-item timeout in milliseconds."},
			{Name: "continueOnError", Type: validate.TypeBoolean, Default: true},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			requests, err := decodeParallelRequests(args["requests"])
			if err != nil {
				return nil, err
			}

			concurrency := intArg(args, "maxConcurrency", int(defaultParallelConcurrency))
			timeout := time.Duration(intArg(args, "timeout", int(defaultParallelTimeoutMs))) * time.Millisecond
			continueOnError := true
			if b, ok := args["continueOnError"].(bool); ok {
				continueOnError = b
			}

			if continueOnError {
				return r.runParallelBatch(ctx, requests, concurrency, timeout), nil
			}
			return r.runSequentialUntilFailure(ctx, requests, timeout), nil
		},
	}
}

func decodeParallelRequests(raw interface{}) ([]parallelRequest, error) {
	items, ok := raw.([]interface{})
	if !ok {
		return nil, apierrors.ValidationError("Parameter requests must be of type array")
	}

	out := make([]parallelRequest, 0, len(items))
	for _, item := range items {
		entry, ok := item.(map[string]interface{})
		if !ok {
			return nil, apierrors.ValidationError("Each request must be an object with a toolName")
		}
		req := parallelRequest{}
		req.id, _ = entry["id"].(string)
		req.toolName, _ = entry["toolName"].(string)
		if req.toolName == "" {
			return nil, apierrors.ValidationError("Each request must name a toolName")
		}
		if a, ok := entry["arguments"].(map[string]interface{}); ok {
			req.args = a
		}
		out = append(out, req)
	}
	return out, nil
}

// runParallelBatch dispatches every request through the routing layer
// with at most concurrency in flight, each bounded by its own timeout.
// Failures are collected, never fatal (continueOnError=true).
func (r *Registry) runParallelBatch(ctx context.Context, requests []parallelRequest, concurrency int, timeout time.Duration) ParallelResponse {
	results := make([]ParallelResult, len(requests))

	g := new(errgroup.Group)
	g.SetLimit(concurrency)
	for i, req := range requests {
		i, req := i, req
		g.Go(func() error {
			results[i] = r.runOne(ctx, req, timeout)
			return nil
		})
	}
	_ = g.Wait()

	return summarize(results)
}

// runSequentialUntilFailure executes requests strictly in order and stops
// scheduling at the first failure, so a failing first item yields exactly
// one result entry. Nothing in flight is ever
// aborted because nothing runs concurrently in this mode.
func (r *Registry) runSequentialUntilFailure(ctx context.Context, requests []parallelRequest, timeout time.Duration) ParallelResponse {
	var results []ParallelResult
	for _, req := range requests {
		res := r.runOne(ctx, req, timeout)
		results = append(results, res)
		if !res.Success {
			break
		}
	}
	return summarize(results)
}

func (r *Registry) runOne(ctx context.Context, req parallelRequest, timeout time.Duration) ParallelResult {
	itemCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	raw, err := r.deps.Backends.ExecuteTool(itemCtx, req.toolName, req.args)
	elapsed := time.Since(start).Milliseconds()

	res := ParallelResult{ID: req.id, ToolName: req.toolName, ExecutionTime: elapsed}
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Success = true
	res.Result = raw
	return res
}

func summarize(results []ParallelResult) ParallelResponse {
	resp := ParallelResponse{Total: len(results), Results: results}
	for _, res := range results {
		if res.Success {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}
	return resp
}
