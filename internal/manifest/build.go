package manifest

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/me/exportq/internal/rpc"
	"github.com/me/exportq/internal/taskmgr"
	"github.com/me/exportq/internal/tasks"
)

// DefaultDummyInterval is used by dummy jobs without an interval.
const DefaultDummyInterval = 5 * time.Second

// BuildOptions supplies the dependencies of built tasks.
type BuildOptions struct {
	// Caller overrides the client built from the manifest rpc section.
	Caller rpc.Caller
	Logger *slog.Logger
}

// Build expands every job into one task per shard, evaluating expressions
// in the job fields. Tasks are returned in manifest order, shards ascending.
func (m *Manifest) Build(opts BuildOptions) ([]taskmgr.Task, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	caller := opts.Caller
	if caller == nil && m.RPC != nil {
		caller = rpc.NewHTTPCaller(*m.RPC, logger)
	}

	eval := NewEvaluator(m.ExpressionLib)
	out := make([]taskmgr.Task, 0, m.TaskCount())
	for _, job := range m.Jobs {
		shards := job.ShardCount()
		for shard := 0; shard < shards; shard++ {
			scope := Scope{Name: m.Name, Job: job.Name, Shard: shard, Shards: shards, Vars: m.Vars}
			t, err := buildTask(eval, job, scope, caller, logger)
			if err != nil {
				return nil, fmt.Errorf("job %s shard %d: %w", job.Name, shard, err)
			}
			out = append(out, t)
		}
	}
	return out, nil
}

func buildTask(eval *Evaluator, job Job, scope Scope, caller rpc.Caller, logger *slog.Logger) (taskmgr.Task, error) {
	desc, err := describeShard(eval, job, scope)
	if err != nil {
		return nil, err
	}

	switch job.Kind {
	case KindCommand:
		argv := make([]string, len(job.Command))
		for i, arg := range job.Command {
			if argv[i], err = eval.String(arg, scope); err != nil {
				return nil, fmt.Errorf("command[%d]: %w", i, err)
			}
		}
		dir, err := eval.String(job.Dir, scope)
		if err != nil {
			return nil, fmt.Errorf("dir: %w", err)
		}
		env := make(map[string]string, len(job.Env))
		for k, v := range job.Env {
			if env[k], err = eval.String(v, scope); err != nil {
				return nil, fmt.Errorf("env %s: %w", k, err)
			}
		}
		return tasks.NewCommand(tasks.CommandSpec{Name: desc, Argv: argv, Dir: dir, Env: env}, logger), nil

	case KindRPC:
		if caller == nil {
			return nil, fmt.Errorf("no rpc client configured")
		}
		params, err := evalValue(eval, job.Params, scope)
		if err != nil {
			return nil, fmt.Errorf("params: %w", err)
		}
		p, _ := params.(map[string]any)
		return tasks.NewRemote(tasks.RemoteSpec{Description: desc, Params: p}, caller, logger), nil

	case KindDummy:
		interval := job.Interval
		if interval == 0 {
			interval = DefaultDummyInterval
		}
		return tasks.NewNamedDummy(desc, interval), nil
	}
	return nil, fmt.Errorf("unknown kind %q", job.Kind)
}

// describeShard evaluates the job description, defaulting to name-shard.
func describeShard(eval *Evaluator, job Job, scope Scope) (string, error) {
	if job.Description == "" {
		if scope.Shards == 1 {
			return job.Name, nil
		}
		return fmt.Sprintf("%s-%d", job.Name, scope.Shard), nil
	}
	desc, err := eval.String(job.Description, scope)
	if err != nil {
		return "", fmt.Errorf("description: %w", err)
	}
	return desc, nil
}

// evalValue walks a decoded YAML value and evaluates every string in it.
func evalValue(eval *Evaluator, v any, scope Scope) (any, error) {
	switch val := v.(type) {
	case string:
		return eval.Value(val, scope)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			r, err := evalValue(eval, item, scope)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			r, err := evalValue(eval, item, scope)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}
