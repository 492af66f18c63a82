package swarm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// workerFn runs one worker turn: role plus input text to output text.
type workerFn func(ctx context.Context, role, input string) (string, error)

const (
	defaultDebateRounds = 3
	defaultReviewRounds = 3
	approvalMarker      = "APPROVE"
)

// runParallel executes all workers simultaneously on their own subtasks.
// The first hard failure cancels the rest.
func runParallel(ctx context.Context, plan []PlanItem, run workerFn) ([]WorkerResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]WorkerResult, len(plan))
	var wg sync.WaitGroup
	var once sync.Once
	var firstErr error

	for i, item := range plan {
		wg.Add(1)
		go func(i int, item PlanItem) {
			defer wg.Done()
			out, err := run(ctx, item.Role, item.Subtask)
			results[i] = WorkerResult{Role: item.Role, Output: out, Err: err}
			if err != nil {
				once.Do(func() {
					firstErr = fmt.Errorf("worker %s: %w", item.Role, err)
					cancel()
				})
			}
		}(i, item)
	}
	wg.Wait()

	if firstErr != nil {
		return results, firstErr
	}
	return results, nil
}

// runPipeline executes workers sequentially; each receives the previous
// worker's output appended to its subtask.
func runPipeline(ctx context.Context, plan []PlanItem, run workerFn) ([]WorkerResult, error) {
	results := make([]WorkerResult, 0, len(plan))
	carry := ""
	for _, item := range plan {
		input := item.Subtask
		if carry != "" {
			input = fmt.Sprintf("%s\n\nOutput of the previous stage:\n%s", item.Subtask, carry)
		}
		out, err := run(ctx, item.Role, input)
		results = append(results, WorkerResult{Role: item.Role, Output: out, Err: err})
		if err != nil {
			return results, fmt.Errorf("stage %s: %w", item.Role, err)
		}
		carry = out
	}
	return results, nil
}

// runDebate runs rounds where every worker sees every other worker's
// previous-round output. It stops when positions stop changing or the round
// cap is hit.
func runDebate(ctx context.Context, plan []PlanItem, run workerFn, maxRounds int) ([]WorkerResult, error) {
	if maxRounds <= 0 {
		maxRounds = defaultDebateRounds
	}

	prev := make([]string, len(plan))
	results := make([]WorkerResult, len(plan))

	for round := 1; round <= maxRounds; round++ {
		current := make([]string, len(plan))
		for i, item := range plan {
			input := item.Subtask
			if round > 1 {
				var sb strings.Builder
				sb.WriteString(item.Subtask)
				sb.WriteString("\n\nPositions from the previous round:\n")
				for j, other := range plan {
					if j == i {
						continue
					}
					fmt.Fprintf(&sb, "[%s]: %s\n", other.Role, prev[j])
				}
				sb.WriteString("\nRevise your position, or restate it if you stand by it.")
				input = sb.String()
			}
			out, err := run(ctx, item.Role, input)
			if err != nil {
				results[i] = WorkerResult{Role: item.Role, Output: out, Err: err}
				return results, fmt.Errorf("debater %s: %w", item.Role, err)
			}
			current[i] = out
			results[i] = WorkerResult{Role: item.Role, Output: out}
		}

		if round > 1 && converged(prev, current) {
			break
		}
		prev = current
	}
	return results, nil
}

// converged means no debater changed position since the previous round.
func converged(prev, current []string) bool {
	for i := range prev {
		if strings.TrimSpace(prev[i]) != strings.TrimSpace(current[i]) {
			return false
		}
	}
	return true
}

// runReview has the first worker author a draft, the rest critique it, and
// the author revise, until every reviewer approves or the round cap is hit.
// The final draft is the single result.
func runReview(ctx context.Context, plan []PlanItem, run workerFn, maxRounds int) ([]WorkerResult, error) {
	if maxRounds <= 0 {
		maxRounds = defaultReviewRounds
	}
	author := plan[0]
	reviewers := plan[1:]

	draft, err := run(ctx, author.Role, author.Subtask)
	if err != nil {
		return nil, fmt.Errorf("author %s: %w", author.Role, err)
	}
	if len(reviewers) == 0 {
		return []WorkerResult{{Role: author.Role, Output: draft}}, nil
	}

	for round := 1; round <= maxRounds; round++ {
		critiques := make([]string, 0, len(reviewers))
		approved := true
		for _, rev := range reviewers {
			input := fmt.Sprintf(
				"%s\n\nReview this draft. Reply %s if acceptable, otherwise list concrete problems.\n\nDraft:\n%s",
				rev.Subtask, approvalMarker, draft)
			critique, err := run(ctx, rev.Role, input)
			if err != nil {
				return nil, fmt.Errorf("reviewer %s: %w", rev.Role, err)
			}
			if !strings.Contains(critique, approvalMarker) {
				approved = false
				critiques = append(critiques, fmt.Sprintf("[%s]: %s", rev.Role, critique))
			}
		}
		if approved {
			break
		}
		if round == maxRounds {
			break
		}

		input := fmt.Sprintf(
			"%s\n\nRevise your draft to address the review feedback.\n\nDraft:\n%s\n\nFeedback:\n%s",
			author.Subtask, draft, strings.Join(critiques, "\n"))
		draft, err = run(ctx, author.Role, input)
		if err != nil {
			return nil, fmt.Errorf("author revision %s: %w", author.Role, err)
		}
	}
	return []WorkerResult{{Role: author.Role, Output: draft}}, nil
}
