package hooks

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestRunPriorityOrder(t *testing.T) {
	r := NewRegistry(nil)
	var order []string

	r.Register(EventSessionStart, func(ctx context.Context, p *Payload) Outcome {
		order = append(order, "low")
		return Continue()
	}, WithName("low"), WithPriority(PriorityLow))
	r.Register(EventSessionStart, func(ctx context.Context, p *Payload) Outcome {
		order = append(order, "high")
		return Continue()
	}, WithName("high"), WithPriority(PriorityHighest))
	r.Register(EventSessionStart, func(ctx context.Context, p *Payload) Outcome {
		order = append(order, "normal")
		return Continue()
	}, WithName("normal"))

	r.Run(context.Background(), EventSessionStart, &Payload{})

	want := []string{"high", "normal", "low"}
	if len(order) != len(want) {
		t.Fatalf("ran %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("ran %v, want %v", order, want)
		}
	}
}

func TestRunBlockHonouredOnPreToolUse(t *testing.T) {
	r := NewRegistry(nil)
	ranAfter := false

	r.Register(EventPreToolUse, func(ctx context.Context, p *Payload) Outcome {
		return Block("dangerous")
	}, WithPriority(PriorityHighest))
	r.Register(EventPreToolUse, func(ctx context.Context, p *Payload) Outcome {
		ranAfter = true
		return Continue()
	}, WithPriority(PriorityLow))

	out := r.Run(context.Background(), EventPreToolUse, &Payload{ToolName: "exec"})
	if out.Decision != DecisionBlock || out.Reason != "dangerous" {
		t.Fatalf("outcome = %+v, want block", out)
	}
	if ranAfter {
		t.Fatal("handler after block still ran")
	}
}

func TestRunBlockIgnoredElsewhere(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(EventPreResponse, func(ctx context.Context, p *Payload) Outcome {
		return Block("not allowed here")
	})

	out := r.Run(context.Background(), EventPreResponse, &Payload{})
	if out.Decision != DecisionContinue {
		t.Fatalf("block outside pre_tool_use leaked: %+v", out)
	}
}

func TestRunPanicRecovery(t *testing.T) {
	r := NewRegistry(nil)
	ranAfter := false

	r.Register(EventPostToolUse, func(ctx context.Context, p *Payload) Outcome {
		panic("handler bug")
	}, WithPriority(PriorityHighest))
	r.Register(EventPostToolUse, func(ctx context.Context, p *Payload) Outcome {
		ranAfter = true
		return Continue()
	})

	out := r.Run(context.Background(), EventPostToolUse, &Payload{})
	if out.Decision != DecisionContinue {
		t.Fatalf("panic produced non-continue outcome: %+v", out)
	}
	if !ranAfter {
		t.Fatal("panic stopped the chain")
	}
}

func TestRunPayloadMutationThreadsThrough(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(EventPreResponse, func(ctx context.Context, p *Payload) Outcome {
		p.Text = p.Text + " world"
		return Continue()
	}, WithPriority(PriorityHighest))
	r.Register(EventPreResponse, func(ctx context.Context, p *Payload) Outcome {
		p.Data["seen"] = p.Text
		return Continue()
	}, WithPriority(PriorityLow))

	p := &Payload{Text: "hello"}
	r.Run(context.Background(), EventPreResponse, p)
	if p.Text != "hello world" {
		t.Fatalf("text = %q", p.Text)
	}
	if p.Data["seen"] != "hello world" {
		t.Fatalf("later handler saw %v", p.Data["seen"])
	}
}

func TestRunAsyncDoesNotBlock(t *testing.T) {
	r := NewRegistry(nil)
	var wg sync.WaitGroup
	wg.Add(1)
	r.Register(EventPostResponse, func(ctx context.Context, p *Payload) Outcome {
		defer wg.Done()
		time.Sleep(20 * time.Millisecond)
		return Continue()
	})

	start := time.Now()
	r.RunAsync(context.Background(), EventPostResponse, &Payload{})
	if time.Since(start) > 10*time.Millisecond {
		t.Fatal("RunAsync blocked the caller")
	}
	wg.Wait()
}

func TestUnregister(t *testing.T) {
	r := NewRegistry(nil)
	id := r.Register(EventSessionEnd, func(ctx context.Context, p *Payload) Outcome {
		t.Fatal("unregistered handler ran")
		return Continue()
	})
	if !r.Unregister(id) {
		t.Fatal("unregister returned false for known id")
	}
	if r.Unregister(id) {
		t.Fatal("unregister returned true for removed id")
	}
	r.Run(context.Background(), EventSessionEnd, &Payload{})
}
