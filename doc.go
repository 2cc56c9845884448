// Package decepticon coordinates autonomous AI agents that jointly perform
// red-team operations: reconnaissance, initial access, planning, and
// summarization.
//
// Agents communicate peer-to-peer, handing the active turn to one another,
// invoking external security tools through a uniform gateway, and producing
// an append-only, replayable session transcript. The root package is the
// execution façade consumed by UIs and CLIs:
//
//	op, err := decepticon.New(
//	    decepticon.WithConfig(cfg),
//	    decepticon.WithDecider("planner", planner),
//	    decepticon.WithDecider("reconnaissance", recon),
//	    decepticon.WithDecider("initial_access", access),
//	    decepticon.WithDecider("summary", summary),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	id, err := op.StartSession(ctx, "scan target 10.0.0.5")
//	events, err := op.StreamEvents(ctx, id, 0)
//	for ev := range events {
//	    render(ev)
//	}
//
// The decision-making capability behind each agent (typically an LLM call)
// is injected as an agent.Decider; the engine, router, gateway and stores in
// the subpackages are usable directly for embedders that need finer control.
package decepticon
