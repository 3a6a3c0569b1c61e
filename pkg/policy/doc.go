// Package policy classifies planned actions with Open Policy Agent.
//
// Every action the planner marks as mutating is evaluated against the Rego
// package converge.risk. A policy adds entries to the "reasons" set; an
// action with at least one reason is risky and goes to the approver.
//
// The built-in access-path policy flags:
//
//   - replace and remove on access-critical resources
//   - rules that stop allowing traffic
//   - edits of sshd login settings (PasswordAuthentication, Port, ...)
//
// Operators extend it with their own modules in the same package:
//
//	package converge.risk
//
//	import rego.v1
//
//	reasons contains "crontab changes need review" if {
//		input.resource.kind == "job"
//	}
//
// The input document is:
//
//	{
//	  "resource": {"kind", "name", "location", "access_critical"},
//	  "action":   {"kind", "key", "value", "current", "present", "ensure", "match"}
//	}
//
// Usage:
//
//	eng, err := policy.NewEngine(ctx, logger, "/etc/converge/policies")
//	if err != nil {
//	    return err
//	}
//	gate := engine.NewGate(registry, eng, prompt.NewTerminal(os.Stdin, os.Stderr), logger)
package policy
