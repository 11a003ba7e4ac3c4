// Package ephemeral provides the lifecycle state machine behind every
// long-lived asynchronous handle: filesystems, open contexts and execute
// contexts.
//
// States:
//   - Wait: initial, the resource is being acquired
//   - Ready: acquired, carries the value passed to Ready
//   - Closed: terminal success, or a failure after Ready (reason "error")
//   - Error: terminal failure before the resource ever became Ready
//
// Transitions:
//
//	Wait  --Ready(v)------> Ready
//	Ready --CloseOk(v)----> Closed (reason ok)
//	Ready --CloseError(v)-> Closed (reason error)
//	Wait  --CloseError(v)-> Error
//
// Any other call returns an invalid-state-transition error. Reset re-arms a
// terminal instance; it is illegal while Ready.
//
// DependsOn ties a child to a parent: when the parent terminates, a
// non-terminal child is force-closed with a parent-closed error carrying the
// parent's close reason and value.
//
// Example Usage:
//
//	e := ephemeral.New[string]()
//	e.OnClose(func(o ephemeral.Outcome) { log.Println(o.Reason) })
//	e.Ready("handle")
//	e.CloseOk(nil)
//	outcome, err := e.Wait(ctx)
package ephemeral
