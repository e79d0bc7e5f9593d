// Package supervisor runs the long-lived parts of fm-presence under a
// suture supervisor tree: the presence tracker, the UDP beacon and the
// metrics server.
//
// Events (restarts, backoff, panics) are logged through sutureslog.
//
//	tree := supervisor.NewTree(log.Logger, supervisor.DefaultTreeConfig())
//	tree.AddTracker(supervisor.NewTrackerService(presenceService))
//	tree.AddEdgeService(supervisor.NewRunnerService("beacon", b))
//	if err := tree.Serve(ctx); err != nil {
//	    return err
//	}
package supervisor
