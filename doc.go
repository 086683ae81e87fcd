// Package meiliguard keeps a desktop application to one running instance and
// guarantees that the search service it launches never outlives it.
//
// # Single instance
//
// A Coordinator arbitrates the primary instance over a loopback TCP port.
// The first process to bind the port becomes the primary; every later
// launch connects, writes one byte asking the primary to show its window,
// and exits:
//
//	claim, err := meiliguard.NewCoordinator().Claim(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if claim.Role == meiliguard.RoleSecondary {
//	    return
//	}
//	defer claim.Listener.Close()
//
// The primary polls the returned WakeListener from its control loop. Poll
// never blocks, so it can run on a UI thread.
//
// # Guaranteed teardown
//
// A Launcher starts the search service with a fresh AccessCredential and a
// truncated log, under the SupervisionCapability chosen for the platform by
// NewDefaultStrategy:
//
//   - Linux: GuardStrategy runs the service under the meiliguard supervisor,
//     which registers a parent-death signal and kills the service when the
//     owner exits on any path, SIGKILL included.
//   - Windows: JobStrategy places the service in a job object with
//     kill-on-close set; the kernel terminates it when the owner's handles
//     are released.
//   - Elsewhere: DirectStrategy runs a plain child that is torn down only
//     by Guard.Close.
//
// The returned Guard tears the service down exactly once, however many
// times Close is called:
//
//	svc, err := meiliguard.NewLauncher(paths, meiliguard.NewDefaultStrategy(paths)).Launch(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close()
//
// A SIGKILL delivered to the supervisor itself leaves the service running;
// ConfirmAlive reports the supervisor as gone so the owner can notice.
//
// # Supervisor status
//
// The supervisor publishes a 20-byte status record under
// <service dir>/supervise/status on every state change. ReadStatus decodes
// it, WatchStatus streams changes and WaitStatus blocks until a state is
// reached.
package meiliguard
