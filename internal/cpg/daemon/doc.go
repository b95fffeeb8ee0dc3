// Package daemon keeps a client database in step with its peer without
// manual intervention.
//
// # Architecture
//
// The daemon consists of two components:
//
//   - InboxWatcher: fsnotify monitoring of one directory for *.json.gz snapshots
//   - Daemon: runs periodic sync rounds and applies debounced inbox files
//
// # Sync Rounds
//
// Every Config.Interval the daemon calls SyncOut and then SyncIn on its
// Syncer. A failed SyncOut does not skip the SyncIn of the same round; both
// errors are logged and the next round retries. A non-positive interval
// disables periodic rounds, which is what an offline client with only an
// inbox wants.
//
// # Inbox
//
// Snapshots dropped into Config.Inbox are applied with SyncInFromFile once
// no event has touched them for Config.DebounceInterval. Files present at
// start-up are applied first. An applied file is renamed with the
// AppliedSuffix so it is not applied twice; a file that fails to apply is
// left in place and retried on its next write.
//
//	d, err := daemon.New(syncer, &daemon.Config{
//	    Interval:         time.Minute,
//	    DebounceInterval: 200 * time.Millisecond,
//	    Inbox:            "/var/lib/cpg/inbox",
//	    Logger:           logger,
//	})
//	if err != nil {
//	    return err
//	}
//	return d.Run(ctx)
//
// Run blocks until ctx is cancelled and returns nil on a clean shutdown.
package daemon
