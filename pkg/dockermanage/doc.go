// Package dockermanage runs the Docker containers behind disposable HiveMQ brokers.
//
// A [Manager] wraps the native Docker client. [Manager.Start] pulls the image when it is missing,
// creates the container, copies host files into it (see [WithCopy]), starts it and resolves the
// host ports bound to every exposed container port. A started container can run one-shot commands
// with [Manager.Exec], stream its output with [Manager.FollowLogs] and receive more files with
// [Manager.CopyToContainer].
//
// Every container created through this package carries the [ManagedLabelKey] label, so leftovers
// of crashed test runs can be cleaned up with [Manager.StopManaged] and [Manager.RemoveManaged].
package dockermanage
