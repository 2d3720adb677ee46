/*
Package runtime runs a database node inside a containerd container.

ContainerdProcess implements supervisor.Process, so the supervisor can manage a
containerized node exactly like a local command:

	rt, err := runtime.NewContainerdRuntime("", "")
	proc := rt.NewProcess(runtime.ContainerSpec{
		ID:           "node-0",
		Image:        "docker.io/library/cassandra:4.1",
		VolumeHost:   "/var/lib/ringmaster/volumes/node-0",
		VolumeTarget: "/var/lib/cassandra",
	})

The container shares the host network namespace so the node's ports and its
probe agent are reachable at the agent's address. The node's persistent volume
is bind-mounted read-write. Stopping sends SIGTERM and escalates to SIGKILL
after the grace period; once the task exits it is deleted along with the
container and its snapshot.
*/
package runtime
