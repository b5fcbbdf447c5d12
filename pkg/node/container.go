package node

import (
	"MPTestbed/api"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultImage  = "mptcp-host:latest"
	DefaultPrefix = "mptb-"
)

// ContainerManager runs one privileged, network-less container per host.
// Links are plugged into the container namespace afterwards.
type ContainerManager struct {
	dClient *client.Client
	Image   string
	Prefix  string
	// Binds are mounted into every container, e.g. the artifact tree at
	// the same absolute path as on the host.
	Binds []string
}

func NewContainerManager(image string, binds []string) (*ContainerManager, error) {
	dClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, "error creating docker client")
	}
	if image == "" {
		image = DefaultImage
	}
	return &ContainerManager{
		dClient: dClient,
		Image:   image,
		Prefix:  DefaultPrefix,
		Binds:   binds,
	}, nil
}

func (cm *ContainerManager) ContainerName(id string) string {
	return cm.Prefix + id
}

// AddNode creates and starts the container of host id and returns the path
// of its network namespace. A leftover container of the same name is
// removed first.
func (cm *ContainerManager) AddNode(ctx context.Context, id string) (string, error) {
	name := cm.ContainerName(id)
	if err := cm.DeleteNode(ctx, id); err != nil {
		return "", err
	}

	sysctls := map[string]string{
		"net.ipv4.conf.all.rp_filter":     "0",
		"net.ipv4.conf.default.rp_filter": "0",
	}
	_, err := cm.dClient.ContainerCreate(ctx, &container.Config{
		Image:           cm.Image,
		Hostname:        id,
		Cmd:             []string{"sleep", "infinity"},
		NetworkDisabled: true,
		User:            "root",
	}, &container.HostConfig{
		Privileged: true,
		Binds:      cm.Binds,
		Sysctls:    sysctls,
	}, nil, nil, name)
	if err != nil {
		return "", errors.Wrapf(err, "error creating container %s", name)
	}

	if err = cm.dClient.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return "", errors.Wrapf(err, "error starting container %s", name)
	}

	res, err := cm.dClient.ContainerInspect(ctx, name)
	if err != nil {
		return "", errors.Wrapf(err, "error inspecting container %s", name)
	}
	netns := fmt.Sprintf("/proc/%d/ns/net", res.State.Pid)
	log.WithFields(log.Fields{"node": id, "netns": netns}).Debug("container started")
	return netns, nil
}

// DeleteNode force-removes the container of host id. A missing container is
// not an error.
func (cm *ContainerManager) DeleteNode(ctx context.Context, id string) error {
	name := cm.ContainerName(id)
	err := cm.dClient.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return errors.Wrapf(err, "error removing container %s", name)
	}
	return nil
}

// Exec starts cmd in the container of host id. Output goes to cmd.Output
// when set and, if capture is true, is also kept for the ExecResult.
func (cm *ContainerManager) Exec(ctx context.Context, id string, cmd api.CommandLine, capture bool) (api.Process, error) {
	out, err := openOutput(cmd.Output)
	if err != nil {
		return nil, err
	}

	name := cm.ContainerName(id)
	created, err := cm.dClient.ContainerExecCreate(ctx, name, container.ExecOptions{
		Cmd:          cmd.Args,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		out.Close()
		return nil, errors.Wrapf(err, "error creating exec in %s", name)
	}
	resp, err := cm.dClient.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		out.Close()
		return nil, errors.Wrapf(err, "error starting exec in %s", name)
	}

	p := newProcess(id, func() (execState, error) {
		i, err := cm.dClient.ContainerExecInspect(context.Background(), created.ID)
		return execState{Running: i.Running, ExitCode: i.ExitCode, Pid: i.Pid}, err
	})
	go p.collect(resp.Reader, out, capture, func() {
		resp.Close()
		out.Close()
	})
	if _, err = p.resolvePid(); err != nil {
		log.WithError(err).WithField("node", id).Debug("pid not known yet")
	}
	return p, nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func openOutput(path string) (io.WriteCloser, error) {
	if path == "" {
		return nopWriteCloser{io.Discard}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create %s", path)
	}
	return f, nil
}
