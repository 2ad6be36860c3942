/*
 *  Copyright (c) 2024 Tasknet Systems, Inc. All Rights Reserved.
 */
package remote

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/crypto/ssh"

	"github.com/tasknet-io/tasknet/pkg/errors"
	"github.com/tasknet-io/tasknet/pkg/logger"
	"github.com/tasknet-io/tasknet/pkg/restapi"
)

var (
	ErrConnect = errors.New("remote: unable to connect")
	ErrAuth    = errors.New("remote: unable to authenticate")
	ErrExecute = errors.New("remote: unable to execute command")
)

// ExecuteResult carries the outcome of one remote command.
type ExecuteResult struct {
	ExitCode int
	Output   string
}

// Channel is a live SSH connection to one host, shared by up to
// ChannelSlots concurrent commands. Each command runs in its own session
// on the shared connection.
type Channel struct {
	host *Host

	client *ssh.Client
	slots  int64
	free   atomic.Int64
}

// OpenChannel dials the host and performs the SSH handshake. The context
// bounds the dial and handshake only, not the channel lifetime.
func OpenChannel(ctx context.Context, host *Host) (*Channel, error) {
	auth, err := authMethods(host)
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            host.Username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}

	address := fmt.Sprintf("%s:%d", host.Address, host.Port)

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, ErrConnect.Wrap(err)
	}

	// The handshake has no context parameter. Closing the connection when
	// the context expires unblocks NewClientConn.
	handshakeDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()

		case <-handshakeDone:
		}
	}()

	sshConn, channels, requests, err := ssh.NewClientConn(conn, address, config)
	close(handshakeDone)
	if err != nil {
		conn.Close()
		if ctx.Err() != nil {
			err = ctx.Err()
		}

		return nil, ErrConnect.Wrap(err)
	}

	// The watcher may have raced a successful handshake and closed the
	// connection underneath it.
	if ctx.Err() != nil {
		sshConn.Close()
		return nil, ErrConnect.Wrap(ctx.Err())
	}

	channel := &Channel{
		host:   host,
		slots:  int64(host.ChannelSlots),
		client: ssh.NewClient(sshConn, channels, requests),
	}
	channel.free.Store(channel.slots)

	return channel, nil
}

func authMethods(host *Host) ([]ssh.AuthMethod, error) {
	if host.Password != "" {
		return []ssh.AuthMethod{ssh.Password(host.Password)}, nil
	}

	key, err := os.ReadFile(host.KeyFile)
	if err != nil {
		return nil, ErrAuth.Wrap(err)
	}

	var signer ssh.Signer
	if host.KeyPassphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(host.KeyPassphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(key)
	}
	if err != nil {
		return nil, ErrAuth.Wrap(err)
	}

	return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
}

func (channel *Channel) Host() *Host {
	return channel.host
}

// TryReserveSlot claims one slot if any are free. Non-blocking.
func (channel *Channel) TryReserveSlot() bool {
	for {
		free := channel.free.Load()
		if free <= 0 {
			return false
		}

		if channel.free.CompareAndSwap(free, free-1) {
			return true
		}
	}
}

// ReleaseSlot returns a reserved slot. Releasing a slot that was never
// reserved is a programming error.
func (channel *Channel) ReleaseSlot() {
	for {
		free := channel.free.Load()
		if free >= channel.slots {
			logger.Panicf("released more slots than were reserved, %d of %d free", free, channel.slots)
		}

		if channel.free.CompareAndSwap(free, free+1) {
			return
		}
	}
}

func (channel *Channel) FreeSlots() int {
	return int(channel.free.Load())
}

// Execute runs one command in a fresh session on the channel and returns
// its combined output and exit code. Cancelling the context kills the
// remote command.
func (channel *Channel) Execute(ctx context.Context, job restapi.Job) (ExecuteResult, error) {
	session, err := channel.client.NewSession()
	if err != nil {
		return ExecuteResult{ExitCode: restapi.ExitCodeUnknown}, ErrExecute.Wrap(err)
	}
	defer session.Close()

	for key, value := range job.Env {
		session.Setenv(key, value)
	}

	if len(job.Gpus) > 0 {
		indices := make([]string, len(job.Gpus))
		for i, jobGpu := range job.Gpus {
			indices[i] = strconv.Itoa(jobGpu.Index)
		}

		visible := strings.Join(indices, ",")
		session.Setenv("CUDA_VISIBLE_DEVICES", visible)
		session.Setenv("TASKNET_GPUS", visible)
	}

	session.Setenv("TASKNET_JOB_ID", job.Id)

	command := joinCommand(job.Command)
	if job.Workdir != "" {
		command = fmt.Sprintf("cd %s && %s", job.Workdir, command)
	}
	if channel.host.Interpreter != "" {
		command = fmt.Sprintf("%s -c %q", channel.host.Interpreter, command)
	}

	var output bytes.Buffer
	session.Stdout = &output
	session.Stderr = &output

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		session.Close()
		<-done
		return ExecuteResult{
			ExitCode: restapi.ExitCodeUnknown,
			Output:   output.String(),
		}, ctx.Err()

	case err = <-done:
	}

	result := ExecuteResult{
		Output: output.String(),
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, ErrExecute.Wrap(err)
		}

		result.ExitCode = restapi.ExitCodeUnknown
		return result, ErrExecute.Wrap(err)
	}

	return result, nil
}

func (channel *Channel) Close() error {
	return channel.client.Close()
}

// joinCommand flattens an argument vector into one shell command line,
// quoting arguments that contain whitespace or shell metacharacters.
func joinCommand(command []string) string {
	quoted := make([]string, len(command))
	for i, arg := range command {
		if strings.ContainsAny(arg, " \t\"'$&|;<>*?()") {
			quoted[i] = fmt.Sprintf("%q", arg)
		} else {
			quoted[i] = arg
		}
	}

	return strings.Join(quoted, " ")
}
