package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/rs/zerolog"

	"github.com/studsec/instancer/pkg/log"
	"github.com/studsec/instancer/pkg/metrics"
	"github.com/studsec/instancer/pkg/registry"
)

const (
	dialTimeout = 10 * time.Second

	// maxSessions bounds concurrent remote sessions so a wide fan-out cannot
	// starve other operations
	maxSessions = 16
)

// Result is one successful remote invocation
type Result struct {
	Worker *registry.Worker
	Output string
}

// Executor runs shell commands on workers over ssh. A failure of any kind
// (transport error, non-zero exit, timeout) is reported as an error; the
// executor never interprets command output.
type Executor struct {
	registry *registry.Registry
	signer   ssh.Signer
	logger   zerolog.Logger

	mu      sync.Mutex
	clients map[*registry.Worker]*ssh.Client

	sem chan struct{}
}

// New creates an executor authenticating with the private key at keyfile
func New(reg *registry.Registry, keyfile string) (*Executor, error) {
	key, err := os.ReadFile(keyfile)
	if err != nil {
		return nil, fmt.Errorf("failed to read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ssh key: %w", err)
	}

	return &Executor{
		registry: reg,
		signer:   signer,
		logger:   log.WithComponent("executor"),
		clients:  make(map[*registry.Worker]*ssh.Client),
		sem:      make(chan struct{}, maxSessions),
	}, nil
}

// client returns a cached ssh client for the worker, dialing on first use
func (e *Executor) client(worker *registry.Worker) (*ssh.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if client, ok := e.clients[worker]; ok {
		return client, nil
	}

	cfg := &ssh.ClientConfig{
		User:            worker.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(e.signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         dialTimeout,
	}

	client, err := ssh.Dial("tcp", worker.Addr(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", worker.Addr(), err)
	}

	e.clients[worker] = client
	return client, nil
}

// drop discards a cached client after a transport failure so the next call
// redials
func (e *Executor) drop(worker *registry.Worker) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if client, ok := e.clients[worker]; ok {
		client.Close()
		delete(e.clients, worker)
	}
}

// Run executes cmd on one worker and returns the trimmed stdout. A timeout of
// zero means the caller's context alone bounds the call.
func (e *Executor) Run(ctx context.Context, worker *registry.Worker, cmd string, timeout time.Duration) (string, error) {
	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.CommandDuration, worker.Hostname)

	e.logger.Debug().
		Str("worker", worker.Hostname).
		Str("cmd", cmd).
		Msg("Running command")

	client, err := e.client(worker)
	if err != nil {
		metrics.CommandsFailed.WithLabelValues(worker.Hostname).Inc()
		return "", err
	}

	session, err := client.NewSession()
	if err != nil {
		// A dead connection surfaces here; drop it so the next call redials
		e.drop(worker)
		metrics.CommandsFailed.WithLabelValues(worker.Hostname).Inc()
		return "", fmt.Errorf("failed to open session on %s: %w", worker.Hostname, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case err := <-done:
		if err != nil {
			metrics.CommandsFailed.WithLabelValues(worker.Hostname).Inc()
			e.logger.Warn().
				Str("worker", worker.Hostname).
				Str("cmd", cmd).
				Str("stderr", strings.TrimSpace(stderr.String())).
				Err(err).
				Msg("Command failed")
			return "", fmt.Errorf("command failed on %s: %w", worker.Hostname, err)
		}
		return strings.TrimSpace(stdout.String()), nil
	case <-ctx.Done():
		// Abandon the session; closing it tears down the remote command
		session.Close()
		metrics.CommandsFailed.WithLabelValues(worker.Hostname).Inc()
		e.logger.Warn().
			Str("worker", worker.Hostname).
			Str("cmd", cmd).
			Msg("Command timed out")
		return "", ctx.Err()
	}
}

// RunAll executes cmd on every worker in parallel and returns the successful
// results in registry order. Failed workers are simply absent.
func (e *Executor) RunAll(ctx context.Context, cmd string, timeout time.Duration) []Result {
	workers := e.registry.Workers()
	outputs := make([]*string, len(workers))

	var wg sync.WaitGroup
	for i, worker := range workers {
		wg.Add(1)
		go func(i int, worker *registry.Worker) {
			defer wg.Done()
			out, err := e.Run(ctx, worker, cmd, timeout)
			if err != nil {
				return
			}
			outputs[i] = &out
		}(i, worker)
	}
	wg.Wait()

	var results []Result
	for i, out := range outputs {
		if out != nil {
			results = append(results, Result{Worker: workers[i], Output: *out})
		}
	}
	return results
}

// Close tears down every cached connection
func (e *Executor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for worker, client := range e.clients {
		client.Close()
		delete(e.clients, worker)
	}
}
