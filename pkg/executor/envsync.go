package executor

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/studsec/instancer/pkg/registry"
)

// SyncEnvironment ships the challenge tree rooted at localDir to every
// worker's base path. The tree is archived once locally and streamed over ssh
// into tar on the remote side. Per-worker failures are logged and do not fail
// the sync; a worker that missed an update is corrected on the next cycle.
func (e *Executor) SyncEnvironment(ctx context.Context, localDir string) error {
	archive, err := os.CreateTemp("", "instancer-env-*.tar")
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer os.Remove(archive.Name())
	defer archive.Close()

	e.logger.Info().Str("dir", localDir).Msg("Making archive of challenge tree")
	if err := tarDirectory(localDir, archive); err != nil {
		return fmt.Errorf("failed to archive %s: %w", localDir, err)
	}

	workers := e.registry.Workers()
	e.logger.Info().Int("workers", len(workers)).Msg("Sending archive to workers")

	var wg sync.WaitGroup
	for _, worker := range workers {
		wg.Add(1)
		go func(worker *registry.Worker) {
			defer wg.Done()
			if err := e.pushArchive(ctx, worker, archive.Name()); err != nil {
				e.logger.Warn().
					Str("worker", worker.Hostname).
					Err(err).
					Msg("Failed to sync environment")
			}
		}(worker)
	}
	wg.Wait()

	return nil
}

// pushArchive recreates the worker's base path and unpacks the archive into it
func (e *Executor) pushArchive(ctx context.Context, worker *registry.Worker, archivePath string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return ctx.Err()
	}

	client, err := e.client(worker)
	if err != nil {
		return err
	}

	session, err := client.NewSession()
	if err != nil {
		e.drop(worker)
		return fmt.Errorf("failed to open session on %s: %w", worker.Hostname, err)
	}
	defer session.Close()

	session.Stdin = f

	cmd := fmt.Sprintf("rm -rf '%s' && mkdir -p '%s' && tar -xf - --directory '%s'",
		worker.BasePath, worker.BasePath, worker.BasePath)

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to unpack archive on %s: %w", worker.Hostname, err)
		}
		return nil
	case <-ctx.Done():
		session.Close()
		return ctx.Err()
	}
}

// tarDirectory writes dir's contents (not dir itself) into w
func tarDirectory(dir string, w io.Writer) error {
	tw := tar.NewWriter(w)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)

		if err := tw.WriteHeader(header); err != nil {
			return err
		}

		if info.Mode().IsRegular() {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			if _, err := io.Copy(tw, f); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	return tw.Close()
}
