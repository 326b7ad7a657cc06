package service

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/hartell/matrixci/internal/matrix"
	"github.com/hartell/matrixci/internal/store"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

type SandboxResult struct {
	Passed   bool
	Coverage []byte
}

// Sandbox is the isolated environment one run executes in. Build produces the
// artifact stream; RunJob executes one test unit against an artifact copy.
// Test failure is not an error: RunJob returns a result with Passed=false and
// whatever coverage the unit produced. Errors mean the unit could not run.
type Sandbox interface {
	Build(ctx context.Context, run *store.Run) (io.ReadCloser, error)
	RunJob(ctx context.Context, spec matrix.JobSpec, art io.Reader) (*SandboxResult, error)
	Close() error
}

type SandboxDialer interface {
	Dial(ctx context.Context, run *store.Run, decl *matrix.Declaration, output chan<- string) (Sandbox, error)
}

// agentSandbox runs the build and every job on an agent machine over SSH.
type agentSandbox struct {
	client     *ssh.Client
	workspace  string
	workdir    string
	repository string
	decl       *matrix.Declaration
	output     chan<- string
}

func (s *agentSandbox) repoDir() string {
	repoDir := s.repository[strings.LastIndex(s.repository, "/")+1:]
	return strings.TrimSuffix(repoDir, ".git")
}

func (s *agentSandbox) Build(ctx context.Context, run *store.Run) (io.ReadCloser, error) {
	s.output <- fmt.Sprintf("Executing build command '%s'\n", s.decl.Build.Command)
	if err := s.streamCommand(
		ctx,
		fmt.Sprintf("cd %s && cd %s && cd %s && %s", s.workspace, s.workdir, s.repoDir(), s.decl.Build.Command),
	); err != nil {
		if _, ok := err.(RunCancelError); ok {
			return nil, err
		}
		return nil, BuildError{Err: err}
	}

	sftpClient, err := sftp.NewClient(s.client)
	if err != nil {
		return nil, BuildError{Err: err}
	}
	f, err := sftpClient.Open(
		path.Join(s.workspace, s.workdir, s.repoDir(), s.decl.Build.Artifact),
	)
	if err != nil {
		sftpClient.Close()
		return nil, BuildError{Err: err}
	}
	return &sftpFile{File: f, client: sftpClient}, nil
}

// sftpFile closes the sftp session along with the remote file.
type sftpFile struct {
	*sftp.File
	client *sftp.Client
}

func (f *sftpFile) Close() error {
	err := f.File.Close()
	if cerr := f.client.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *agentSandbox) RunJob(
	ctx context.Context,
	spec matrix.JobSpec,
	art io.Reader,
) (*SandboxResult, error) {
	jobDir := path.Join(s.workspace, s.workdir, "jobs", spec.Name)
	artifactPath := path.Join(jobDir, "artifact")

	sftpClient, err := sftp.NewClient(s.client)
	if err != nil {
		return nil, err
	}
	defer sftpClient.Close()
	// the job timeout bounds the transfers too: closing the client fails a
	// stalled staging or coverage read instead of outliving the deadline
	stop := context.AfterFunc(ctx, func() { sftpClient.Close() })
	defer stop()

	// stage the artifact into the job's own directory so jobs never share
	// mutable state
	if err := sftpClient.MkdirAll(jobDir); err != nil {
		return nil, err
	}
	remote, err := sftpClient.Create(artifactPath)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(remote, art); err != nil {
		remote.Close()
		return nil, err
	}
	if err := remote.Close(); err != nil {
		return nil, err
	}

	s.output <- fmt.Sprintf("  |  Executing job '%s'\n", spec.Name)
	cmd := fmt.Sprintf(
		"cd %s && cd %s && cd %s && %s %s %s",
		s.workspace, s.workdir, s.repoDir(),
		s.decl.Test.Command, spec.Name, artifactPath,
	)
	passed := true
	if err := s.streamCommand(ctx, cmd); err != nil {
		if _, ok := err.(RunCancelError); ok {
			return nil, err
		}
		var exitErr *ssh.ExitError
		if !errors.As(err, &exitErr) {
			return nil, err
		}
		// non-zero exit means the test unit failed, not that the job
		// could not run; coverage is still collected below
		passed = false
	}

	coverage, err := readRemoteFile(sftpClient, path.Join(jobDir, s.decl.Test.Coverage))
	if err != nil {
		return nil, fmt.Errorf("err reading coverage for job '%s': %w", spec.Name, err)
	}

	return &SandboxResult{Passed: passed, Coverage: coverage}, nil
}

func (s *agentSandbox) Close() error {
	return s.client.Close()
}

func readRemoteFile(sftpClient *sftp.Client, remotePath string) ([]byte, error) {
	remoteFile, err := sftpClient.Open(remotePath)
	if err != nil {
		return nil, err
	}
	defer remoteFile.Close()
	return io.ReadAll(remoteFile)
}

// commandSession is the slice of *ssh.Session that streamSession drives.
type commandSession interface {
	StdoutPipe() (io.Reader, error)
	StderrPipe() (io.Reader, error)
	Start(cmd string) error
	Wait() error
	Signal(sig ssh.Signal) error
	Close() error
}

// streamCommand runs the command in a new session, scanning stdout/stderr to
// the run output until it finishes, the context is cancelled or times out.
func (s *agentSandbox) streamCommand(ctx context.Context, cmd string) error {
	sess, err := s.client.NewSession()
	if err != nil {
		return err
	}
	return streamSession(ctx, sess, cmd, s.output)
}

func streamSession(ctx context.Context, sess commandSession, cmd string, output chan<- string) error {
	defer sess.Close()
	stdout, err := sess.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		return err
	}

	doneCh := make(chan error, 1)
	go func() {
		if err := sess.Start(cmd); err != nil {
			doneCh <- errors.Join(fmt.Errorf("err starting command %s", cmd), err)
			return
		}

		var wg sync.WaitGroup
		wg.Go(func() {
			scanner := bufio.NewScanner(stdout)
			for scanner.Scan() {
				output <- scanner.Text() + "\n"
			}
		})
		wg.Go(func() {
			scanner := bufio.NewScanner(stderr)
			for scanner.Scan() {
				output <- scanner.Text() + "\n"
			}
		})

		err := sess.Wait()
		wg.Wait()
		doneCh <- err
	}()

	select {
	case <-ctx.Done():
		sess.Signal(ssh.SIGINT)
		// closing the session forces pipe EOF; the scanners must have
		// stopped sending before the run output channel can be closed
		sess.Close()
		<-doneCh
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ctx.Err()
		}
		return RunCancelError{Message: fmt.Sprintf("command '%s' was cancelled", cmd)}
	case err := <-doneCh:
		return err
	}
}

func connectSSH(username, hostname string, privateKey []byte) (*ssh.Client, error) {
	signer, err := ssh.ParsePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	auth := ssh.PublicKeys(signer)
	cc := &ssh.ClientConfig{
		User:            username,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}

	split := strings.Split(hostname, ":")
	if len(split) == 1 {
		hostname += ":22"
	}
	return ssh.Dial("tcp", hostname, cc)
}

func runCommand(
	ctx context.Context,
	client *ssh.Client,
	command string,
	timeout time.Duration,
) (string, string, error) {
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	sess, err := client.NewSession()
	if err != nil {
		log.Println("err creating new session: ", err)
		return "", "", err
	}
	defer sess.Close()
	sess.Stdout = stdout
	sess.Stderr = stderr

	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	doneCh := make(chan error, 1)

	go func() {
		doneCh <- sess.Run(command)
	}()

	select {
	case <-ctxTimeout.Done():
		if ctx.Err() != nil {
			sess.Signal(ssh.SIGINT)
			return "", "", RunCancelError{
				Message: fmt.Sprintf("command '%s' was cancelled", command),
			}
		}
		return "", "", fmt.Errorf(
			"command '%s' timeout after %d seconds",
			command,
			int(timeout.Seconds()),
		)
	case err := <-doneCh:
		if err != nil {
			return "", "", err
		}
		return stdout.String(), stderr.String(), nil
	}
}
