package simulator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog/log"
)

const (
	readinessInterval  = 1 * time.Second
	readinessTimeout   = 30 * time.Second
	stabilizationPause = 2 * time.Second
	shutdownWait       = 5 * time.Second
	forkBlockOffset    = 2
	portProbeRange     = 100
	sandboxGasLimit    = 30000000
)

// ErrSandboxNotReady is returned when the sandbox does not answer RPC within
// the readiness timeout. Fatal to the simulator stage.
var ErrSandboxNotReady = errors.New("simulator: sandbox not ready")

// SandboxConfig holds launch settings for the forked EVM subprocess.
type SandboxConfig struct {
	Binary      string
	Host        string
	BasePort    int
	Accounts    int
	BalanceAVAX int64
	ForkURL     string
}

// Sandbox owns the forked EVM subprocess: launch, readiness, reset, teardown.
// State between bundles is disposable and repinned by Reset.
type Sandbox struct {
	cfg SandboxConfig

	mu        sync.Mutex
	cmd       *exec.Cmd
	port      int
	forkBlock uint64
	client    *rpc.Client
	exited    chan struct{}
}

// NewSandbox creates an unstarted sandbox.
func NewSandbox(cfg SandboxConfig) *Sandbox {
	return &Sandbox{cfg: cfg}
}

// Start probes a free port, launches the subprocess pinned to head-2, and
// waits for RPC readiness. Startup failures are fatal to the caller.
func (s *Sandbox) Start(ctx context.Context, headBlock uint64) error {
	port, err := probePort(s.cfg.Host, s.cfg.BasePort)
	if err != nil {
		return err
	}

	forkBlock := headBlock - forkBlockOffset

	args := []string{
		"--fork-url", s.cfg.ForkURL,
		"--fork-block-number", strconv.FormatUint(forkBlock, 10),
		"--port", strconv.Itoa(port),
		"--host", s.cfg.Host,
		"--accounts", strconv.Itoa(s.cfg.Accounts),
		"--balance", strconv.FormatInt(s.cfg.BalanceAVAX, 10),
		"--gas-limit", strconv.Itoa(sandboxGasLimit),
		"--gas-price", "0",
		"--base-fee", "0",
		"--auto-impersonate",
	}

	cmd := exec.Command(s.cfg.Binary, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launching sandbox %s: %w", s.cfg.Binary, err)
	}

	exited := make(chan struct{})
	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		s.cmd = nil
		s.mu.Unlock()
		close(exited)
		if err != nil {
			log.Warn().Err(err).Msg("Sandbox process exited")
		}
	}()

	s.mu.Lock()
	s.cmd = cmd
	s.port = port
	s.forkBlock = forkBlock
	s.exited = exited
	s.mu.Unlock()

	log.Info().
		Int("port", port).
		Uint64("fork_block", forkBlock).
		Int("pid", cmd.Process.Pid).
		Msg("Sandbox launched")

	if err := s.waitReady(ctx); err != nil {
		s.Stop()
		return err
	}

	// Empirical stabilization before accepting work.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(stabilizationPause):
	}

	return nil
}

// waitReady polls eth_blockNumber until the sandbox answers or the timeout
// elapses.
func (s *Sandbox) waitReady(ctx context.Context) error {
	deadline := time.Now().Add(readinessTimeout)
	for time.Now().Before(deadline) {
		client, err := rpc.DialContext(ctx, s.Endpoint())
		if err == nil {
			var result string
			callCtx, cancel := context.WithTimeout(ctx, readinessInterval)
			err = client.CallContext(callCtx, &result, "eth_blockNumber")
			cancel()
			if err == nil {
				s.mu.Lock()
				s.client = client
				s.mu.Unlock()
				log.Info().Str("block", result).Msg("Sandbox ready")
				return nil
			}
			client.Close()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readinessInterval):
		}
	}
	return ErrSandboxNotReady
}

// Endpoint returns the sandbox's HTTP JSON-RPC URL.
func (s *Sandbox) Endpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("http://%s:%d", s.cfg.Host, s.port)
}

// Running reports whether the subprocess is alive.
func (s *Sandbox) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmd != nil
}

// Reset repins the fork to a fresh block and re-funds the test account.
// Required between bundles to avoid state pollution across simulations.
func (s *Sandbox) Reset(ctx context.Context, headBlock uint64, account common.Address, balanceWei *big.Int) error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return ErrSandboxNotReady
	}

	forkBlock := headBlock - forkBlockOffset
	params := map[string]interface{}{
		"forking": map[string]interface{}{
			"jsonRpcUrl":  s.cfg.ForkURL,
			"blockNumber": forkBlock,
		},
	}
	if err := client.CallContext(ctx, nil, "anvil_reset", params); err != nil {
		return fmt.Errorf("anvil_reset: %w", err)
	}

	if err := client.CallContext(ctx, nil, "anvil_setBalance", account, hexutil.EncodeBig(balanceWei)); err != nil {
		return fmt.Errorf("anvil_setBalance: %w", err)
	}

	s.mu.Lock()
	s.forkBlock = forkBlock
	s.mu.Unlock()

	log.Debug().Uint64("fork_block", forkBlock).Msg("Sandbox reset")
	return nil
}

// Stop sends a termination signal and waits up to 5 seconds for exit before
// abandoning the subprocess.
func (s *Sandbox) Stop() {
	s.mu.Lock()
	cmd := s.cmd
	client := s.client
	exited := s.exited
	s.client = nil
	s.mu.Unlock()

	if client != nil {
		client.Close()
	}
	if cmd == nil {
		return
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		log.Warn().Err(err).Msg("Failed to signal sandbox")
		return
	}

	select {
	case <-exited:
		log.Info().Msg("Sandbox stopped")
	case <-time.After(shutdownWait):
		log.Warn().Msg("Sandbox did not exit in time, abandoning")
	}
}

// probePort finds a free TCP port by bind-and-release, incrementing from the
// base on collision.
func probePort(host string, base int) (int, error) {
	for port := base; port < base+portProbeRange; port++ {
		l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			continue
		}
		l.Close()
		return port, nil
	}
	return 0, fmt.Errorf("no free port in [%d, %d)", base, base+portProbeRange)
}
