//go:build e2e

package e2e

import (
	"bytes"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

// bridgeServer manages a running erpbridge server process.
type bridgeServer struct {
	cmd     *exec.Cmd
	dataDir string
	address string
	dbPath  string
	logFile string
	env     []string
}

// startBridge launches the erpbridge binary and waits for it to become
// healthy. The bridge is configured entirely via environment variables;
// extraEnv entries ("KEY=value") are appended last and win over the base
// set, so tests can point the process at a stub ERP endpoint or shorten
// worker intervals.
func startBridge(t *testing.T, extraEnv ...string) *bridgeServer {
	t.Helper()

	if bridgeBin == "" {
		t.Skip("erpbridge binary not available")
	}

	dataDir := t.TempDir()
	port := freePort(t)
	address := fmt.Sprintf("127.0.0.1:%d", port)
	dbPath := filepath.Join(dataDir, "bridge.db")
	logFile := filepath.Join(dataDir, "erpbridge.log")

	env := append(os.Environ(),
		"ERPBRIDGE_PORT="+fmt.Sprintf("%d", port),
		"ERPBRIDGE_DB_PATH="+dbPath,
		"ERPBRIDGE_CONFIG_PATH="+filepath.Join(dataDir, "nonexistent.yaml"), // skip YAML file
		"ERPBRIDGE_DEV_MODE=true", // bypass ERP/auth credential validation
		"ERPBRIDGE_ERP_URL=",
		"ERPBRIDGE_ERP_SID=",
		"ERPBRIDGE_TOKEN_SECRET=",
	)
	env = append(env, extraEnv...)

	cmd := exec.Command(bridgeBin)
	cmd.Env = env

	lf, err := os.Create(logFile)
	if err != nil {
		t.Fatalf("create log file: %v", err)
	}
	cmd.Stdout = lf
	cmd.Stderr = lf

	if err := cmd.Start(); err != nil {
		lf.Close()
		t.Fatalf("start erpbridge: %v", err)
	}

	s := &bridgeServer{
		cmd:     cmd,
		dataDir: dataDir,
		address: address,
		dbPath:  dbPath,
		logFile: logFile,
		env:     extraEnv,
	}

	t.Cleanup(func() {
		s.stop()
		lf.Close()
	})

	if err := s.waitHealthy(10 * time.Second); err != nil {
		t.Fatalf("erpbridge not healthy: %v", err)
	}

	return s
}

func (s *bridgeServer) stop() {
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Signal(os.Interrupt)
		_ = s.cmd.Wait()
	}
}

func (s *bridgeServer) baseURL() string {
	return fmt.Sprintf("http://%s", s.address)
}

func (s *bridgeServer) waitHealthy(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	url := fmt.Sprintf("%s/api/v1/health", s.baseURL())

	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("erpbridge not healthy after %s", timeout)
}

// restartOnSameData stops the server and starts a new one using the same
// data directory, with the same extra environment. Returns a new
// bridgeServer with a new port but the same persisted store.
func (s *bridgeServer) restartOnSameData(t *testing.T) *bridgeServer {
	t.Helper()

	s.stop()
	time.Sleep(200 * time.Millisecond) // allow port release

	port := freePort(t)
	address := fmt.Sprintf("127.0.0.1:%d", port)
	logFile := filepath.Join(s.dataDir, "erpbridge-restart.log")

	env := append(os.Environ(),
		"ERPBRIDGE_PORT="+fmt.Sprintf("%d", port),
		"ERPBRIDGE_DB_PATH="+s.dbPath,
		"ERPBRIDGE_CONFIG_PATH="+filepath.Join(s.dataDir, "nonexistent.yaml"),
		"ERPBRIDGE_DEV_MODE=true",
		"ERPBRIDGE_ERP_URL=",
		"ERPBRIDGE_ERP_SID=",
		"ERPBRIDGE_TOKEN_SECRET=",
	)
	env = append(env, s.env...)

	cmd := exec.Command(bridgeBin)
	cmd.Env = env

	lf, err := os.Create(logFile)
	if err != nil {
		t.Fatalf("create restart log file: %v", err)
	}
	cmd.Stdout = lf
	cmd.Stderr = lf

	if err := cmd.Start(); err != nil {
		lf.Close()
		t.Fatalf("restart erpbridge: %v", err)
	}

	newSrv := &bridgeServer{
		cmd:     cmd,
		dataDir: s.dataDir,
		address: address,
		dbPath:  s.dbPath,
		logFile: logFile,
		env:     s.env,
	}

	t.Cleanup(func() {
		newSrv.stop()
		lf.Close()
	})

	if err := newSrv.waitHealthy(10 * time.Second); err != nil {
		t.Fatalf("restarted erpbridge not healthy: %v", err)
	}

	return newSrv
}

// runCLI executes the same binary as a one-shot subcommand (e.g.
// "sync outbound --json") against the server's data directory and ERP
// environment. Only stdout is returned; log lines go to stderr and are
// folded into the error when the command fails. The server should be
// stopped first when the command writes to the store.
func (s *bridgeServer) runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := exec.Command(bridgeBin, args...)
	env := append(os.Environ(),
		"ERPBRIDGE_DB_PATH="+s.dbPath,
		"ERPBRIDGE_CONFIG_PATH="+filepath.Join(s.dataDir, "nonexistent.yaml"),
		"ERPBRIDGE_DEV_MODE=true",
		"ERPBRIDGE_ERP_URL=",
		"ERPBRIDGE_ERP_SID=",
		"ERPBRIDGE_TOKEN_SECRET=",
	)
	env = append(env, s.env...)
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("%w\nstderr: %s", err, stderr.String())
	}
	return stdout.String(), nil
}

// freePort returns a free TCP port.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
