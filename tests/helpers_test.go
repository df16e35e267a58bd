// Package e2e implements end-to-end integration tests for the gateway
// data plane.
//
// The test exercises the full data flow:
//
//	etcd (config source, written directly by the test) → Gateway binary (proxy) → upstream mock
//
// The gateway is compiled and run as a real binary (pure black-box).
// Infrastructure (etcd + Consul) is started via testcontainers.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// ══════════════════════════════════════════════════════════
//  Infrastructure Helpers
// ══════════════════════════════════════════════════════════

func startEtcd(t *testing.T, ctx context.Context) (*clientv3.Client, string, func()) {
	t.Helper()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "quay.io/coreos/etcd:v3.5.17",
			ExposedPorts: []string{"2379/tcp"},
			Env: map[string]string{
				"ETCD_ADVERTISE_CLIENT_URLS": "http://0.0.0.0:2379",
				"ETCD_LISTEN_CLIENT_URLS":    "http://0.0.0.0:2379",
			},
			WaitingFor: wait.ForLog("ready to serve client requests").
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "2379")
	require.NoError(t, err)

	endpoint := fmt.Sprintf("http://%s:%s", host, port.Port())

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{endpoint},
		DialTimeout: 5 * time.Second,
	})
	require.NoError(t, err)

	return client, endpoint, func() {
		client.Close()
		container.Terminate(ctx)
	}
}

func startConsul(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "hashicorp/consul:1.16",
			ExposedPorts: []string{"8500/tcp"},
			Cmd:          []string{"agent", "-dev", "-client=0.0.0.0"},
			WaitingFor: wait.ForHTTP("/v1/status/leader").
				WithPort("8500/tcp").
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "8500")
	require.NoError(t, err)
	addr := fmt.Sprintf("http://%s:%s", host, port.Port())
	return addr, func() { container.Terminate(ctx) }
}

// ══════════════════════════════════════════════════════════
//  API Response Helpers
// ══════════════════════════════════════════════════════════

func readJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m), "body: %s", string(b))
	return m
}

// ══════════════════════════════════════════════════════════
//  Binary Builder
// ══════════════════════════════════════════════════════════

func projectRoot(t *testing.T) string {
	t.Helper()
	_, f, _, _ := runtime.Caller(0)
	return filepath.Dir(filepath.Dir(f))
}

func buildGateway(t *testing.T) string {
	t.Helper()
	root := projectRoot(t)
	gwDir := filepath.Join(root, "gateway")
	bin := filepath.Join(gwDir, "hermes-gateway")
	cmd := exec.Command("go", "build", "-o", bin, "./cmd/gateway")
	cmd.Dir = gwDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	require.NoError(t, cmd.Run(), "failed to build gateway")
	require.FileExists(t, bin)
	return bin
}

// ══════════════════════════════════════════════════════════
//  Gateway Process Helper
// ══════════════════════════════════════════════════════════

type gatewayProc struct {
	cmd       *exec.Cmd
	proxyAddr string
	adminAddr string
	configDir string
}

func startGatewayProc(t *testing.T, gwBin, configPath, listenAddr, adminAddr string) *gatewayProc {
	t.Helper()
	cmd := exec.Command(gwBin, "-c", configPath, "-l", listenAddr, "--admin-listen", adminAddr)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	require.NoError(t, cmd.Start())
	return &gatewayProc{cmd: cmd, proxyAddr: listenAddr, adminAddr: adminAddr}
}

func (g *gatewayProc) stop() {
	if g.cmd.Process != nil {
		g.cmd.Process.Signal(os.Interrupt)
		done := make(chan error, 1)
		go func() { done <- g.cmd.Wait() }()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			g.cmd.Process.Kill()
		}
	}
}

func (g *gatewayProc) waitReady(t *testing.T, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get("http://" + g.adminAddr + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == 200 {
				return
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("gateway did not become healthy within %v", timeout)
}

func writeGatewayConfig(t *testing.T, dir string, etcdEndpoint, consulAddr string, instanceRegistryEnabled bool) string {
	t.Helper()
	cfg := fmt.Sprintf(`[consul]
address = "%s"
poll_interval_secs = 2

[etcd]
endpoints = ["%s"]
domain_prefix = "/hermes/domains"
cluster_prefix = "/hermes/clusters"
meta_prefix = "/hermes/meta"

[instance_registry]
enabled = %t
prefix = "/hermes/instances"
lease_ttl_secs = 10
`, consulAddr, etcdEndpoint, instanceRegistryEnabled)

	path := filepath.Join(dir, "gateway-test.toml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0644))
	return path
}

// ══════════════════════════════════════════════════════════
//  Upstream Mock
// ══════════════════════════════════════════════════════════

func startUpstreamMock(t *testing.T) (string, int, func()) {
	t.Helper()
	var counter atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		n := counter.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Upstream-Id", "mock")
		json.NewEncoder(w).Encode(map[string]any{
			"message":    "hello from upstream",
			"path":       r.URL.Path,
			"host":       r.Host,
			"method":     r.Method,
			"request_id": n,
		})
	})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: mux}
	go srv.Serve(ln)
	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port, func() { srv.Close() }
}

// ══════════════════════════════════════════════════════════
//  Consul Helpers
// ══════════════════════════════════════════════════════════

func consulRegisterService(t *testing.T, consulAddr, name, host string, port int, meta map[string]string) {
	t.Helper()
	body := map[string]any{
		"ID":      fmt.Sprintf("%s-%s-%d", name, host, port),
		"Name":    name,
		"Address": host,
		"Port":    port,
		"Meta":    meta,
	}
	b, _ := json.Marshal(body)
	req, err := http.NewRequest("PUT", consulAddr+"/v1/agent/service/register", bytes.NewReader(b))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, "consul register failed")
	resp.Body.Close()
}

func consulDeregisterService(t *testing.T, consulAddr, serviceID string) {
	t.Helper()
	req, _ := http.NewRequest("PUT", consulAddr+"/v1/agent/service/deregister/"+serviceID, nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
}

// ══════════════════════════════════════════════════════════
//  Networking Helpers
// ══════════════════════════════════════════════════════════

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}
