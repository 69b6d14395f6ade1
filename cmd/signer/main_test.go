package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"signing-relay/config"
	"signing-relay/internal/adapter/tcp"
	"signing-relay/internal/canonical"
	"signing-relay/internal/core/domain"
	"signing-relay/internal/core/ports/mocks"
	"signing-relay/internal/service"
	"signing-relay/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// HMAC-SHA256("testsecret", canonical order string)
const orderSignature = "974db40465925ce515b2dfa53482e7009505dca00bc170e5b7be78fe9482fef9"

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Signer: config.SignerConfig{
			Host:           "127.0.0.1",
			Port:           freePort(t),
			Allowlist:      []string{"127.0.0.1"},
			MaxMessageSize: 256,
			ReadTimeout:    time.Second,
			WriteTimeout:   time.Second,
			Framing:        "length-prefixed",
			FailureBackoff: 10 * time.Millisecond,
		},
		Vault: config.VaultConfig{Path: filepath.Join(dir, "constants")},
		Audit: config.AuditConfig{Dir: filepath.Join(dir, "log"), MaxSizeMB: 1, MaxBackups: 1},
		Admin: config.AdminConfig{Host: "127.0.0.1", Allowlist: []string{"127.0.0.1"}},
	}
}

func orderParams() canonical.Params {
	return canonical.Params{
		{Key: "symbol", Value: "BTCUSDT"},
		{Key: "side", Value: "BUY"},
		{Key: "type", Value: "LIMIT_MAKER"},
		{Key: "quantity", Value: "0.001"},
		{Key: "price", Value: "50000"},
		{Key: "timestamp", Value: "1690000000000"},
	}
}

func TestRunServe_ProvisionThenServe(t *testing.T) {
	ctrl := gomock.NewController(t)
	cfg := testConfig(t)
	cfg.Admin.Enabled = true
	cfg.Admin.Port = freePort(t)

	// First launch: provision and stop.
	prompter := mocks.NewMockPasswordPrompter(ctrl)
	gomock.InOrder(
		prompter.EXPECT().PromptPassword("Secret: ").Return("testsecret", nil),
		prompter.EXPECT().PromptPassword("Password: ").Return("hunter2", nil),
		prompter.EXPECT().PromptPassword("Confirm password: ").Return("hunter2", nil),
	)

	var out bytes.Buffer
	require.NoError(t, runServe(context.Background(), cfg, prompter, &out, zerolog.Nop()))
	assert.Contains(t, out.String(), "Relaunch")

	record, err := service.ReadVaultFile(cfg.Vault.Path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(record, "$srv$v=2$"))
	assert.NotContains(t, record, "testsecret")

	// Second launch: open and serve.
	prompter.EXPECT().PromptPassword("Password: ").Return("hunter2", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServe(ctx, cfg, prompter, &out, zerolog.Nop()) }()

	client := tcp.NewClient(tcp.ClientConfig{
		Addr:           cfg.Signer.Addr(),
		DialTimeout:    time.Second,
		IOTimeout:      2 * time.Second,
		Framing:        tcp.FramingLengthPrefixed,
		MaxMessageSize: 256,
	})
	require.Eventually(t, func() bool {
		_, err := client.Ping(context.Background())
		return err == nil
	}, 10*time.Second, 20*time.Millisecond)

	sig, err := client.RequestSignature(context.Background(), orderParams())
	require.NoError(t, err)
	assert.Equal(t, orderSignature, sig)

	var stats struct {
		Data struct {
			Served uint64 `json:"served"`
		} `json:"data"`
	}
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.Admin.Addr() + "/v1/stats")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK && json.NewDecoder(resp.Body).Decode(&stats) == nil && stats.Data.Served == 1
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("signer did not stop after cancellation")
	}

	files, err := filepath.Glob(filepath.Join(cfg.Audit.Dir, "*.json"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	events, err := service.ReadAuditFile(files[0])
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, domain.AuditKindStart, events[0].Kind)
	assert.Equal(t, domain.AuditKindStop, events[len(events)-1].Kind)

	var kinds []domain.AuditKind
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Contains(t, kinds, domain.AuditKindServe)
	assert.NotContains(t, kinds, domain.AuditKindError, "connectivity checks are not failures")
}

func TestRunServe_WrongPassword(t *testing.T) {
	ctrl := gomock.NewController(t)
	cfg := testConfig(t)

	record, err := service.NewVaultService(service.WithKDFParams(1, 1024, 1)).CreateVault([]byte("testsecret"), "hunter2")
	require.NoError(t, err)
	require.NoError(t, service.WriteVaultFile(cfg.Vault.Path, record))

	prompter := mocks.NewMockPasswordPrompter(ctrl)
	prompter.EXPECT().PromptPassword("Password: ").Return("wrong", nil)

	err = runServe(context.Background(), cfg, prompter, &bytes.Buffer{}, zerolog.Nop())
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeVaultAuthFailed))

	_, statErr := os.Stat(cfg.Audit.Dir)
	assert.True(t, os.IsNotExist(statErr), "nothing is served or audited without the secret")
}

func TestRunServe_PasswordMismatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	cfg := testConfig(t)

	prompter := mocks.NewMockPasswordPrompter(ctrl)
	prompter.EXPECT().PromptPassword("Secret: ").Return("testsecret", nil)
	prompter.EXPECT().PromptPassword("Password: ").Return("one", nil)
	prompter.EXPECT().PromptPassword("Confirm password: ").Return("two", nil)

	err := runServe(context.Background(), cfg, prompter, &bytes.Buffer{}, zerolog.Nop())
	assert.True(t, apperror.HasCode(err, apperror.CodePasswordMismatch))

	_, statErr := os.Stat(cfg.Vault.Path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestAuditCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.json")
	f, err := os.Create(path)
	require.NoError(t, err)

	audit := service.NewAuditService(f, nil, zerolog.Nop())
	audit.Append(context.Background(), domain.NewAuditEvent(domain.AuditKindConnect, nil, "10.0.0.9:4000", "Connection from: 10.0.0.9:4000"))
	audit.Append(context.Background(), domain.NewAuditEvent(domain.AuditKindReject, nil, "10.0.0.9:4000", "Source 10.0.0.9:4000 is not allowlisted"))
	require.NoError(t, audit.Close())

	t.Run("all events", func(t *testing.T) {
		var out bytes.Buffer
		cmd := newRootCmd()
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"audit", path})
		require.NoError(t, cmd.Execute())

		lines := strings.Split(strings.TrimSpace(out.String()), "\n")
		require.Len(t, lines, 2)
		assert.Contains(t, lines[0], "CONNECT")
		assert.Contains(t, lines[1], "REJECT")
		assert.Contains(t, lines[1], "not allowlisted")
	})

	t.Run("filtered by kind", func(t *testing.T) {
		var out bytes.Buffer
		cmd := newRootCmd()
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"audit", path, "--kind", "REJECT"})
		require.NoError(t, cmd.Execute())

		assert.NotContains(t, out.String(), "CONNECT")
		assert.Contains(t, out.String(), "REJECT")
	})

	t.Run("missing file", func(t *testing.T) {
		cmd := newRootCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetArgs([]string{"audit", filepath.Join(t.TempDir(), "nope.json")})
		assert.Error(t, cmd.Execute())
	})
}
