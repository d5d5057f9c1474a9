// Copyright 2026 The MachineRancher Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rancher.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

const minimalConfig = `
mqtt:
  address: 10.0.0.5
server:
  listen: :8181
printer:
  log_dir: /var/log/rancher
`

func TestLoadFileAppliesDefaults(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.MQTT.Port != 1883 {
		t.Errorf("mqtt.port = %d, want default 1883", cfg.MQTT.Port)
	}
	if cfg.MQTT.DiscoveryWindow != time.Second {
		t.Errorf("discovery_window = %v, want 1s", cfg.MQTT.DiscoveryWindow)
	}
	if cfg.Server.MaxSessions != 16 {
		t.Errorf("max_sessions = %d, want 16", cfg.Server.MaxSessions)
	}
	if cfg.Server.StatusInterval != 5*time.Second {
		t.Errorf("status_interval = %v, want 5s", cfg.Server.StatusInterval)
	}
	if cfg.Printer.TempTolerance != 7.5 {
		t.Errorf("temp_tolerance = %v, want 7.5", cfg.Printer.TempTolerance)
	}
	if cfg.Printer.VisChunks != 10 {
		t.Errorf("vis_chunks = %d, want 10", cfg.Printer.VisChunks)
	}
}

func TestLoadFileOverrides(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, `
mqtt:
  address: broker.local
  port: 8883
  username: rancher
  password: secret
server:
  listen: 0.0.0.0:9090
  max_sessions: 4
printer:
  log_dir: /tmp/prints
  sample_interval: 500ms
  temp_tolerance: 3.0
`))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.MQTT.Port != 8883 {
		t.Errorf("mqtt.port = %d, want 8883", cfg.MQTT.Port)
	}
	if cfg.Server.MaxSessions != 4 {
		t.Errorf("max_sessions = %d, want 4", cfg.Server.MaxSessions)
	}
	if cfg.Printer.SampleInterval != 500*time.Millisecond {
		t.Errorf("sample_interval = %v, want 500ms", cfg.Printer.SampleInterval)
	}
}

func TestLoadFileMissingRequired(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing mqtt address",
			content: `
server:
  listen: :8181
printer:
  log_dir: /var/log/rancher
`,
			wantErr: "mqtt.address is required",
		},
		{
			name: "missing listen",
			content: `
mqtt:
  address: 10.0.0.5
printer:
  log_dir: /var/log/rancher
`,
			wantErr: "server.listen is required",
		},
		{
			name: "missing log dir",
			content: `
mqtt:
  address: 10.0.0.5
server:
  listen: :8181
`,
			wantErr: "printer.log_dir is required",
		},
		{
			name: "bad port",
			content: `
mqtt:
  address: 10.0.0.5
  port: 700000
server:
  listen: :8181
printer:
  log_dir: /var/log/rancher
`,
			wantErr: "out of range",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadRequiresEnvVar(t *testing.T) {
	t.Setenv("RANCHER_CONFIG", "")
	os.Unsetenv("RANCHER_CONFIG")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when RANCHER_CONFIG is unset")
	}
}
