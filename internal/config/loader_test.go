package config_test

import (
	"slices"
	"strings"
	"testing"

	"github.com/vdrs/dykscribe/internal/config"
)

// mustFail loads yaml and asserts that validation rejects it with an error
// mentioning every fragment.
func mustFail(t *testing.T, yaml string, fragments ...string) {
	t.Helper()
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatalf("expected validation error, got nil")
	}
	for _, fragment := range fragments {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("error should mention %q, got: %v", fragment, err)
		}
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	mustFail(t, `
log_level: verbose
providers:
  llm:
    - name: mock
`, "log_level")
}

func TestValidate_DuplicateProviderNames(t *testing.T) {
	t.Parallel()
	mustFail(t, `
providers:
  llm:
    - name: openai
    - name: openai
`, "duplicate")
}

func TestValidate_ProviderNameRequired(t *testing.T) {
	t.Parallel()
	mustFail(t, `
providers:
  llm:
    - name: mock
  stt:
    - model: whisper-1
`, "providers.stt[0].name is required")
}

func TestValidate_LLMChainRequired(t *testing.T) {
	t.Parallel()
	mustFail(t, `
providers:
  stt:
    - name: whisper
`, "providers.llm")
}

func TestValidate_InvalidStorageDriver(t *testing.T) {
	t.Parallel()
	mustFail(t, `
storage:
  driver: mysql
  dsn: root@localhost/dykscribe
providers:
  llm:
    - name: mock
`, "storage.driver")
}

func TestValidate_CatalogFileNeedsPath(t *testing.T) {
	t.Parallel()
	mustFail(t, `
catalog:
  source: file
  path: ""
providers:
  llm:
    - name: mock
`, "catalog.path")
}

func TestValidate_CatalogSQLNeedsDSNWithoutPostgres(t *testing.T) {
	t.Parallel()
	mustFail(t, `
catalog:
  source: sql
providers:
  llm:
    - name: mock
`, "catalog.dsn")
}

func TestValidate_CatalogSQLReusesPostgresStorage(t *testing.T) {
	t.Parallel()
	yaml := `
storage:
  driver: postgres
  dsn: postgres://localhost:5432/dykscribe
catalog:
  source: sql
providers:
  llm:
    - name: mock
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_TLSNeedsBothFiles(t *testing.T) {
	t.Parallel()
	mustFail(t, `
server:
  listen_addr: ":8443"
  tls:
    cert_file: /etc/dykscribe/tls.crt
providers:
  llm:
    - name: mock
`, "server.tls.key_file")
}

func TestValidate_NegativeLimit(t *testing.T) {
	t.Parallel()
	mustFail(t, `
limits:
  max_audio_bytes: -1
providers:
  llm:
    - name: mock
`, "limits")
}

func TestValidate_NegativeRetryAttempts(t *testing.T) {
	t.Parallel()
	mustFail(t, `
retry:
  max_attempts: -1
providers:
  llm:
    - name: mock
`, "retry.max_attempts")
}

func TestValidate_TemperatureOutOfRange(t *testing.T) {
	t.Parallel()
	mustFail(t, `
structuring:
  temperature: 3.5
providers:
  llm:
    - name: mock
`, "structuring.temperature")
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	// One pass reports every problem, not just the first.
	mustFail(t, `
log_level: verbose
storage:
  driver: mysql
  dsn: root@localhost/dykscribe
`, "log_level", "storage.driver", "providers.llm")
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	if len(config.ValidProviderNames) == 0 {
		t.Fatal("ValidProviderNames should not be empty")
	}
	if !slices.Contains(config.ValidProviderNames["llm"], "openai") {
		t.Error(`ValidProviderNames["llm"] should contain "openai"`)
	}
	if !slices.Contains(config.ValidProviderNames["stt"], "whisper") {
		t.Error(`ValidProviderNames["stt"] should contain "whisper"`)
	}
}
