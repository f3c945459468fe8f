package clickhouse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildDSN(t *testing.T) {
	cfg := ClientConfig{Host: "ch", Port: 9000, Database: "transitwatch", User: "default", Password: "pw"}
	assert.Equal(t, "clickhouse://default:pw@ch:9000/transitwatch", buildDSN(cfg))

	cfg.UseHTTP = true
	cfg.Port = 8123
	cfg.DialTimeout = 5 * time.Second
	cfg.MaxExecTime = 90 * time.Second
	cfg.AsyncInsert = true
	cfg.WaitForAsync = true
	assert.Equal(t,
		"clickhouse+http://default:pw@ch:8123/transitwatch?dial_timeout=5s&max_execution_time=90&async_insert=1&wait_for_async_insert=1",
		buildDSN(cfg))
}

func TestOptions(t *testing.T) {
	cfg := defaultClientConfig()
	for _, opt := range []ClientOption{
		WithAddress("db", 9440),
		WithDatabase("alerts"),
		WithCredentials("u", "p"),
		WithPool(8, 20, 0),
		WithTimeouts(time.Second, 2*time.Second, 0, 0),
		WithAsyncInsert(false, true),
	} {
		opt(&cfg)
	}
	assert.Equal(t, "db", cfg.Host)
	assert.Equal(t, 9440, cfg.Port)
	assert.Equal(t, 8, cfg.MaxOpenConns)
	assert.Equal(t, 8, cfg.MaxIdleConns, "idle is capped at open")
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxLifetime)
	assert.Equal(t, 10*time.Second, cfg.WriteTimeout)
	assert.False(t, cfg.WaitForAsync)
	assert.Equal(t, "clickhouse://u:p@db:9440/alerts?dial_timeout=1s&read_timeout=2s", buildDSN(cfg))

	WithAddress("other", 0)(&cfg)
	WithDatabase("")(&cfg)
	assert.Equal(t, 9440, cfg.Port)
	assert.Equal(t, "alerts", cfg.Database)
}

func TestNewClient_RequiresHost(t *testing.T) {
	_, err := NewClient(WithDatabase("alerts"))
	assert.Error(t, err)
}
