package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	content := `
agent:
  server_url: "http://analysis:5000/"
  user_id: "alice"
  role: "teacher"
  interval_seconds: 5
camera:
  source: "ffmpeg"
  device: "/dev/video2"
events:
  enabled: true
  protocol: "mqtt"
mqtt:
  broker: "tcp://broker:1883"
`
	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	_, err = tmpfile.WriteString(content)
	require.NoError(t, err)
	tmpfile.Close()

	cfg, err := LoadConfig(tmpfile.Name())
	require.NoError(t, err)

	assert.Equal(t, "http://analysis:5000/", cfg.Agent.ServerURL)
	assert.Equal(t, "alice", cfg.Agent.UserID)
	assert.Equal(t, "teacher", cfg.Agent.Role)
	assert.Equal(t, 5, cfg.Agent.IntervalSeconds)
	assert.Equal(t, "ffmpeg", cfg.Camera.Source)
	assert.Equal(t, "/dev/video2", cfg.Camera.Device)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)

	// untouched keys keep their defaults
	assert.Equal(t, "/analyze", cfg.Agent.AnalyzePath)
	assert.Equal(t, 320, cfg.Camera.Width)
	assert.Equal(t, 240, cfg.Camera.Height)
	assert.InDelta(t, 0.7, cfg.Camera.JPEGQuality, 1e-9)
	assert.Equal(t, 500, cfg.Server.RecentWindow)

	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "http://analysis:5000/analyze", cfg.Agent.AnalyzeURL())
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := LoadConfig("non_existent_file.yaml")
	assert.Error(t, err)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "student", cfg.Agent.Role)
	assert.Equal(t, 3, cfg.Agent.IntervalSeconds)
	assert.True(t, cfg.Agent.AutoStart)
	assert.Equal(t, "gocv", cfg.Camera.Source)
	assert.Equal(t, "logs/emotions.csv", cfg.Server.LogFile)
	assert.False(t, cfg.Redis.Enabled)
	assert.Empty(t, cfg.Redis.Namespace)
	assert.Equal(t, 3, cfg.Redis.CompressionLevel)
	assert.Zero(t, cfg.Optimization.MaxMemoryMB)
	assert.False(t, cfg.Events.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("EMOTION_AGENT_USER_ID", "bob")
	t.Setenv("EMOTION_AGENT_INTERVAL_SECONDS", "7")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "bob", cfg.Agent.UserID)
	assert.Equal(t, 7, cfg.Agent.IntervalSeconds)
}

func TestLoadConfigTOML(t *testing.T) {
	cfg, err := LoadConfig("../../config.toml")
	require.NoError(t, err, "config.toml should load")

	assert.Equal(t, "student", cfg.Agent.Role)
	assert.Equal(t, ":9091", cfg.Agent.MetricsAddress)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Address)
	assert.Equal(t, "classroom", cfg.Redis.Namespace)
	assert.Equal(t, "amqp", cfg.Events.Protocol)
	assert.Equal(t, "emotion.analysis", cfg.AMQP.Exchange)
	assert.Equal(t, 4, cfg.Optimization.MaxWorkers)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := LoadConfig("")
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Agent.Role = "principal"
	assert.ErrorContains(t, cfg.Validate(), "agent.role")

	cfg = base()
	cfg.Camera.Source = "webrtc"
	assert.ErrorContains(t, cfg.Validate(), "camera.source")

	cfg = base()
	cfg.Camera.JPEGQuality = 1.5
	assert.ErrorContains(t, cfg.Validate(), "jpeg_quality")

	cfg = base()
	cfg.Events.Enabled = true
	cfg.Events.Protocol = "kafka"
	assert.ErrorContains(t, cfg.Validate(), "events.protocol")
}

func TestTimeouts(t *testing.T) {
	a := AgentConfig{}
	assert.Equal(t, 10*time.Second, a.RequestTimeout())
	a.RequestTimeoutSec = 2
	assert.Equal(t, 2*time.Second, a.RequestTimeout())

	o := Optimization{}
	assert.Equal(t, 60*time.Second, o.CircuitResetTimeout())
	o.CircuitResetSec = 15
	assert.Equal(t, 15*time.Second, o.CircuitResetTimeout())
}
