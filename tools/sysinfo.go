package tools

import (
	"context"
	"encoding/json"
	"os"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/tools"

	"metaagent/connector"
)

var sysinfoLogger = logrus.WithField("tool", "sysinfo")

// SysInfoTool reports facts about the host running the agent.
type SysInfoTool struct {
	started time.Time
}

func NewSysInfoTool() *SysInfoTool {
	sysinfoLogger.Debug("Initializing sysinfo tool")
	return &SysInfoTool{started: time.Now()}
}

func (s *SysInfoTool) Description() string {
	return "Describes the system the assistant runs on: hostname, operating system, CPU architecture and count, Go runtime version and service uptime."
}

func (s *SysInfoTool) Name() string {
	return "sysinfo"
}

func (s *SysInfoTool) Connector() *connector.Connector {
	return &connector.Connector{
		Method:      "get",
		Path:        "/system/info",
		Description: s.Description(),
		Parameters:  []json.RawMessage{},
	}
}

func (s *SysInfoTool) Call(ctx context.Context, input string) (string, error) {
	sysinfoLogger.Info("Sysinfo tool called")

	hostname, err := os.Hostname()
	if err != nil {
		sysinfoLogger.WithError(err).Warn("Hostname lookup failed")
		hostname = "unknown"
	}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	out, err := json.Marshal(map[string]any{
		"hostname":       hostname,
		"os":             runtime.GOOS,
		"arch":           runtime.GOARCH,
		"num_cpu":        runtime.NumCPU(),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"heap_bytes":     mem.HeapAlloc,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

var _ tools.Tool = (*SysInfoTool)(nil)
