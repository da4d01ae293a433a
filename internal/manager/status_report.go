package manager

import (
	"fmt"
	"runtime"
	"time"

	"chatd/pkg/types"
)

// Health builds the response for GET /health. The service is healthy when a
// pipeline is bound to a local artifact; a remote-backed artifact or a
// missing pipeline reports degraded.
func (m *Manager) Health() types.HealthResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status := "degraded"
	npu := false
	loaded := m.pipe != nil
	if loaded {
		npu = m.pipe.Device.Name == "NPU"
		if !m.pipe.Artifact.Remote {
			status = "healthy"
		}
	}
	return types.HealthResponse{
		Status:       status,
		ModelLoaded:  loaded,
		NPUAvailable: npu,
		MemoryUsage:  memUsage(),
	}
}

// ModelInfo builds the response for GET /api/model/info.
func (m *Manager) ModelInfo() types.ModelInfoResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info := types.ModelInfoResponse{
		Name:             m.cfg.Model.Name,
		IsLoaded:         m.pipe != nil,
		MaxContextLength: m.cfg.Model.MaxContextLength,
	}
	if m.pipe != nil {
		info.Device = m.pipe.Device.Name
	}
	return info
}

// Status builds the application status document for GET /api/status.
func (m *Manager) Status() types.StatusResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()
	resp := types.StatusResponse{
		Application:   "chatd",
		State:         string(m.state),
		ModelReady:    m.pipe != nil,
		QueueLen:      m.gate.QueueLen(),
		Inflight:      m.gate.Inflight(),
		UptimeSeconds: int64(time.Since(m.startTime).Seconds()),
		LastError:     m.lastErr,
	}
	if m.pipe != nil {
		resp.Device = m.pipe.Device.Name
	}
	return resp
}

// memUsage formats current process heap usage as a human string.
func memUsage() string {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return fmt.Sprintf("%.1f MB", float64(ms.Alloc)/(1<<20))
}
