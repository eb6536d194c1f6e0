package httpapi

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

type healthResponse struct {
	Status     string  `json:"status"`
	Service    string  `json:"service"`
	UptimeSecs float64 `json:"uptime_seconds"`
	CPUPercent float64 `json:"cpu_percent"`
	MemPercent float64 `json:"mem_percent"`
}

// handleHealth reports process uptime and host CPU/RAM usage, the same
// fast-response shape the dashboard's poller expects.
func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	cpuPct, memPct := systemStats(h.log)

	h.writeJSON(w, http.StatusOK, healthResponse{
		Status:     "healthy",
		Service:    "signalcore",
		UptimeSecs: time.Since(startupTime).Seconds(),
		CPUPercent: cpuPct,
		MemPercent: memPct,
	})
}

// systemStats samples CPU and RAM usage over a short 100ms window so the
// health endpoint stays responsive under a tight poller timeout.
func systemStats(log zerolog.Logger) (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		log.Warn().Err(err).Msg("failed to get cpu percentage")
		cpuPercent = []float64{0}
	}
	memStat, err := mem.VirtualMemory()
	if err != nil {
		log.Warn().Err(err).Msg("failed to get memory statistics")
		return cpuAvg(cpuPercent), 0
	}
	return cpuAvg(cpuPercent), memStat.UsedPercent
}

func cpuAvg(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	return samples[0]
}
