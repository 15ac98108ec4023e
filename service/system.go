// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"net/http"
	"time"

	"github.com/mattermost/callsignal/service/api"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
	"github.com/prometheus/procfs"
)

const systemSampleInterval = time.Second

type SystemInfo struct {
	// CPULoad is the fraction of non idle CPU time over the sample window.
	CPULoad float64 `json:"cpu_load"`
	Load1   float64 `json:"load1"`
	Load5   float64 `json:"load5"`
	Load15  float64 `json:"load15"`
}

func cpuTimes(st procfs.Stat) (idle, total float64) {
	c := st.CPUTotal
	idle = c.Idle + c.Iowait
	total = idle + c.User + c.Nice + c.System + c.IRQ + c.SoftIRQ + c.Steal
	return idle, total
}

func (s *Service) getSystemInfo(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.NotFound(w, req)
		return
	}

	var info SystemInfo

	if avg, err := s.procFS.LoadAvg(); err == nil {
		info.Load1 = avg.Load1
		info.Load5 = avg.Load5
		info.Load15 = avg.Load15
	} else {
		s.log.Error("failed to get load average", mlog.Err(err))
	}

	st1, err1 := s.procFS.Stat()
	time.Sleep(systemSampleInterval)
	st2, err2 := s.procFS.Stat()
	if err1 == nil && err2 == nil {
		idle1, total1 := cpuTimes(st1)
		idle2, total2 := cpuTimes(st2)
		if totalDiff := total2 - total1; totalDiff > 0 {
			info.CPULoad = 1 - (idle2-idle1)/totalDiff
		}
	} else {
		if err1 != nil {
			s.log.Error("failed to get cpu stat", mlog.Err(err1))
		}
		if err2 != nil {
			s.log.Error("failed to get cpu stat", mlog.Err(err2))
		}
	}

	if err := api.WriteJSON(w, http.StatusOK, info); err != nil {
		s.log.Error("failed to write response", mlog.Err(err))
	}
}
