// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package perf

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics("callsignal", nil)
	require.NotNil(t, m)

	m.IncRelayConnections()
	m.IncRelayConnections()
	m.DecRelayConnections()
	require.Equal(t, float64(1), testutil.ToFloat64(m.RelayConnections))

	m.SetRelayRooms(3)
	require.Equal(t, float64(3), testutil.ToFloat64(m.RelayRooms))

	m.IncRelayMessages("emit", "in")
	m.IncRelayMessages("emit", "in")
	require.Equal(t, float64(2), testutil.ToFloat64(m.RelayMessageCounters.WithLabelValues("emit", "in")))

	m.IncRelayDropped("rate_limited")
	require.Equal(t, float64(1), testutil.ToFloat64(m.RelayDropCounters.WithLabelValues("rate_limited")))

	m.IncCallRecords("missed")
	m.AddCallsPruned(4)
	require.Equal(t, float64(1), testutil.ToFloat64(m.CallRecordCounters.WithLabelValues("missed")))
	require.Equal(t, float64(4), testutil.ToFloat64(m.CallPrunedCounter))

	t.Run("handler", func(t *testing.T) {
		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		require.True(t, strings.Contains(rec.Body.String(), "callsignal_relay_connections_total 1"))
	})
}
