package connection

import "shopsync/internal/app/client/monitor"

type statusInput struct {
	Refresh bool `query:"refresh" doc:"Run the checks now instead of returning the last result"`
}

type statusOutput struct {
	Body ConnectionStatusResponse
}

type ConnectionStatusResponse struct {
	Monitor  monitor.Status `json:"monitor"`
	Realtime RealtimeStatus `json:"realtime"`
}

type RealtimeStatus struct {
	State     string `json:"state" enum:"disconnected,connecting,connected,reconnecting"`
	Attempts  int    `json:"attempts"`
	Queued    int    `json:"queued"`
	Exhausted bool   `json:"exhausted" doc:"Reconnect stopped after max attempts"`
}

type actionOutput struct {
	Body ActionResponse
}

type ActionResponse struct {
	Status string `json:"status"`
}
