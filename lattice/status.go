// Copyright (c) Skyfleet Robotics
// SPDX-License-Identifier: MPL-2.0

package lattice

// Task status strings as the C2 task manager expects them. Every
// outbound update carries one of these plus a strictly increasing
// status version.
const (
	StatusSent           = "STATUS_SENT"
	StatusMachineReceipt = "STATUS_MACHINE_RECEIPT"
	StatusAck            = "STATUS_ACK"
	StatusWilco          = "STATUS_WILCO"
	StatusExecuting      = "STATUS_EXECUTING"
	StatusDoneOK         = "STATUS_DONE_OK"
	StatusDoneNotOK      = "STATUS_DONE_NOT_OK"
)

// Entity component constants.
const (
	TemplateAsset          = "TEMPLATE_ASSET"
	DispositionFriendly    = "DISPOSITION_FRIENDLY"
	EnvironmentAir         = "ENVIRONMENT_AIR"
	ConnectionStatusOnline = "CONNECTION_STATUS_ONLINE"
	HealthStatusHealthy    = "HEALTH_STATUS_HEALTHY"
)

// Task specification URLs advertised in the entity task catalog. The
// C2 sends surveillance taskings against these; the agent routes them
// to an executor kind.
const (
	SpecURLVisualID    = "type.googleapis.com/anduril.tasks.v2.VisualId"
	SpecURLInvestigate = "type.googleapis.com/anduril.tasks.v2.Investigate"
	SpecURLMonitor     = "type.googleapis.com/anduril.tasks.v2.Monitor"
)

// DefaultTaskCatalogURLs is the catalog advertised for every drone.
func DefaultTaskCatalogURLs() []string {
	return []string{
		SpecURLVisualID,
		SpecURLInvestigate,
		SpecURLMonitor,
	}
}
