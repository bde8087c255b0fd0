package api

import (
	"github.com/osbuild/diskfmt/internal/disk"
	"github.com/osbuild/diskfmt/internal/jobs"
)

// BasePath is where the API is mounted.
const BasePath = "/api/diskfmt/v1"

type ObjectReference struct {
	Href string `json:"href"`
	Id   string `json:"id"`
	Kind string `json:"kind"`
}

type Error struct {
	ObjectReference
	Code        string `json:"code"`
	OperationId string `json:"operation_id"`
	Reason      string `json:"reason"`
	Details     string `json:"details,omitempty"`
}

type StatusResponse struct {
	Backend string `json:"backend"`
	Version string `json:"version"`
}

type DeviceList struct {
	Devices []disk.Device `json:"devices"`
}

// FormatRequest is the body of POST /jobs. Size and Table are parsed by
// the server; an empty Size means Auto and an empty Filesystem the
// daemon's default filesystem.
type FormatRequest struct {
	Device     string `json:"device"`
	Filesystem string `json:"filesystem,omitempty"`
	Label      string `json:"label,omitempty"`
	Quick      bool   `json:"quick"`
	Size       string `json:"size,omitempty"`
	Table      string `json:"table,omitempty"`
}

type JobList struct {
	Jobs []jobs.Status `json:"jobs"`
}
