package panel

import "fmt"

// StatusKind is the severity of a status line.
type StatusKind string

const (
	StatusInfo    StatusKind = "info"
	StatusSuccess StatusKind = "success"
	StatusError   StatusKind = "error"
)

// Status is a short user-facing message. Degradations are reported this way
// and never as raw errors.
type Status struct {
	Kind StatusKind `json:"kind"`
	Text string     `json:"text"`
}

const (
	TextScanning    = "Scan in progress..."
	TextPrivileged  = "Cannot scan this page"
	TextScanFailed  = "Error during scan"
	TextDownloading = "Downloading..."
	TextShowFailed  = "Error displaying images"
)

func imagesFound(n int) Status {
	return Status{Kind: StatusSuccess, Text: fmt.Sprintf("%d images found", n)}
}

// StatusSink receives every status the panel shows.
type StatusSink func(Status)

// View is the panel's visible counters and affordance flags.
type View struct {
	Total             int    `json:"total"`
	Selected          int    `json:"selected"`
	Scanning          bool   `json:"scanning"`
	ScanDisabled      bool   `json:"scanDisabled"`
	ViewDisabled      bool   `json:"viewDisabled"`
	SelectAllDisabled bool   `json:"selectAllDisabled"`
	DownloadDisabled  bool   `json:"downloadDisabled"`
	Status            Status `json:"status"`
}
