package deployapi

// Status is the lifecycle state of a remote deployment as reported by
// GET /deployments.
type Status string

// Deployment statuses. StatusUnknown is never sent by the service; it marks
// a deployment that is absent from the listing.
const (
	StatusPending  Status = "pending"
	StatusBuilding Status = "building"
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusUnknown  Status = "unknown"
)

// Terminal reports whether the service will not transition away from s
// without a new sync action.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Mode is the opaque deployment mode passed through to the service.
type Mode string

// Deployment modes.
const (
	ModePreview     Mode = "preview"
	ModeDevelopment Mode = "development"
)

// Action is what the service did in response to an incremental sync.
type Action string

// Sync actions. Restart and rebuild both imply a new status transition that
// the caller should poll for.
const (
	ActionNone    Action = "none"
	ActionRestart Action = "restart"
	ActionRebuild Action = "rebuild"
)

// NeedsPoll reports whether the action starts a build or restart.
func (a Action) NeedsPoll() bool {
	return a == ActionRestart || a == ActionRebuild
}

// Resources are the resource limits requested for a deployment.
type Resources struct {
	Memory string `json:"memory,omitempty"`
	CPU    string `json:"cpu,omitempty"`
}

// Descriptor is the metadata describing a deployment. It is created once
// per watch session and never mutated.
type Descriptor struct {
	Name       string            `json:"name"`
	Domain     string            `json:"domain,omitempty"`
	CustomerID string            `json:"customerId,omitempty"`
	Framework  string            `json:"framework,omitempty"`
	Resources  Resources         `json:"resourceLimits"`
	Env        map[string]string `json:"env,omitempty"`
	Mode       Mode              `json:"mode"`
}

// Deployment is one entry of the GET /deployments listing.
type Deployment struct {
	Name      string `json:"name"`
	Status    Status `json:"status"`
	Error     string `json:"error,omitempty"`
	Domain    string `json:"domain,omitempty"`
	Framework string `json:"framework,omitempty"`
}

// FileUpload is the content of one changed file in an incremental sync.
// Path is relative to the project root, forward-slash separated.
type FileUpload struct {
	Path    string
	Content []byte
}

// SyncResult is the service's answer to an incremental sync.
type SyncResult struct {
	Success bool   `json:"success"`
	Action  Action `json:"action"`
	Error   string `json:"error,omitempty"`
}

// uploadResult is the JSON shape of the archive upload response.
type uploadResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// deploymentsResponse accepts both a bare array and {"deployments": [...]}.
type deploymentsResponse struct {
	Deployments []Deployment `json:"deployments"`
}
