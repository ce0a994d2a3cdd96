package state

// State holds the discovered runtime state of an agentstack project.
type State struct {
	Project  string                  `json:"project"`
	Network  string                  `json:"network,omitempty"`
	Services map[string]*ServiceInfo `json:"services"`
}

// ServiceInfo holds Docker-level state of a single service container.
type ServiceInfo struct {
	Name      string     `json:"name"`
	Container string     `json:"container,omitempty"`
	ID        string     `json:"id,omitempty"`
	Image     string     `json:"image,omitempty"`
	Status    string     `json:"status"` // "running", "stopped" or "missing"
	RunID     string     `json:"run_id,omitempty"`
	Ports     []PortInfo `json:"ports"`
}

// PortInfo holds a published port mapping.
type PortInfo struct {
	Host      int    `json:"host"`
	Container int    `json:"container"`
	Protocol  string `json:"protocol"`
}
