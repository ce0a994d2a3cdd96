package state

import (
	"github.com/kappal-app/agentstack/pkg/stack"
)

// MergePlan combines discovered live state with the declared services.
// Declared services without a container get status "missing". The result
// follows declaration order.
func MergePlan(discovered *State, plan *stack.Plan) []ServiceInfo {
	result := make([]ServiceInfo, 0, len(plan.Services))
	for _, svc := range plan.Services {
		if live, ok := discovered.Services[svc.Name]; ok {
			info := *live
			info.Image = svc.Image
			result = append(result, info)
			continue
		}
		result = append(result, ServiceInfo{
			Name:   svc.Name,
			Image:  svc.Image,
			Status: "missing",
			Ports:  []PortInfo{},
		})
	}
	return result
}
