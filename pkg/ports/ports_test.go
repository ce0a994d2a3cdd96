package ports

import (
	"errors"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/kappal-app/agentstack/pkg/env"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backendPort() env.Binding {
	return env.WithDefault("BACKEND_PORT", "BACKEND_PORT", "8000")
}

func TestResolveDefault(t *testing.T) {
	b, err := Resolve(backendPort(), 8000, env.FromMap(nil))
	require.NoError(t, err)
	assert.Equal(t, Binding{HostPort: 8000, ContainerPort: 8000, Protocol: "tcp"}, b)
	assert.Equal(t, "8000:8000/tcp", b.String())
}

func TestResolveOverride(t *testing.T) {
	b, err := Resolve(backendPort(), 8000, env.FromMap(map[string]string{"BACKEND_PORT": " 18000 "}))
	require.NoError(t, err)
	assert.Equal(t, 18000, b.HostPort)
	assert.Equal(t, 8000, b.ContainerPort)
}

func TestResolveRejectsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"too large", "999999"},
		{"just above range", "65536"},
		{"zero", "0"},
		{"negative", "-1"},
		{"not numeric", "eighty"},
		{"range syntax", "8000-8001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(backendPort(), 8000, env.FromMap(map[string]string{"BACKEND_PORT": tt.value}))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidPort))

			var ipe *InvalidPortError
			require.True(t, errors.As(err, &ipe))
			assert.Equal(t, "BACKEND_PORT", ipe.Key)
			assert.Equal(t, tt.value, ipe.Value)
		})
	}
}

func TestResolveBoundaries(t *testing.T) {
	for _, v := range []string{"1", "65535"} {
		_, err := Resolve(backendPort(), 8000, env.FromMap(map[string]string{"BACKEND_PORT": v}))
		assert.NoError(t, err, v)
	}
}

func TestResolveRejectsInvalidContainerPort(t *testing.T) {
	_, err := Resolve(backendPort(), 70000, env.FromMap(nil))
	assert.ErrorIs(t, err, ErrInvalidPort)
}

func TestPortMap(t *testing.T) {
	b := Binding{HostPort: 3001, ContainerPort: 3000, Protocol: "tcp"}
	exposed, bindings, err := b.PortMap()
	require.NoError(t, err)

	port := nat.Port("3000/tcp")
	_, ok := exposed[port]
	assert.True(t, ok)
	require.Len(t, bindings[port], 1)
	assert.Equal(t, "3001", bindings[port][0].HostPort)
}

func TestCheckConflicts(t *testing.T) {
	names := []string{"frontend", "backend"}
	ok := map[string]Binding{
		"frontend": {HostPort: 3000, ContainerPort: 3000},
		"backend":  {HostPort: 8000, ContainerPort: 8000},
	}
	assert.NoError(t, CheckConflicts(names, ok))

	clash := map[string]Binding{
		"frontend": {HostPort: 8000, ContainerPort: 3000},
		"backend":  {HostPort: 8000, ContainerPort: 8000},
	}
	err := CheckConflicts(names, clash)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidPort)
	assert.Contains(t, err.Error(), "frontend")
}
