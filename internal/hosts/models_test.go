package hosts

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var v1 = RemoteVersion{
	StorePath:   "/nix/store/aaaa-nixos-system-v1",
	Substitutor: "https://cache.example.com",
	PublicKey:   "cache.example.com-1:abc=",
}

func TestProvisionStateWireFormat(t *testing.T) {
	data, err := json.Marshal(NotSetState())
	require.NoError(t, err)
	assert.JSONEq(t, `"NotSet"`, string(data))

	data, err = json.Marshal(DetachedState())
	require.NoError(t, err)
	assert.JSONEq(t, `"Detached"`, string(data))

	data, err = json.Marshal(ProvisionedTo(v1))
	require.NoError(t, err)
	assert.JSONEq(t, `{"Provisioned":{"store_path":"/nix/store/aaaa-nixos-system-v1","substitutor":"https://cache.example.com","public_key":"cache.example.com-1:abc="}}`, string(data))

	var decoded ProvisionState
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, Provisioned, decoded.Kind)
	assert.Equal(t, v1, *decoded.Version)
}

func TestProvisionStateRejectsUnknownVariant(t *testing.T) {
	var s ProvisionState
	assert.Error(t, json.Unmarshal([]byte(`"Frozen"`), &s))
	assert.Error(t, json.Unmarshal([]byte(`{"Provisioned":{},"Detached":null}`), &s))
	assert.Error(t, json.Unmarshal([]byte(`{"Provisioned":null}`), &s))
}

func TestAgentActionWireFormat(t *testing.T) {
	for _, tc := range []struct {
		action AgentAction
		want   string
	}{
		{Nothing(), `"Nothing"`},
		{Detach(), `"Detach"`},
		{SwitchTo(v1), `{"SwitchTo":{"store_path":"/nix/store/aaaa-nixos-system-v1","substitutor":"https://cache.example.com","public_key":"cache.example.com-1:abc="}}`},
	} {
		t.Run(tc.action.Kind.String(), func(t *testing.T) {
			data, err := json.Marshal(tc.action)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(data))

			var decoded AgentAction
			require.NoError(t, json.Unmarshal(data, &decoded))
			assert.Equal(t, tc.action, decoded)
		})
	}
}

func TestRecordVersion(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	h := Host{Name: "db1", VersionHistory: []VersionEntry{{StorePath: "v0", Timestamp: t0}}}

	assert.False(t, h.RecordVersion("v0", t0.Add(time.Minute)))
	assert.Len(t, h.VersionHistory, 1)

	assert.True(t, h.RecordVersion("v1", t0.Add(time.Minute)))
	assert.Equal(t, "v1", h.LatestStorePath())
	assert.Len(t, h.VersionHistory, 2)
}

func TestPushUpdateIgnoredWhileDetached(t *testing.T) {
	h := Host{Name: "db1", ProvisionState: DetachedState()}
	assert.False(t, h.PushUpdate(v1))
	assert.Equal(t, Detached, h.ProvisionState.Kind)

	h = Host{Name: "db2"}
	assert.True(t, h.PushUpdate(v1))
	assert.Equal(t, Provisioned, h.ProvisionState.Kind)
}

func TestDetachAttachRestoresTarget(t *testing.T) {
	h := Host{Name: "db1", ProvisionState: ProvisionedTo(v1)}

	h.Detach()
	assert.Equal(t, Detached, h.ProvisionState.Kind)
	require.NotNil(t, h.DetachedFrom)

	h.Attach()
	assert.Equal(t, Provisioned, h.ProvisionState.Kind)
	assert.Equal(t, v1, *h.ProvisionState.Version)
	assert.Nil(t, h.DetachedFrom)

	h = Host{Name: "db2"}
	h.Detach()
	h.Attach()
	assert.Equal(t, NotSet, h.ProvisionState.Kind)
}

func TestCloneIsDeep(t *testing.T) {
	now := time.Now()
	h := Host{Name: "db1", ProvisionState: ProvisionedTo(v1), LastPing: &now,
		VersionHistory: []VersionEntry{{StorePath: "v0", Timestamp: now}}}

	c := h.Clone()
	c.VersionHistory[0].StorePath = "changed"
	c.ProvisionState.Version.StorePath = "changed"

	assert.Equal(t, "v0", h.VersionHistory[0].StorePath)
	assert.Equal(t, v1.StorePath, h.ProvisionState.Version.StorePath)
}
