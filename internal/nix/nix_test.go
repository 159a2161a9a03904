package nix

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeetme/yeet/internal/hosts"
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	calls  []call
	stdout map[string][]byte
	fail   map[string]error
	onRun  func(name string, args []string)
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, call{name: name, args: append([]string(nil), args...)})
	if f.onRun != nil {
		f.onRun(name, args)
	}
	if err := f.fail[name]; err != nil {
		return nil, err
	}
	return f.stdout[name], nil
}

func newTestUpdater(t *testing.T, runner Runner, conf string, goos string) *Updater {
	t.Helper()
	u := NewUpdater(runner)
	u.nixConf = filepath.Join(t.TempDir(), "nix.conf")
	if conf != "" {
		require.NoError(t, os.WriteFile(u.nixConf, []byte(conf), 0o644))
	}
	u.goos = goos
	u.tempDir = t.TempDir()
	return u
}

func optionValue(args []string, name string) string {
	for i := 0; i+2 < len(args); i++ {
		if args[i] == "--option" && args[i+1] == name {
			return args[i+2]
		}
	}
	return ""
}

var version = hosts.RemoteVersion{
	StorePath:   "/nix/store/abc-system",
	Substitutor: "https://cache.example.com",
	PublicKey:   "cache.example.com-1:xyz=",
}

func TestApplyLinux(t *testing.T) {
	runner := &fakeRunner{}
	u := newTestUpdater(t, runner, "substituters = https://cache.nixos.org\ntrusted-public-keys = b-key a-key\n", "linux")

	require.NoError(t, u.Apply(context.Background(), version))
	require.Len(t, runner.calls, 3)

	realise := runner.calls[0]
	assert.Equal(t, "nix-store", realise.name)
	assert.Equal(t, []string{"--realise", "/nix/store/abc-system"}, realise.args[:2])
	assert.Equal(t, "https://cache.example.com", optionValue(realise.args, "extra-substituters"))
	assert.Equal(t, "a-key b-key cache.example.com-1:xyz=", optionValue(realise.args, "trusted-public-keys"))
	assert.Equal(t, "0", optionValue(realise.args, "narinfo-cache-negative-ttl"))
	assert.Empty(t, optionValue(realise.args, "netrc-file"))

	assert.Equal(t, call{"nix-env", []string{"--profile", DefaultSystemProfile, "--set", "/nix/store/abc-system"}}, runner.calls[1])
	assert.Equal(t, call{"/nix/store/abc-system/bin/switch-to-configuration", []string{"switch"}}, runner.calls[2])
}

func TestApplyDarwin(t *testing.T) {
	runner := &fakeRunner{}
	u := newTestUpdater(t, runner, "", "darwin")

	require.NoError(t, u.Apply(context.Background(), version))
	require.Len(t, runner.calls, 3)
	assert.Equal(t, "cache.example.com-1:xyz= "+DefaultTrustedKey, optionValue(runner.calls[0].args, "trusted-public-keys"))
	assert.Equal(t, "/nix/store/abc-system/activate", runner.calls[2].name)
	assert.Empty(t, runner.calls[2].args)
}

func TestApplyWritesAndRemovesNetrc(t *testing.T) {
	var netrcPath, netrcContent string
	runner := &fakeRunner{}
	runner.onRun = func(name string, args []string) {
		if name != "nix-store" {
			return
		}
		netrcPath = optionValue(args, "netrc-file")
		data, err := os.ReadFile(netrcPath)
		require.NoError(t, err)
		netrcContent = string(data)
	}
	u := newTestUpdater(t, runner, "", "linux")

	v := version
	v.Netrc = "machine cache.example.com password secret"
	require.NoError(t, u.Apply(context.Background(), v))

	assert.Equal(t, v.Netrc, netrcContent)
	_, err := os.Stat(netrcPath)
	assert.True(t, os.IsNotExist(err), "netrc file is removed after the download")
}

func TestApplyStopsOnFailedDownload(t *testing.T) {
	runner := &fakeRunner{fail: map[string]error{
		"nix-store": &CommandError{Command: "nix-store", Stderr: "path is not valid", Err: errors.New("exit status 1")},
	}}
	u := newTestUpdater(t, runner, "", "linux")

	err := u.Apply(context.Background(), version)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is not valid")
	assert.Len(t, runner.calls, 1)
}

func TestTrustedPublicKeys(t *testing.T) {
	cases := []struct {
		name string
		conf string
		want []string
	}{
		{"missing file", "", []string{DefaultTrustedKey}},
		{"no setting", "substituters = https://a\n", []string{DefaultTrustedKey}},
		{"setting", "trusted-public-keys = k1 k2\n", []string{"k1", "k2"}},
		{"first wins", "trusted-public-keys = k1\ntrusted-public-keys = k2\n", []string{"k1"}},
		{"extra-prefixed ignored", "extra-trusted-public-keys = k3\n", []string{DefaultTrustedKey}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u := newTestUpdater(t, &fakeRunner{}, tc.conf, "linux")
			got, err := u.TrustedPublicKeys()
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestMergeKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, mergeKeys([]string{"c", "a", "c"}, "b", "a", ""))
}

func TestReadVersionLink(t *testing.T) {
	dir := t.TempDir()
	link := filepath.Join(dir, "current-system")
	require.NoError(t, os.Symlink("/nix/store/abc-system", link))

	got, err := readVersionLink(link)
	require.NoError(t, err)
	assert.Equal(t, "/nix/store/abc-system", got)

	_, err = readVersionLink(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestFacts(t *testing.T) {
	runner := &fakeRunner{}
	runner.onRun = func(name string, args []string) {
		require.Equal(t, "nixos-facter", name)
		require.Equal(t, "-o", args[0])
		require.NoError(t, os.WriteFile(args[1], []byte(`{"version":1}`), 0o600))
	}

	facts, err := Facts(context.Background(), runner)
	require.NoError(t, err)
	assert.Equal(t, `{"version":1}`, facts)

	_, err = os.Stat(filepath.Dir(runner.calls[0].args[1]))
	assert.True(t, os.IsNotExist(err), "report directory is cleaned up")
}

func TestBuildHosts(t *testing.T) {
	runner := &fakeRunner{stdout: map[string][]byte{
		"nix": []byte(`[{"drvPath":"/nix/store/x.drv","outputs":{"out":"/nix/store/abc-system"}}]`),
	}}

	built, err := BuildHosts(context.Background(), runner, "./flake.nix", []string{"db1", "web1"}, false)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"db1": "/nix/store/abc-system", "web1": "/nix/store/abc-system"}, built)
	assert.Equal(t, "nixosConfigurations.db1.config.system.build.toplevel", runner.calls[0].args[len(runner.calls[0].args)-1])

	runner.calls = nil
	_, err = BuildHosts(context.Background(), runner, "./flake.nix", []string{"mac"}, true)
	require.NoError(t, err)
	assert.Equal(t, "darwinConfigurations.mac.system", runner.calls[0].args[len(runner.calls[0].args)-1])

	runner.stdout["nix"] = []byte(`[]`)
	_, err = BuildHosts(context.Background(), runner, "./flake.nix", []string{"db1"}, false)
	assert.Error(t, err)
}

func TestCommandErrorIncludesStderr(t *testing.T) {
	err := &CommandError{Command: "nix-env", Stderr: "permission denied", Err: errors.New("exit status 1")}
	assert.True(t, strings.HasSuffix(err.Error(), "permission denied"))
	assert.ErrorIs(t, err, err.Err)
}

func TestSwitchSkipsDownload(t *testing.T) {
	runner := &fakeRunner{}
	u := newTestUpdater(t, runner, "", "linux")

	require.NoError(t, u.Switch(context.Background(), "/nix/store/local-system"))
	require.Len(t, runner.calls, 2)
	assert.Equal(t, "nix-env", runner.calls[0].name)
	assert.Equal(t, "/nix/store/local-system/bin/switch-to-configuration", runner.calls[1].name)
}
