package credential

import (
	mrand "math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"sensor-agent/internal/credential/credentialtest"
)

func TestLoadRoundTrip(t *testing.T) {
	reg := NewRegistry()
	rng := mrand.New(mrand.NewSource(42))

	for i := 0; i < 200; i++ {
		raw := make([]byte, rng.Intn(512))
		for j := range raw {
			raw[j] = byte(rng.Intn(255) + 1) // 不含 Sentinel
		}

		v := reg.Load(raw)
		require.Equal(t, len(raw)+1, v.Len())
		require.Equal(t, Sentinel, v.Bytes()[v.Len()-1])
		require.Equal(t, raw, v.PEM())
	}
	require.Equal(t, 200, reg.Len())
}

func TestLoadCopiesInput(t *testing.T) {
	reg := NewRegistry()
	raw := []byte("-----BEGIN CERTIFICATE-----")
	v := reg.Load(raw)

	raw[0] = 'X'
	require.Equal(t, byte('-'), v.PEM()[0])
}

func TestLoadEmpty(t *testing.T) {
	v := NewRegistry().Load(nil)
	require.Equal(t, []byte{Sentinel}, v.Bytes())
	require.Empty(t, v.PEM())
}

func TestReadMaterialMissingAndEmpty(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.pem")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))

	_, err := ReadMaterial(NewRegistry(), Paths{RootCA: filepath.Join(dir, "missing.pem")})
	require.Error(t, err)

	_, err = ReadMaterial(NewRegistry(), Paths{RootCA: empty})
	require.ErrorIs(t, err, ErrEmpty)
}

func TestTLSConfig(t *testing.T) {
	pki := credentialtest.Generate(t)
	dir := t.TempDir()
	paths := Paths{
		RootCA: filepath.Join(dir, "root-ca.pem"),
		Cert:   filepath.Join(dir, "device.pem.crt"),
		Key:    filepath.Join(dir, "private.pem.key"),
	}
	require.NoError(t, os.WriteFile(paths.RootCA, pki.RootCA, 0o600))
	require.NoError(t, os.WriteFile(paths.Cert, pki.Cert, 0o600))
	require.NoError(t, os.WriteFile(paths.Key, pki.Key, 0o600))

	reg := NewRegistry()
	m, err := ReadMaterial(reg, paths)
	require.NoError(t, err)
	require.Equal(t, 3, reg.Len())

	cfg, err := m.TLSConfig(false)
	require.NoError(t, err)
	require.Len(t, cfg.Certificates, 1)
	require.NotNil(t, cfg.RootCAs)
}

func TestTLSConfigMalformed(t *testing.T) {
	pki := credentialtest.Generate(t)
	reg := NewRegistry()

	_, err := LoadMaterial(reg, pki.RootCA, []byte("garbage"), pki.Key).TLSConfig(false)
	require.Error(t, err)

	_, err = LoadMaterial(reg, []byte("garbage"), pki.Cert, pki.Key).TLSConfig(false)
	require.ErrorIs(t, err, ErrNoRootCA)
}
