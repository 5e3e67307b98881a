package connection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCredentials(t *testing.T) {
	creds, err := DecodeCredentials(map[string]any{
		"host":             "10.0.0.1",
		"username":         "admin",
		"password":         "pw",
		"ssh_port":         "2222",
		"auth_is_password": true,
		"secret":           "pw",
	})
	require.NoError(t, err)

	assert.Equal(t, Credentials{
		Host:        "10.0.0.1",
		Username:    "admin",
		Password:    "pw",
		SSHPort:     2222,
		NETCONFPort: 830,
	}, creds)
}

func TestDecodeCredentials_JSONNumbers(t *testing.T) {
	creds, err := DecodeCredentials(map[string]any{"host": "r1", "netconf_port": float64(8300)})
	require.NoError(t, err)
	assert.Equal(t, 22, creds.SSHPort)
	assert.Equal(t, 8300, creds.NETCONFPort)
}

func TestDecodeCredentials_MissingHost(t *testing.T) {
	_, err := DecodeCredentials(map[string]any{"username": "admin"})
	assert.Error(t, err)
}

func TestFactories_New(t *testing.T) {
	var got Credentials
	factories := Factories{
		"fake": func(creds Credentials) (Factory, error) {
			got = creds
			return &DriverFactory{Credentials: creds, CLIDriver: func() Driver { return newFakeDriver() }}, nil
		},
	}

	f, err := factories.New("fake", Credentials{Host: "r1"})
	require.NoError(t, err)
	assert.Equal(t, "r1", got.Host)

	cli := f.NewCLI("cli_exec", nil)
	assert.Equal(t, "cli_exec", cli.Name())
	assert.Equal(t, Disconnected, cli.State())

	_, err = factories.New("telnet", Credentials{})
	assert.ErrorIs(t, err, ErrUnknownFactory)
	assert.Contains(t, err.Error(), "fake")
}
