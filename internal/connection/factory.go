package connection

import (
	"fmt"
	"sort"
	"time"

	"github.com/mitchellh/mapstructure"
)

const (
	defaultSSHPort     = 22
	defaultNETCONFPort = 830
)

// Credentials identify and authenticate against one device. They are
// decoded from the params object of a target's connect request.
type Credentials struct {
	Host     string `mapstructure:"host"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	// SSHKey is a path to a private key file; when set it is used instead
	// of Password.
	SSHKey string `mapstructure:"ssh_key"`

	SSHPort     int `mapstructure:"ssh_port"`
	NETCONFPort int `mapstructure:"netconf_port"`
}

// DecodeCredentials decodes connect params. Numbers may arrive as strings
// ("22") and unrelated keys are ignored, since the same object carries
// client-side options.
func DecodeCredentials(params map[string]any) (Credentials, error) {
	creds := Credentials{
		SSHPort:     defaultSSHPort,
		NETCONFPort: defaultNETCONFPort,
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &creds,
	})
	if err != nil {
		return Credentials{}, err
	}
	if err := dec.Decode(params); err != nil {
		return Credentials{}, fmt.Errorf("decoding connection params: %w", err)
	}
	if creds.Host == "" {
		return Credentials{}, fmt.Errorf("decoding connection params: host is required")
	}
	return creds, nil
}

// Factory creates named connections bound to one set of credentials. The
// connections it returns are not started; the caller registers its
// listeners and then calls Connect.
type Factory interface {
	NewCLI(name string, finalizer CLIFinalizer) *CLI
	NewNETCONF(name string, finalizer NETCONFFinalizer) *NETCONF
}

// FactoryBuilder creates a Factory for one set of credentials.
type FactoryBuilder func(creds Credentials) (Factory, error)

// Factories maps a connection type name (e.g. "ssh") to its builder.
type Factories map[string]FactoryBuilder

// New builds the factory registered under kind.
func (f Factories) New(kind string, creds Credentials) (Factory, error) {
	build, ok := f[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownFactory, kind, f.Names())
	}
	return build(creds)
}

// Names returns the registered connection types, sorted.
func (f Factories) Names() []string {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DriverFactory is a Factory that builds bridges around fresh drivers.
// Protocol packages return one from their FactoryBuilder.
type DriverFactory struct {
	Credentials Credentials

	// CLIDriver and NETCONFDriver create a new, unconnected driver per
	// connection.
	CLIDriver     func() Driver
	NETCONFDriver func() Driver

	DisconnectGrace time.Duration
	Logger          Logger
}

// NewCLI implements Factory.
func (f *DriverFactory) NewCLI(name string, finalizer CLIFinalizer) *CLI {
	return NewCLI(f.CLIDriver(), f.config(name), finalizer)
}

// NewNETCONF implements Factory.
func (f *DriverFactory) NewNETCONF(name string, finalizer NETCONFFinalizer) *NETCONF {
	return NewNETCONF(f.NETCONFDriver(), f.config(name), finalizer)
}

func (f *DriverFactory) config(name string) BridgeConfig {
	return BridgeConfig{
		Name:            name,
		Credentials:     f.Credentials,
		Logger:          f.Logger,
		DisconnectGrace: f.DisconnectGrace,
	}
}
