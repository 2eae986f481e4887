package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeycumines/go-lnclient"
	"github.com/joeycumines/logiface"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// settings are populated from flags, and optionally a YAML file, with flags
// taking precedence.
type settings struct {
	Server              string        `yaml:"server"`
	TLSCertPath         string        `yaml:"tlscertpath"`
	Macaroon            string        `yaml:"macaroon"`
	MacaroonPath        string        `yaml:"macaroonpath"`
	Proxy               string        `yaml:"proxy"`
	DialTimeout         time.Duration `yaml:"dial_timeout"`
	ProtoPath           string        `yaml:"proto_path"`
	PatchedProtoPath    string        `yaml:"patched_proto_path"`
	Service             string        `yaml:"service"`
	SubscriptionMethods []string      `yaml:"subscription_methods"`
	LogLevel            string        `yaml:"log_level"`
	MetricsAddr         string        `yaml:"metrics_addr"`
}

func (x *settings) register(flags *pflag.FlagSet) {
	flags.StringVar(&x.Server, `server`, lnclient.DefaultServer, `lnd gRPC address, as host:port`)
	flags.StringVar(&x.TLSCertPath, `tlscertpath`, ``, `path to lnd's TLS certificate (default within the lnd app dir)`)
	flags.StringVar(&x.Macaroon, `macaroon`, ``, `hex encoded macaroon`)
	flags.StringVar(&x.MacaroonPath, `macaroonpath`, ``, `path to a binary macaroon file`)
	flags.StringVar(&x.Proxy, `proxy`, ``, `SOCKS5 proxy address, e.g. 127.0.0.1:9050 for Tor`)
	flags.DurationVar(&x.DialTimeout, `dial-timeout`, 0, `timeout for proxied connection attempts`)
	flags.StringVar(&x.ProtoPath, `proto-path`, ``, `protocol definition to load (default vendored)`)
	flags.StringVar(&x.PatchedProtoPath, `patched-proto-path`, ``, `where the patched protocol definition is written (default within the user cache dir)`)
	flags.StringVar(&x.Service, `service`, lnclient.DefaultService, `fully-qualified service name`)
	flags.StringSliceVar(&x.SubscriptionMethods, `subscription-methods`, lnclient.DefaultSubscriptionMethods(), `methods adapted as streaming calls`)
	flags.StringVar(&x.LogLevel, `log-level`, logiface.LevelWarning.String(), `log level (trace, debug, info, notice, warning, err, ...)`)
	flags.StringVar(&x.MetricsAddr, `metrics-addr`, ``, `serve prometheus metrics on this address, while running`)
}

// merge overlays the flags that were explicitly set onto file, returning
// the result.
func (x *settings) merge(flags *pflag.FlagSet, file settings) settings {
	set := func(name string, dst *string, src string) {
		if flags.Changed(name) || *dst == `` {
			*dst = src
		}
	}
	set(`server`, &file.Server, x.Server)
	set(`tlscertpath`, &file.TLSCertPath, x.TLSCertPath)
	set(`macaroon`, &file.Macaroon, x.Macaroon)
	set(`macaroonpath`, &file.MacaroonPath, x.MacaroonPath)
	set(`proxy`, &file.Proxy, x.Proxy)
	set(`proto-path`, &file.ProtoPath, x.ProtoPath)
	set(`patched-proto-path`, &file.PatchedProtoPath, x.PatchedProtoPath)
	set(`service`, &file.Service, x.Service)
	set(`log-level`, &file.LogLevel, x.LogLevel)
	set(`metrics-addr`, &file.MetricsAddr, x.MetricsAddr)
	if flags.Changed(`dial-timeout`) || file.DialTimeout == 0 {
		file.DialTimeout = x.DialTimeout
	}
	if flags.Changed(`subscription-methods`) || file.SubscriptionMethods == nil {
		file.SubscriptionMethods = x.SubscriptionMethods
	}
	return file
}

// loadSettings reads a YAML settings file. Unknown keys are an error.
func loadSettings(path string) (settings, error) {
	var file settings
	f, err := os.Open(path)
	if err != nil {
		return file, err
	}
	defer f.Close()
	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return file, fmt.Errorf(`decode %s: %w`, path, err)
	}
	return file, nil
}

func (x settings) options() []lnclient.Option {
	return []lnclient.Option{
		lnclient.WithServer(x.Server),
		lnclient.WithTLSPath(x.TLSCertPath),
		lnclient.WithMacaroon(x.Macaroon),
		lnclient.WithMacaroonPath(x.MacaroonPath),
		lnclient.WithProxy(x.Proxy),
		lnclient.WithDialTimeout(x.DialTimeout),
		lnclient.WithProtoPath(x.ProtoPath),
		lnclient.WithPatchedProtoPath(x.PatchedProtoPath),
		lnclient.WithService(x.Service),
		lnclient.WithSubscriptionMethods(x.SubscriptionMethods...),
	}
}

func parseLevel(s string) (logiface.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for level := logiface.LevelDisabled; level <= logiface.LevelTrace; level++ {
		if level.String() == s {
			return level, nil
		}
	}
	return logiface.LevelDisabled, fmt.Errorf(`unknown log level %q`, s)
}
