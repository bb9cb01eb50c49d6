//go:build windows

package sysproxy

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
)

const (
	internetOptionRefresh         = 37
	internetOptionSettingsChanged = 39
)

var procInternetSetOption = windows.NewLazySystemDLL("wininet.dll").NewProc("InternetSetOptionW")

// Registry edits the per-user WinINet proxy settings.
type Registry struct{}

func newRegistry() (Backend, error) { return Registry{}, nil }

func (Registry) Get(_ context.Context) (Settings, error) {
	k, err := registry.OpenKey(registry.CURRENT_USER, internetSettingsKey, registry.QUERY_VALUE)
	if err != nil {
		return Settings{}, err
	}
	defer func() { _ = k.Close() }()
	var s Settings
	enabled, _, err := k.GetIntegerValue("ProxyEnable")
	if err != nil && !errors.Is(err, registry.ErrNotExist) {
		return Settings{}, err
	}
	s.Enabled = enabled == 1
	server, _, err := k.GetStringValue("ProxyServer")
	if err != nil && !errors.Is(err, registry.ErrNotExist) {
		return Settings{}, err
	}
	s.Host, s.Port = parseProxyServer(server)
	override, _, err := k.GetStringValue("ProxyOverride")
	if err != nil && !errors.Is(err, registry.ErrNotExist) {
		return Settings{}, err
	}
	s.Bypass = splitOverride(override)
	return s, nil
}

func (Registry) Set(_ context.Context, s Settings) error {
	k, err := registry.OpenKey(registry.CURRENT_USER, internetSettingsKey, registry.SET_VALUE)
	if err != nil {
		return err
	}
	defer func() { _ = k.Close() }()
	var enable uint32
	if s.Enabled {
		enable = 1
		if err := k.SetStringValue("ProxyServer", s.Addr()); err != nil {
			return err
		}
		if err := k.SetStringValue("ProxyOverride", strings.Join(s.Bypass, ";")); err != nil {
			return err
		}
	}
	if err := k.SetDWordValue("ProxyEnable", enable); err != nil {
		return err
	}
	notifyWinINet()
	return nil
}

// notifyWinINet asks running applications to reload proxy settings.
func notifyWinINet() {
	if procInternetSetOption.Find() != nil {
		return
	}
	_, _, _ = procInternetSetOption.Call(0, internetOptionSettingsChanged, 0, 0)
	_, _, _ = procInternetSetOption.Call(0, internetOptionRefresh, 0, 0)
}
