package drivers

import (
	"path"
	"path/filepath"
	"plugin"
	"regexp"

	"github.com/gomlx/kernelrt/device"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// This file handles driver plugins: Go plugins (built with -buildmode=plugin) exporting OpenSymbol.

const pluginPattern = "kernelrt-driver-*.so"

var rePluginName = regexp.MustCompile(`^.*/kernelrt-driver-([\w-]+)\.so$`)

// pathToDriverName returns the name of the driver if it's a matching plugin path, otherwise returns "".
func pathToDriverName(pPath string) string {
	subMatches := rePluginName.FindStringSubmatch(pPath)
	if subMatches == nil {
		return ""
	}
	return subMatches[1]
}

// searchDrivers lists the plugins in dirs, by name. If searchName is given, only that driver is searched.
func searchDrivers(dirs []string, searchName string) map[string]string {
	found := make(map[string]string)
	for _, dir := range dirs {
		candidates, err := filepath.Glob(path.Join(dir, pluginPattern))
		if err != nil {
			continue
		}
		for _, candidate := range candidates {
			name := pathToDriverName(candidate)
			if name == "" {
				continue
			}
			if searchName != "" && searchName != name {
				continue
			}
			if _, exists := found[name]; exists {
				// We already have a driver with that name.
				continue
			}
			found[name] = candidate
		}
	}
	return found
}

// loadPlugin opens the Go plugin and looks up its Open function.
func loadPlugin(pluginPath string) (Opener, error) {
	p, err := plugin.Open(pluginPath)
	if err != nil {
		return nil, errors.Wrapf(err, "plugin.Open(%q)", pluginPath)
	}
	symbol, err := p.Lookup(OpenSymbol)
	if err != nil {
		return nil, errors.Wrapf(err, "driver plugin %q doesn't export %q", pluginPath, OpenSymbol)
	}
	switch open := symbol.(type) {
	case func() (device.API, error):
		return open, nil
	case *Opener:
		klog.V(1).Infof("drivers: plugin %q exports %s as a variable", pluginPath, OpenSymbol)
		return *open, nil
	}
	return nil, errors.Errorf("driver plugin %q exports %q as %T, wanted func() (device.API, error)",
		pluginPath, OpenSymbol, symbol)
}
