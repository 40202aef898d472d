/*
 *	Copyright 2025 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package drivers is the registry of native runtime drivers: named openers that return a ready-to-use
// device.API.
//
// Drivers are either registered in-process (with Register, usually from an init function) or discovered as Go
// plugins named "kernelrt-driver-<name>.so" in the directories listed in KERNELRT_DRIVER_PATH (a ":"
// separated list). A plugin must export a function named "Open" of type func() (device.API, error).
//
// The default driver is given by the environment variable KERNELRT_DRIVER.
package drivers

import (
	"maps"
	"os"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/kernelrt/device"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// DriverPathEnv is the name of the environment variable that defines the search paths for driver plugins.
	DriverPathEnv = "KERNELRT_DRIVER_PATH"

	// DefaultDriverEnv is the name of the environment variable with the name of the default driver.
	DefaultDriverEnv = "KERNELRT_DRIVER"

	// OpenSymbol is the name of the function exported by driver plugins.
	OpenSymbol = "Open"

	// registeredPath is the path reported by Available for drivers registered in-process.
	registeredPath = "_registered_"
)

// Opener opens a driver, returning an API bound to its default device and queue.
type Opener func() (device.API, error)

var (
	// searchPaths is set during initialization from KERNELRT_DRIVER_PATH.
	searchPaths []string

	// openers holds the registered and the already loaded drivers. Protected by muDrivers.
	openers   = make(map[string]Opener)
	paths     = make(map[string]string)
	muDrivers sync.Mutex
)

func init() {
	searchPaths = parseSearchPaths(os.Getenv(DriverPathEnv))
}

func parseSearchPaths(list string) []string {
	return slices.DeleteFunc(strings.Split(list, ":"), func(p string) bool {
		return p == "" // Remove empty paths.
	})
}

// SetSearchPaths overrides the directories searched for driver plugins.
func SetSearchPaths(dirs ...string) {
	muDrivers.Lock()
	defer muDrivers.Unlock()
	searchPaths = slices.Clone(dirs)
}

// Register a driver with the given name.
//
// It panics if the name is empty, the opener is nil, or a driver with the same name is already registered.
func Register(name string, opener Opener) {
	if name == "" {
		exceptions.Panicf("drivers.Register: empty driver name")
	}
	if opener == nil {
		exceptions.Panicf("drivers.Register(%q): nil opener", name)
	}
	muDrivers.Lock()
	defer muDrivers.Unlock()
	if _, found := openers[name]; found {
		exceptions.Panicf("drivers.Register(%q): driver already registered", name)
	}
	openers[name] = opener
	paths[name] = registeredPath
}

// Default returns the name of the default driver, set by KERNELRT_DRIVER. If it's not set and only one driver
// is registered, that one is the default.
func Default() (string, error) {
	if name := os.Getenv(DefaultDriverEnv); name != "" {
		return name, nil
	}
	muDrivers.Lock()
	defer muDrivers.Unlock()
	if len(openers) == 1 {
		for name := range openers {
			return name, nil
		}
	}
	return "", errors.Errorf("no default driver: set %s to one of %v", DefaultDriverEnv, slices.Sorted(maps.Keys(openers)))
}

// Open the driver with the given name, or the default driver if name is "".
//
// The name can also be the absolute path to a driver plugin. Plugins are loaded only once, and cached.
func Open(name string) (device.API, error) {
	if name == "" {
		var err error
		name, err = Default()
		if err != nil {
			return nil, err
		}
	}
	opener, err := getOpener(name)
	if err != nil {
		return nil, err
	}
	api, err := opener()
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to open driver %q", name)
	}
	klog.V(1).Infof("drivers: opened %q: %s", name, api)
	return api, nil
}

// getOpener returns the registered opener, or loads it from a plugin.
func getOpener(name string) (Opener, error) {
	muDrivers.Lock()
	defer muDrivers.Unlock()

	// Search previously registered or loaded drivers: match by name or by path.
	if opener, found := openers[name]; found {
		return opener, nil
	}
	if path.IsAbs(name) {
		for driverName, driverPath := range paths {
			if driverPath == name {
				return openers[driverName], nil
			}
		}
	}

	pluginPath := name
	if !path.IsAbs(pluginPath) {
		var found bool
		pluginPath, found = searchDrivers(searchPaths, name)[name]
		if !found {
			return nil, errors.Errorf("driver %q not registered nor found in paths %v: set %s to the directories "+
				"to search; driver plugins should be named kernelrt-driver-<name>.so",
				name, searchPaths, DriverPathEnv)
		}
	}
	klog.V(1).Infof("drivers: loading %q from %s", name, pluginPath)
	opener, err := loadPlugin(pluginPath)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to load driver %q", name)
	}
	openers[name] = opener
	paths[name] = pluginPath
	return opener, nil
}

// Available returns the drivers available, registered or found in the search paths, mapped to the path they
// were (or would be) loaded from.
//
// If there are plugins with the same name in different directories, the first directory in the search path wins.
func Available() map[string]string {
	muDrivers.Lock()
	defer muDrivers.Unlock()
	available := searchDrivers(searchPaths, "")
	for name, driverPath := range paths {
		available[name] = driverPath
	}
	return available
}
