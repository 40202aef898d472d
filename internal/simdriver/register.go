package simdriver

import (
	"github.com/gomlx/kernelrt/backends/cl"
	"github.com/gomlx/kernelrt/backends/sycl"
	"github.com/gomlx/kernelrt/backends/ze"
	"github.com/gomlx/kernelrt/device"
	"github.com/gomlx/kernelrt/drivers"
)

// Names of the simulated drivers in the drivers registry.
const (
	DriverCL     = "sim-cl"
	DriverZE     = "sim-ze"
	DriverSYCLCL = "sim-sycl-cl"
	DriverSYCLZE = "sim-sycl-ze"
)

func init() {
	drivers.Register(DriverCL, OpenCL)
	drivers.Register(DriverZE, OpenZE)
	drivers.Register(DriverSYCLCL, func() (device.API, error) { return OpenSYCL(NewSYCLOnCL()) })
	drivers.Register(DriverSYCLZE, func() (device.API, error) { return OpenSYCL(NewSYCLOnZE()) })
}

// OpenCL creates a simulated OpenCL GPU and an API on its queue.
func OpenCL() (device.API, error) {
	s := NewCL()
	api, err := cl.New(s, s.Queue)
	if err != nil {
		return nil, err
	}
	return api, nil
}

// OpenZE creates a simulated Level Zero GPU and an API on its command list.
func OpenZE() (device.API, error) {
	s := NewZE()
	api, err := ze.New(s, s, s.CommandList, s.Context, s.Device)
	if err != nil {
		return nil, err
	}
	return api, nil
}

// OpenSYCL creates an API on the queue of the simulated SYCL runtime.
func OpenSYCL(s *SYCL) (device.API, error) {
	api, err := sycl.New(s, s.Queue)
	if err != nil {
		return nil, err
	}
	return api, nil
}
