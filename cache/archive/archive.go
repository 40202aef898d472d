// Package archive reads and writes AOT archives: files bundling precompiled kernel modules, and loads them
// into a cache.AOT.
//
// The archive is encoded in the protocol buffers wire format:
//
//	Archive {
//	  1: uint64 version
//	  2: repeated Entry entries
//	}
//	Entry {
//	  1: string name           // e.g. the source file the module was compiled from
//	  2: uint64 format         // device.ModuleFormat
//	  3: uint64 device_id      // target device id, 0 for any device
//	  4: repeated string kernel_names
//	  5: bytes binary
//	}
package archive

import (
	"os"

	"github.com/gomlx/kernelrt/cache"
	"github.com/gomlx/kernelrt/device"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
	"k8s.io/klog/v2"
)

// Version of the archive format written.
const Version = 1

// AnyDevice as Entry.DeviceID means the binary is not tied to a device (e.g. SPIR-V).
const AnyDevice = 0

// Entry is one precompiled module.
type Entry struct {
	Name        string
	Format      device.ModuleFormat
	DeviceID    uint64
	KernelNames []string
	Binary      []byte
}

const (
	archiveVersionField = 1
	archiveEntryField   = 2

	entryNameField        = 1
	entryFormatField      = 2
	entryDeviceIDField    = 3
	entryKernelNamesField = 4
	entryBinaryField      = 5
)

// Marshal encodes the entries into an archive.
func Marshal(entries []Entry) []byte {
	var b []byte
	b = protowire.AppendTag(b, archiveVersionField, protowire.VarintType)
	b = protowire.AppendVarint(b, Version)
	for _, e := range entries {
		b = protowire.AppendTag(b, archiveEntryField, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalEntry(e))
	}
	return b
}

func marshalEntry(e Entry) []byte {
	var b []byte
	if e.Name != "" {
		b = protowire.AppendTag(b, entryNameField, protowire.BytesType)
		b = protowire.AppendString(b, e.Name)
	}
	b = protowire.AppendTag(b, entryFormatField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Format))
	b = protowire.AppendTag(b, entryDeviceIDField, protowire.VarintType)
	b = protowire.AppendVarint(b, e.DeviceID)
	for _, name := range e.KernelNames {
		b = protowire.AppendTag(b, entryKernelNamesField, protowire.BytesType)
		b = protowire.AppendString(b, name)
	}
	b = protowire.AppendTag(b, entryBinaryField, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Binary)
	return b
}

// Unmarshal decodes an archive. Unknown fields are skipped.
func Unmarshal(b []byte) ([]Entry, error) {
	var entries []Entry
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.WithMessage(protowire.ParseError(n), "archive: invalid tag")
		}
		b = b[n:]
		switch {
		case num == archiveVersionField && typ == protowire.VarintType:
			version, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, errors.WithMessage(protowire.ParseError(n), "archive: invalid version")
			}
			if version > Version {
				return nil, errors.Errorf("archive: version %d not supported (newest known is %d)", version, Version)
			}
			b = b[n:]
		case num == archiveEntryField && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, errors.WithMessagef(protowire.ParseError(n), "archive: invalid entry #%d", len(entries))
			}
			e, err := unmarshalEntry(raw)
			if err != nil {
				return nil, errors.WithMessagef(err, "archive: entry #%d", len(entries))
			}
			entries = append(entries, e)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, errors.WithMessagef(protowire.ParseError(n), "archive: invalid field %d", num)
			}
			b = b[n:]
		}
	}
	return entries, nil
}

func unmarshalEntry(b []byte) (e Entry, err error) {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return e, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == entryNameField && typ == protowire.BytesType:
			e.Name, n = protowire.ConsumeString(b)
		case num == entryFormatField && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			e.Format = device.ModuleFormat(v)
		case num == entryDeviceIDField && typ == protowire.VarintType:
			e.DeviceID, n = protowire.ConsumeVarint(b)
		case num == entryKernelNamesField && typ == protowire.BytesType:
			var name string
			name, n = protowire.ConsumeString(b)
			e.KernelNames = append(e.KernelNames, name)
		case num == entryBinaryField && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			e.Binary = append([]byte(nil), v...)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return e, errors.WithMessagef(protowire.ParseError(n), "field %d", num)
		}
		b = b[n:]
	}
	if e.Format != device.SPIRV && e.Format != device.Native {
		return e, errors.Errorf("unknown module format %d", int(e.Format))
	}
	return e, nil
}

// WriteFile writes the entries as an archive file.
func WriteFile(path string, entries []Entry) error {
	if err := os.WriteFile(path, Marshal(entries), 0o644); err != nil {
		return errors.Wrapf(err, "archive: failed to write %q", path)
	}
	return nil
}

// ReadFile reads an archive file.
func ReadFile(path string) ([]Entry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "archive: failed to read %q", path)
	}
	entries, err := Unmarshal(b)
	if err != nil {
		return nil, errors.WithMessagef(err, "archive: failed to parse %q", path)
	}
	return entries, nil
}

// Load builds the entries with api and registers them in aot, in archive order.
//
// Entries for another device are skipped. Entries that fail to load are logged and skipped as well: their
// kernels will be compiled at runtime instead. It returns the number of modules registered.
func Load(api device.API, entries []Entry, aot *cache.AOT) (int, error) {
	deviceID, err := api.DeviceID()
	if err != nil {
		return 0, errors.WithMessagef(err, "archive.Load: failed to query device id")
	}
	var count int
	for i, e := range entries {
		if e.DeviceID != AnyDevice && e.DeviceID != deviceID {
			klog.V(1).Infof("archive.Load: skipping entry #%d (%q) built for device 0x%x, running on 0x%x",
				i, e.Name, e.DeviceID, deviceID)
			continue
		}
		module, err := api.CreateAOTModule(e.Binary, e.Format)
		if err != nil {
			klog.Warningf("archive.Load: failed to load entry #%d (%q) on %s, its kernels will be compiled "+
				"at runtime: %v", i, e.Name, api, err)
			continue
		}
		aot.RegisterModule(module)
		klog.V(1).Infof("archive.Load: registered %q with kernels %v", e.Name, module.KernelNames())
		count++
	}
	return count, nil
}
