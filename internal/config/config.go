// Package config reads the camera file: a mapping of camera serial to stream settings,
// optionally with top-level resolution and fov defaults.
//
//	{
//	  "resolution": "1080p",
//	  "C3441234567ABC": {"port": 8554, "resolution": "720p", "fov": "WIDE"},
//	  "C3441234567XYZ": {"fov": "LINEAR"}
//	}
//
// JSON and YAML files are both accepted.
package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

const (
	keyResolution = "resolution"
	keyFOV        = "fov"
)

type Camera struct {
	Serial     string `yaml:"-" json:"serial"`
	Port       int    `yaml:"port" json:"port,omitempty"`
	Resolution string `yaml:"resolution" json:"resolution,omitempty"`
	FOV        string `yaml:"fov" json:"fov,omitempty"`
}

type File struct {
	Resolution string
	FOV        string
	Cameras    []Camera
}

func Load(location string) (*File, error) {
	b, err := os.ReadFile(location)
	if err != nil {
		return nil, fmt.Errorf("failed to read camera config %s: %w", location, err)
	}
	f, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("camera config %s: %w", location, err)
	}
	return f, nil
}

func Parse(b []byte) (*File, error) {
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode: %w", err)
	}

	f := &File{}
	for key, node := range raw {
		node := node
		switch key {
		case keyResolution:
			if err := node.Decode(&f.Resolution); err != nil {
				return nil, fmt.Errorf("default resolution: %w", err)
			}
			continue
		case keyFOV:
			if err := node.Decode(&f.FOV); err != nil {
				return nil, fmt.Errorf("default fov: %w", err)
			}
			continue
		}

		if node.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("camera %s: settings must be a mapping", key)
		}
		var cam Camera
		if err := node.Decode(&cam); err != nil {
			return nil, fmt.Errorf("camera %s: %w", key, err)
		}
		cam.Serial = key
		f.Cameras = append(f.Cameras, cam)
	}

	sort.Slice(f.Cameras, func(i, j int) bool {
		return f.Cameras[i].Serial < f.Cameras[j].Serial
	})
	for i := range f.Cameras {
		if f.Cameras[i].Resolution == "" {
			f.Cameras[i].Resolution = f.Resolution
		}
		if f.Cameras[i].FOV == "" {
			f.Cameras[i].FOV = f.FOV
		}
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate checks the file structure. Resolution and fov names are checked when a
// session is built from a camera entry.
func (f *File) Validate() error {
	if len(f.Cameras) == 0 {
		return fmt.Errorf("no cameras configured")
	}
	ports := map[int]string{}
	for _, cam := range f.Cameras {
		if len(cam.Serial) < 3 {
			return fmt.Errorf("camera %q: serial must have at least 3 characters", cam.Serial)
		}
		if cam.Port < 0 || cam.Port > 65535 {
			return fmt.Errorf("camera %s: invalid port %d", cam.Serial, cam.Port)
		}
		if cam.Port == 0 {
			continue
		}
		if other, dup := ports[cam.Port]; dup {
			return fmt.Errorf("camera %s: port %d already used by %s", cam.Serial, cam.Port, other)
		}
		ports[cam.Port] = cam.Serial
	}
	return nil
}
