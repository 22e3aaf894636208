package fleet

import (
	"io"
	"io/ioutil"
	"os"

	"github.com/jd3nn1s/vanet"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Topology is the on-disk description of a fleet, listed front to back.
type Topology struct {
	Port      int           `yaml:"port"`
	Followers []FollowerDef `yaml:"followers"`
}

type FollowerDef struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
}

func LoadFile(fileName string) (*Fleet, error) {
	file, err := os.Open(fileName)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open file %s", fileName)
	}
	defer file.Close()
	return Load(file)
}

func Load(r io.Reader) (*Fleet, error) {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read fleet topology")
	}
	topology := Topology{Port: vanet.DefaultPort}
	if err := yaml.UnmarshalStrict(data, &topology); err != nil {
		return nil, errors.Wrap(err, "unable to parse fleet topology")
	}
	names := make([]string, len(topology.Followers))
	addresses := make([]string, len(topology.Followers))
	for i, def := range topology.Followers {
		names[i] = def.Name
		addresses[i] = def.Address
	}
	return Build(names, addresses, topology.Port)
}
