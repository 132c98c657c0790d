package config

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"sort"
)

type checksumHost struct {
	Host string `json:"host"`
	ID   uint32 `json:"id"`
}

type checksumPayload struct {
	ProgramMin uint32         `json:"program_min"`
	ProgramMax uint32         `json:"program_max"`
	ContextMin uint32         `json:"context_min"`
	ContextMax uint32         `json:"context_max"`
	Layout     string         `json:"layout"`
	Source     string         `json:"source,omitempty"`
	Hosts      []checksumHost `json:"hosts,omitempty"`
}

// Checksum returns a short, stable fingerprint of the settings that shape
// allocations: id ranges, default layout and node directory. Logging and
// database settings are not included.
//
// It is the first 6 hex characters of the MD5 over a canonical JSON form.
func Checksum(cfg *Config) (string, error) {
	if cfg == nil {
		return "", nil
	}
	s := &cfg.QSwitch

	hosts := make([]checksumHost, 0, len(s.Nodes.Hosts))
	for host, id := range s.Nodes.Hosts {
		hosts = append(hosts, checksumHost{Host: host, ID: id})
	}
	sort.Slice(hosts, func(i, j int) bool {
		if hosts[i].ID != hosts[j].ID {
			return hosts[i].ID < hosts[j].ID
		}
		return hosts[i].Host < hosts[j].Host
	})

	payload := checksumPayload{
		ProgramMin: s.Allocator.ProgramMin,
		ProgramMax: s.Allocator.ProgramMax,
		ContextMin: s.Allocator.ContextMin,
		ContextMax: s.Allocator.ContextMax,
		Layout:     s.Layout,
		Source:     s.Nodes.Source,
		Hosts:      hosts,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	sum := md5.Sum(b)
	hexStr := hex.EncodeToString(sum[:])
	if len(hexStr) > 6 {
		hexStr = hexStr[:6]
	}
	return hexStr, nil
}
