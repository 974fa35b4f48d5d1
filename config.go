package pathacl

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Config represents the complete pathacl configuration
type Config struct {
	Version  uint16         `json:"version" yaml:"version"`
	Rules    Rules          `json:"rules" yaml:"rules"`
	Resolver ResolverConfig `json:"resolver" yaml:"resolver"`
}

// ResolverConfig carries resolver tuning knobs.
type ResolverConfig struct {
	DecisionCache DecisionCacheConfig `json:"decision_cache" yaml:"decision_cache"`
}

// ConfigLoader loads configuration from various formats
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadBinary loads from custom binary protocol
func (l *ConfigLoader) LoadBinary(data []byte) (*Config, error) {
	r := bytes.NewReader(data)
	return decodeBinaryConfig(r)
}

// EncodeBinaryConfig encodes config to binary format
func EncodeBinaryConfig(cfg *Config) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := encodeBinaryConfig(cfg, buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ToYAML exports config to YAML
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToJSON exports config to JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// ApplyConfig applies configuration to the resolver: cache sizing first,
// then the rule document if one is present. Rule application goes through
// Reload, so a malformed document leaves the current generation serving.
func (r *Resolver) ApplyConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if cfg.Resolver.DecisionCache.NumCounters > 0 {
		if err := r.ConfigureDecisionCache(cfg.Resolver.DecisionCache); err != nil {
			return fmt.Errorf("configure decision cache: %w", err)
		}
	}
	if cfg.Rules != nil {
		return r.Reload(cfg.Rules)
	}
	return nil
}

// Binary protocol encoding/decoding
const (
	binaryMagic   = 0x5041 // "PA" for pathacl
	binaryVersion = 1
)

func encodeBinaryConfig(cfg *Config, w io.Writer) error {
	buf := &bytes.Buffer{}

	// Header: magic(2) + version(2) + config_version(2)
	binary.Write(buf, binary.LittleEndian, uint16(binaryMagic))
	binary.Write(buf, binary.LittleEndian, uint16(binaryVersion))
	binary.Write(buf, binary.LittleEndian, cfg.Version)

	// Encode sections with type tags
	writeSection(buf, 0x01, func(b *bytes.Buffer) { encodeRules(b, cfg.Rules) })
	writeSection(buf, 0x02, func(b *bytes.Buffer) { encodeResolverConfig(b, &cfg.Resolver) })

	_, err := w.Write(buf.Bytes())
	return err
}

func decodeBinaryConfig(r io.Reader) (*Config, error) {
	cfg := &Config{}

	var magic, ver, cfgVer uint16
	binary.Read(r, binary.LittleEndian, &magic)
	binary.Read(r, binary.LittleEndian, &ver)
	binary.Read(r, binary.LittleEndian, &cfgVer)

	if magic != binaryMagic {
		return nil, fmt.Errorf("invalid magic: %x", magic)
	}
	if ver != binaryVersion {
		return nil, fmt.Errorf("unsupported version: %d", ver)
	}
	cfg.Version = cfgVer

	for {
		var tag uint8
		if err := binary.Read(r, binary.LittleEndian, &tag); err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}

		var size uint32
		binary.Read(r, binary.LittleEndian, &size)
		data := make([]byte, size)
		io.ReadFull(r, data)

		switch tag {
		case 0x01:
			cfg.Rules = decodeRules(data)
		case 0x02:
			cfg.Resolver = decodeResolverConfig(data)
		}
	}

	return cfg, nil
}

func writeSection(buf *bytes.Buffer, tag uint8, fn func(*bytes.Buffer)) {
	tmp := &bytes.Buffer{}
	fn(tmp)
	binary.Write(buf, binary.LittleEndian, tag)
	binary.Write(buf, binary.LittleEndian, uint32(tmp.Len()))
	buf.Write(tmp.Bytes())
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint16(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) string {
	var l uint16
	binary.Read(r, binary.LittleEndian, &l)
	b := make([]byte, l)
	r.Read(b)
	return string(b)
}

func encodeRules(buf *bytes.Buffer, rules Rules) {
	binary.Write(buf, binary.LittleEndian, uint16(len(rules)))
	for prefix, patterns := range rules {
		writeString(buf, prefix)
		binary.Write(buf, binary.LittleEndian, uint16(len(patterns)))
		for _, p := range patterns {
			writeString(buf, p)
		}
	}
}

func decodeRules(data []byte) Rules {
	r := bytes.NewReader(data)
	var count uint16
	binary.Read(r, binary.LittleEndian, &count)
	rules := make(Rules, count)
	for i := 0; i < int(count); i++ {
		prefix := readString(r)
		var pCount uint16
		binary.Read(r, binary.LittleEndian, &pCount)
		patterns := make([]string, pCount)
		for j := range patterns {
			patterns[j] = readString(r)
		}
		rules[prefix] = patterns
	}
	return rules
}

func encodeResolverConfig(buf *bytes.Buffer, cfg *ResolverConfig) {
	binary.Write(buf, binary.LittleEndian, cfg.DecisionCache.NumCounters)
	binary.Write(buf, binary.LittleEndian, cfg.DecisionCache.MaxCost)
	binary.Write(buf, binary.LittleEndian, cfg.DecisionCache.BufferItems)
}

func decodeResolverConfig(data []byte) ResolverConfig {
	r := bytes.NewReader(data)
	cfg := ResolverConfig{}
	binary.Read(r, binary.LittleEndian, &cfg.DecisionCache.NumCounters)
	binary.Read(r, binary.LittleEndian, &cfg.DecisionCache.MaxCost)
	binary.Read(r, binary.LittleEndian, &cfg.DecisionCache.BufferItems)
	return cfg
}
