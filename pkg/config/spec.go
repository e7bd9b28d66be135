package config

import (
	"bytes"
	"io"
	"os"

	pkgerrors "github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"crane-go/pkg/crane"
	"crane-go/pkg/errors"
)

// specFile is the YAML layout of a crane description.
type specFile struct {
	MaxSpeeds    crane.Speeds     `yaml:"max_speeds"`
	UpperArm     crane.Box        `yaml:"upper_arm"`
	LowerArm     crane.Box        `yaml:"lower_arm"`
	UpperSpacer  crane.Box        `yaml:"upper_spacer"`
	LowerSpacer  crane.Cylinder   `yaml:"lower_spacer"`
	InitialState crane.JointState `yaml:"initial_state"`
}

// CraneConfig is a loaded crane description.
type CraneConfig struct {
	Spec    *crane.Spec
	Initial crane.JointState
}

// DefaultCrane returns the reference crane at its power-on state.
func DefaultCrane() *CraneConfig {
	return &CraneConfig{Spec: crane.DefaultSpec(), Initial: crane.DefaultInitialState()}
}

// LoadSpec reads a crane description from path. An empty path yields
// DefaultCrane.
func LoadSpec(path string) (*CraneConfig, error) {
	if path == "" {
		return DefaultCrane(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.ConfigFileError(path, err)
	}
	cfg, err := ParseSpec(data)
	if err != nil {
		if errors.IsConfig(err) {
			return nil, err
		}
		return nil, errors.ConfigFileError(path, err)
	}
	return cfg, nil
}

// ParseSpec decodes a YAML crane description. Fields that are not present
// keep the values of DefaultCrane; unknown fields are rejected.
func ParseSpec(data []byte) (*CraneConfig, error) {
	def := DefaultCrane()
	f := specFile{
		MaxSpeeds:    def.Spec.MaxSpeeds,
		UpperArm:     def.Spec.UpperArm,
		LowerArm:     def.Spec.LowerArm,
		UpperSpacer:  def.Spec.UpperSpacer,
		LowerSpacer:  def.Spec.LowerSpacer,
		InitialState: def.Initial,
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, pkgerrors.Wrap(err, "decode crane description")
	}

	cfg := &CraneConfig{
		Spec: &crane.Spec{
			MaxSpeeds:   f.MaxSpeeds,
			UpperArm:    f.UpperArm,
			LowerArm:    f.LowerArm,
			UpperSpacer: f.UpperSpacer,
			LowerSpacer: f.LowerSpacer,
		},
		Initial: f.InitialState,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the spec invariants and the initial state.
func (c *CraneConfig) Validate() error {
	if err := c.Spec.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrConfigValidation, "invalid crane description")
	}
	if !c.Initial.IsFinite() {
		return errors.ConfigValidationError("initial_state", "every axis must be finite")
	}
	return nil
}

// WriteSpec encodes c as YAML in the layout ParseSpec reads.
func WriteSpec(w io.Writer, c *CraneConfig) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	err := enc.Encode(specFile{
		MaxSpeeds:    c.Spec.MaxSpeeds,
		UpperArm:     c.Spec.UpperArm,
		LowerArm:     c.Spec.LowerArm,
		UpperSpacer:  c.Spec.UpperSpacer,
		LowerSpacer:  c.Spec.LowerSpacer,
		InitialState: c.Initial,
	})
	if err != nil {
		return pkgerrors.Wrap(err, "encode crane description")
	}
	return enc.Close()
}
