// Package config loads the gatc configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Model identifies the machine family.
type Model string

const (
	ModelC1  Model = "c1"
	ModelAir Model = "air"
)

var (
	ErrUnknownModel = errors.New("unknown machine model")
	ErrInvalid      = errors.New("invalid configuration")
)

// Config is the root of the configuration file.
type Config struct {
	Machine    Machine    `yaml:"machine" json:"machine"`
	ATC        ATC        `yaml:"atc" json:"atc"`
	Coordinate Coordinate `yaml:"coordinate" json:"coordinate"`
	Controller Controller `yaml:"controller" json:"controller"`
	Store      Store      `yaml:"store" json:"store"`
	HTTP       HTTP       `yaml:"http" json:"http"`
}

// Machine describes the machine family and its optional equipment.
type Machine struct {
	Model         Model `yaml:"model" json:"model" jsonschema:"enum=c1,enum=air,default=c1"`
	ATC           bool  `yaml:"atc" json:"atc" jsonschema:"description=Automatic tool changer installed (never on the air model)"`
	Rotary        bool  `yaml:"rotary" json:"rotary" jsonschema:"description=4th axis module installed"`
	ExtendedRack  bool  `yaml:"extended_rack" json:"extended_rack" jsonschema:"description=Rack with 8 changer slots instead of 6"`
	WirelessProbe bool  `yaml:"wireless_probe" json:"wireless_probe" jsonschema:"description=Tool 0 is a battery powered probe that must be re-validated"`
	LaserModule   bool  `yaml:"laser_module" json:"laser_module"`
}

// Capabilities are the resolved machine features.
type Capabilities struct {
	Model         Model
	ATC           bool
	Rotary        bool
	ExtendedRack  bool
	WirelessProbe bool
	LaserModule   bool
}

// Capabilities resolves the configured flags against the model.
func (m Machine) Capabilities() Capabilities {
	c := Capabilities{
		Model:         m.Model,
		ATC:           m.ATC,
		Rotary:        m.Rotary,
		ExtendedRack:  m.ExtendedRack,
		WirelessProbe: m.WirelessProbe,
		LaserModule:   m.LaserModule,
	}
	if m.Model == ModelAir {
		c.ATC = false
		c.ExtendedRack = false
	}
	if !c.ATC {
		c.ExtendedRack = false
	}
	return c
}

type ATC struct {
	Homing   Homing   `yaml:"homing" json:"homing"`
	Detector Detector `yaml:"detector" json:"detector"`
	Probe    Probe    `yaml:"probe" json:"probe"`

	SafeZ       float64 `yaml:"safe_z_mm" json:"safe_z_mm"`
	SafeZEmpty  float64 `yaml:"safe_z_empty_mm" json:"safe_z_empty_mm"`
	SafeZOffset float64 `yaml:"safe_z_offset_mm" json:"safe_z_offset_mm"`
	FastZRate   float64 `yaml:"fast_z_rate_mm_m" json:"fast_z_rate_mm_m"`
	SlowZRate   float64 `yaml:"slow_z_rate_mm_m" json:"slow_z_rate_mm_m"`
	MarginRate  float64 `yaml:"margin_rate_mm_m" json:"margin_rate_mm_m"`

	// ManualToolMax is the highest tool number accepted for a tool change.
	ManualToolMax int `yaml:"manual_tool_max" json:"manual_tool_max"`

	// ToolSlots replaces the generated tool table when any entry is enabled.
	ToolSlots []ToolSlot `yaml:"tool_slots" json:"tool_slots,omitempty"`

	// ProbePosition overrides the generated tool setter position per axis.
	ProbePosition OptionalPoint `yaml:"probe_position" json:"probe_position"`

	Calibration Calibration `yaml:"calibration" json:"calibration"`
}

// Homing configures the tool clamp actuator and its endstop.
type Homing struct {
	Axis        string  `yaml:"axis" json:"axis" jsonschema:"description=Controller axis letter driving the clamp"`
	DebounceMS  int     `yaml:"debounce_ms" json:"debounce_ms"`
	MaxTravel   float64 `yaml:"max_travel_mm" json:"max_travel_mm"`
	Retract     float64 `yaml:"homing_retract_mm" json:"homing_retract_mm"`
	ActionDist  float64 `yaml:"action_mm" json:"action_mm"`
	HomingRate  float64 `yaml:"homing_rate_mm_s" json:"homing_rate_mm_s"`
	ActionRate  float64 `yaml:"action_rate_mm_s" json:"action_rate_mm_s"`
	EndstopPin  string  `yaml:"endstop_pin" json:"endstop_pin"`
	EndstopHigh bool    `yaml:"endstop_active_high" json:"endstop_active_high"`
}

// Detector configures the tool presence detector.
type Detector struct {
	Pin        string  `yaml:"pin" json:"pin"`
	DebounceMS int     `yaml:"debounce_ms" json:"debounce_ms"`
	Rate       float64 `yaml:"detect_rate_mm_s" json:"detect_rate_mm_s"`
	Travel     float64 `yaml:"detect_travel_mm" json:"detect_travel_mm"`
}

type Probe struct {
	FastRate    float64       `yaml:"fast_rate_mm_m" json:"fast_rate_mm_m"`
	SlowRate    float64       `yaml:"slow_rate_mm_m" json:"slow_rate_mm_m"`
	Retract     float64       `yaml:"retract_mm" json:"retract_mm"`
	Height      float64       `yaml:"probe_height_mm" json:"probe_height_mm"`
	TipDiameter float64       `yaml:"tip_diameter_mm" json:"tip_diameter_mm"`
	ValidWindow time.Duration `yaml:"valid_window" json:"valid_window" jsonschema:"type=string,description=How recently the wireless probe must have triggered"`
}

// Calibration configures the anchor and rotary calibration routines.
type Calibration struct {
	Approach float64 `yaml:"approach_mm" json:"approach_mm" jsonschema:"description=Distance from a reference face to start probing"`
	Travel   float64 `yaml:"travel_mm" json:"travel_mm" jsonschema:"description=Maximum probing distance past the expected face"`
	Depth    float64 `yaml:"depth_z_mm" json:"depth_z_mm" jsonschema:"description=Machine Z used while probing side faces"`
}

// ToolSlot is a single entry in the tool table override.
type ToolSlot struct {
	Index   int     `yaml:"index" json:"index"`
	Enabled bool    `yaml:"enabled" json:"enabled"`
	X       float64 `yaml:"x" json:"x"`
	Y       float64 `yaml:"y" json:"y"`
	Z       float64 `yaml:"z" json:"z"`
}

// OptionalPoint is a point where each axis may be left unset.
type OptionalPoint struct {
	X *float64 `yaml:"x,omitempty" json:"x,omitempty"`
	Y *float64 `yaml:"y,omitempty" json:"y,omitempty"`
	Z *float64 `yaml:"z,omitempty" json:"z,omitempty"`
}

type XY struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
}

type XYZ struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
	Z float64 `yaml:"z" json:"z"`
}

// Coordinate holds the reference geometry of the machine bed.
type Coordinate struct {
	Anchor1        XY      `yaml:"anchor1" json:"anchor1"`
	Anchor2Offset  XY      `yaml:"anchor2_offset" json:"anchor2_offset"`
	AnchorWidth    float64 `yaml:"anchor_width" json:"anchor_width"`
	RotationOffset XYZ     `yaml:"rotation_offset" json:"rotation_offset"`
	RotationWidth  float64 `yaml:"rotation_width" json:"rotation_width"`
	RotationAngle  float64 `yaml:"rotation_angle" json:"rotation_angle" jsonschema:"description=Rotary axis angle relative to X in degrees"`
	ToolrackOffset XY      `yaml:"toolrack_offset" json:"toolrack_offset"`
	ToolrackZ      float64 `yaml:"toolrack_z" json:"toolrack_z"`
	ToolrackStep   float64 `yaml:"toolrack_step" json:"toolrack_step"`
	Clearance      XYZ     `yaml:"clearance" json:"clearance"`
}

// Controller configures the connection to the motion controller.
type Controller struct {
	Transport      string            `yaml:"transport" json:"transport" jsonschema:"enum=serial,enum=spjs"`
	Port           string            `yaml:"port" json:"port"`
	Baud           int               `yaml:"baud" json:"baud"`
	SPJSURL        string            `yaml:"spjs_url" json:"spjs_url"`
	StatusInterval time.Duration     `yaml:"status_interval" json:"status_interval" jsonschema:"type=string"`
	LaserMode      bool              `yaml:"laser_mode" json:"laser_mode"`
	ProbePin       string            `yaml:"probe_pin" json:"probe_pin"`
	Switches       map[string]Switch `yaml:"switches" json:"switches"`
	Granularity    float64           `yaml:"level_granularity_mm" json:"level_granularity_mm"`
}

// Switch maps a named output to the lines that turn it on and off.
type Switch struct {
	On  string `yaml:"on" json:"on"`
	Off string `yaml:"off" json:"off"`
}

// Store selects the persistence backend for tool offsets.
type Store struct {
	Driver string `yaml:"driver" json:"driver" jsonschema:"enum=bolt,enum=redis,enum=memory"`
	Path   string `yaml:"path" json:"path"`
	Redis  Redis  `yaml:"redis" json:"redis"`
}

type Redis struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	Prefix   string `yaml:"prefix" json:"prefix"`
}

type HTTP struct {
	Addr string `yaml:"addr" json:"addr"`
}

// Default returns the configuration of a stock C1 with the changer installed.
func Default() *Config {
	return &Config{
		Machine: Machine{Model: ModelC1, ATC: true},
		ATC: ATC{
			Homing: Homing{
				Axis:       "C",
				DebounceMS: 1,
				MaxTravel:  8,
				Retract:    3,
				ActionDist: 1,
				HomingRate: 1,
				ActionRate: 1,
				EndstopPin: "A",
			},
			Detector: Detector{
				Pin:        "B",
				DebounceMS: 1,
				Rate:       1,
				Travel:     1,
			},
			Probe: Probe{
				FastRate:    300,
				SlowRate:    60,
				Retract:     2,
				TipDiameter: 2,
				ValidWindow: 5 * time.Second,
			},
			SafeZ:         -10,
			SafeZEmpty:    -20,
			SafeZOffset:   10,
			FastZRate:     500,
			SlowZRate:     60,
			MarginRate:    1000,
			ManualToolMax: 99,
			Calibration: Calibration{
				Approach: 10,
				Travel:   10,
				Depth:    -110,
			},
		},
		Coordinate: Coordinate{
			Anchor1:        XY{X: -359, Y: -234},
			Anchor2Offset:  XY{X: 90, Y: 45.65},
			AnchorWidth:    15,
			RotationOffset: XYZ{X: -8, Y: 37.5, Z: 22.5},
			RotationWidth:  100,
			ToolrackOffset: XY{X: 356, Y: 0},
			ToolrackZ:      -105,
			ToolrackStep:   30,
			Clearance:      XYZ{X: -75, Y: -3, Z: -3},
		},
		Controller: Controller{
			Transport:      "serial",
			Port:           "/dev/ttyUSB0",
			Baud:           115200,
			StatusInterval: 200 * time.Millisecond,
			ProbePin:       "P",
			Granularity:    1,
			Switches: map[string]Switch{
				"detector":    {On: "M8", Off: "M9"},
				"probe_laser": {On: "M7", Off: "M9"},
			},
		},
		Store: Store{
			Driver: "bolt",
			Path:   "gatc.db",
			Redis:  Redis{Addr: "localhost:6379", Prefix: "gatc:"},
		},
		HTTP: HTTP{Addr: ":9091"},
	}
}

// Load reads the file at path over the defaults. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := Parse(data, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML data into cfg and validates the result.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return cfg.Validate()
}

// Validate checks values that would make the changer unsafe to run.
func (c *Config) Validate() error {
	switch c.Machine.Model {
	case ModelC1, ModelAir:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownModel, c.Machine.Model)
	}

	var problems []string
	if c.ATC.Homing.MaxTravel <= 0 {
		problems = append(problems, "atc.homing.max_travel_mm must be positive")
	}
	if len(c.ATC.Homing.Axis) != 1 {
		problems = append(problems, "atc.homing.axis must be a single axis letter")
	}
	if c.ATC.Probe.FastRate <= 0 || c.ATC.Probe.SlowRate <= 0 {
		problems = append(problems, "atc.probe rates must be positive")
	}
	if c.ATC.ManualToolMax < 0 {
		problems = append(problems, "atc.manual_tool_max must not be negative")
	}
	if c.Coordinate.ToolrackStep <= 0 {
		problems = append(problems, "coordinate.toolrack_step must be positive")
	}
	for _, s := range c.ATC.ToolSlots {
		if s.Index < 0 {
			problems = append(problems, fmt.Sprintf("atc.tool_slots: negative index %d", s.Index))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}
